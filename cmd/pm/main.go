package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opt-pm/pm/internal/config"
	"github.com/opt-pm/pm/internal/guard"
	"github.com/opt-pm/pm/internal/install"
	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/registryindex"
	"github.com/opt-pm/pm/internal/state"
	"github.com/opt-pm/pm/internal/store"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
)

var globalCtx context.Context
var globalCancel context.CancelFunc

var rootCmd = &cobra.Command{
	Use:   "pm",
	Short: "A source-building package manager",
	Long: `pm resolves dependency graphs, builds packages from source, and
installs the result into a content-addressed, transactionally-versioned
store with automatic rollback on verification failure.`,
	PersistentPreRun: initLogger,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "show verbose output")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "show debug output")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(listStatesCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(buildCmd)
}

func main() {
	globalCtx, globalCancel = context.WithCancel(context.Background())
	defer globalCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nreceived interrupt, canceling...")
		globalCancel()
	}()

	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}

func initLogger(cmd *cobra.Command, args []string) {
	level := slog.LevelWarn
	switch {
	case debugFlag:
		level = slog.LevelDebug
	case verboseFlag:
		level = slog.LevelInfo
	case quietFlag:
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log.SetDefault(log.New(handler))
}

// openInstaller wires an Installer against $PM_HOME, the same
// collaborators every subcommand needs: the content store, the state
// engine, the verification guard, and the local registry index cache.
// No ArtifactFetcher is configured — the remote registry/artifact
// transfer protocol is out of scope for this module, so `pm install
// <name>` against the index will fail with a clear error unless a
// caller-supplied fetcher is wired in by an embedding program.
func openInstaller(level guard.VerificationLevel) (*install.Installer, func(), error) {
	cfg, err := config.DefaultConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}

	st, err := store.New(cfg.StoreDir)
	if err != nil {
		return nil, nil, err
	}

	sm, err := state.Open(cfg, st)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { sm.Close() }

	g := guard.New(sm, st)

	idxCache := registryindex.NewCache(cfg.IndexCacheDir, config.GetIndexCacheTTL())
	idx := registryindex.NewIndex(idxCache)

	installCfg := install.DefaultConfig()
	installCfg.VerificationLevel = level

	in := install.New(installCfg, idx, sm, st, g)
	return in, closeFn, nil
}

func verificationLevelFromFlag(s string) (guard.VerificationLevel, error) {
	switch s {
	case "quick":
		return guard.Quick, nil
	case "standard", "":
		return guard.Standard, nil
	case "full":
		return guard.Full, nil
	default:
		return 0, fmt.Errorf("unknown verification level %q (want quick, standard, or full)", s)
	}
}
