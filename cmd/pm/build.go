package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/opt-pm/pm/internal/builder"
	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/recipe"
)

var (
	buildWorkDir     string
	buildLivePrefix  string
	buildOutputDir   string
	buildJobs        int
	buildSourceEpoch int64
)

var buildCmd = &cobra.Command{
	Use:   "build <recipe-result.json>",
	Short: "Build an already-evaluated recipe result into a .sp archive",
	Long: `build reads a JSON-encoded RecipeResult — the metadata and
ordered BuildStep list the out-of-scope recipe evaluator produces — and
runs it through the full build pipeline: source acquisition, the named
build-system driver, install-path patching, SBOM generation, and
packaging.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rr, err := loadRecipeResult(args[0])
		if err != nil {
			return err
		}

		workDir := buildWorkDir
		if workDir == "" {
			dir, err := os.MkdirTemp("", "pm-build-*")
			if err != nil {
				return pmerrors.Wrap(pmerrors.KindTransient, "cmd.build", err, "creating work directory")
			}
			defer os.RemoveAll(dir)
			workDir = dir
		}

		cfg := builder.Config{
			WorkDir:          workDir,
			StagingDir:       filepath.Join(workDir, "stage"),
			LivePrefix:       buildLivePrefix,
			ArchiveOutputDir: buildOutputDir,
			Jobs:             buildJobs,
			SourceDateEpoch:  sourceEpochOrNow(buildSourceEpoch),
		}

		b := builder.New()
		result, err := b.Build(globalCtx, rr, cfg)
		if err != nil {
			return err
		}

		fmt.Printf("built %s@%s -> %s (%s)\n", rr.Name, rr.Version, result.ArchivePath, result.ArchiveHash)
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildWorkDir, "work-dir", "", "scratch build directory (default: a temporary directory, removed after the build)")
	buildCmd.Flags().StringVar(&buildLivePrefix, "live-prefix", "/opt/pm/live", "prefix binaries will run from once installed")
	buildCmd.Flags().StringVar(&buildOutputDir, "output-dir", ".", "directory to write the packaged .sp archive to")
	buildCmd.Flags().IntVar(&buildJobs, "jobs", 1, "build parallelism passed to build-system drivers")
	buildCmd.Flags().Int64Var(&buildSourceEpoch, "source-date-epoch", 0, "Unix timestamp pinning SBOM/archive output for reproducibility (default: now)")
}

func loadRecipeResult(path string) (recipe.RecipeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return recipe.RecipeResult{}, pmerrors.Wrap(pmerrors.KindNotFound, "cmd.build", err, "reading %s", path)
	}
	var rr recipe.RecipeResult
	if err := json.Unmarshal(data, &rr); err != nil {
		return recipe.RecipeResult{}, pmerrors.Wrap(pmerrors.KindInvalidInput, "cmd.build", err, "parsing recipe result %s", path)
	}
	return rr, nil
}

func sourceEpochOrNow(epoch int64) int64 {
	if epoch != 0 {
		return epoch
	}
	return time.Now().Unix()
}
