package guard

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opt-pm/pm/internal/config"
	"github.com/opt-pm/pm/internal/state"
	"github.com/opt-pm/pm/internal/store"
)

// newTestGuard wires a Guard against a fresh state manager with one
// transitioned state containing a single two-file package.
func newTestGuard(t *testing.T, opts ...Option) (*Guard, *state.Manager, *store.Store, state.State) {
	t.Helper()

	cfg := config.NewConfig(t.TempDir())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() failed: %v", err)
	}

	st, err := store.New(cfg.StoreDir)
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}

	binPath := filepath.Join(t.TempDir(), "widget-bin")
	if err := os.WriteFile(binPath, []byte("#!/bin/sh\necho widget\n"), 0755); err != nil {
		t.Fatalf("writing payload: %v", err)
	}
	binHash, err := st.Put(binPath)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	libPath := filepath.Join(t.TempDir(), "libwidget")
	if err := os.WriteFile(libPath, []byte("library contents"), 0644); err != nil {
		t.Fatalf("writing payload: %v", err)
	}
	libHash, err := st.Put(libPath)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	sm, err := state.Open(cfg, st)
	if err != nil {
		t.Fatalf("state.Open() failed: %v", err)
	}
	t.Cleanup(func() { sm.Close() })

	pkg := state.PackageManifest{
		Name:    "widget",
		Version: "1.0.0",
		Files: []state.FileEntry{
			{Path: filepath.Join("bin", "widget"), Hash: binHash, Mode: 0755},
			{Path: filepath.Join("lib", "libwidget.so"), Hash: libHash, Mode: 0644},
		},
	}
	s, err := sm.Transition(context.Background(), state.TransitionInput{Packages: []state.PackageManifest{pkg}})
	if err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}

	return New(sm, st, opts...), sm, st, *s
}

func TestVerifyCleanStateReportsNothing(t *testing.T) {
	g, _, _, s := newTestGuard(t)

	discrepancies, err := g.Verify(context.Background(), s.ID, Full)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if len(discrepancies) != 0 {
		t.Fatalf("Verify() on a freshly materialized state = %+v, want none", discrepancies)
	}
}

func TestVerifyDetectsMissingFile(t *testing.T) {
	g, sm, _, s := newTestGuard(t)

	missing := filepath.Join(sm.StateDir(s.ID), "bin", "widget")
	if err := os.Remove(missing); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	discrepancies, err := g.Verify(context.Background(), s.ID, Quick)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if len(discrepancies) != 1 || discrepancies[0].Kind != Missing {
		t.Fatalf("Verify() = %+v, want one Missing discrepancy", discrepancies)
	}
}

// TestHealMissingFileIsIdempotent is the named scenario: delete a file
// from a materialized state, run the guard with AutoHeal, confirm the
// file reappears with the correct hash, then run Verify again and
// confirm the discrepancy set is now empty.
func TestHealMissingFileIsIdempotent(t *testing.T) {
	g, sm, _, s := newTestGuard(t, WithPolicy(Policy{DiscrepancyHandling: AutoHeal, SymlinkPolicy: LenientBootstrap, LenientDirs: []string{"bin", "sbin"}}))
	ctx := context.Background()

	target := filepath.Join(sm.StateDir(s.ID), "lib", "libwidget.so")
	if err := os.Remove(target); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	remaining, err := g.Run(ctx, s.ID, Full)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("Run() left %+v unrepaired, want none", remaining)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("healed file missing: %v", err)
	}
	if string(content) != "library contents" {
		t.Errorf("healed file content = %q, want %q", content, "library contents")
	}

	second, err := g.Verify(ctx, s.ID, Full)
	if err != nil {
		t.Fatalf("second Verify() failed: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second Verify() = %+v, want empty (healing must be idempotent)", second)
	}
}

func TestHealCorruptedFileOverwritesFromStore(t *testing.T) {
	g, sm, _, s := newTestGuard(t, WithPolicy(Policy{DiscrepancyHandling: AutoHeal}))
	ctx := context.Background()

	target := filepath.Join(sm.StateDir(s.ID), "lib", "libwidget.so")
	if err := os.Remove(target); err != nil {
		t.Fatalf("removing file: %v", err)
	}
	if err := os.WriteFile(target, []byte("tampered"), 0644); err != nil {
		t.Fatalf("writing tampered content: %v", err)
	}

	discrepancies, err := g.Verify(ctx, s.ID, Full)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if len(discrepancies) != 1 || discrepancies[0].Kind != Corrupted {
		t.Fatalf("Verify() = %+v, want one Corrupted discrepancy", discrepancies)
	}

	if err := g.Heal(ctx, s.ID, discrepancies); err != nil {
		t.Fatalf("Heal() failed: %v", err)
	}

	content, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading healed file: %v", err)
	}
	if string(content) != "library contents" {
		t.Errorf("healed content = %q, want original", content)
	}
}

func TestVerifyExtraFileHonorsUserFilePolicy(t *testing.T) {
	g, sm, _, s := newTestGuard(t, WithPolicy(Policy{DiscrepancyHandling: AutoHeal, UserFilePolicy: Remove}))
	ctx := context.Background()

	extra := filepath.Join(sm.StateDir(s.ID), "etc", "widget.conf")
	if err := os.MkdirAll(filepath.Dir(extra), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(extra, []byte("user edits"), 0644); err != nil {
		t.Fatalf("writing extra file: %v", err)
	}

	discrepancies, err := g.Verify(ctx, s.ID, Quick)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if len(discrepancies) != 1 || discrepancies[0].Kind != Extra {
		t.Fatalf("Verify() = %+v, want one Extra discrepancy", discrepancies)
	}

	if err := g.Heal(ctx, s.ID, discrepancies); err != nil {
		t.Fatalf("Heal() failed: %v", err)
	}
	if _, err := os.Stat(extra); !os.IsNotExist(err) {
		t.Errorf("expected extra file to be removed under UserFilePolicy Remove, stat err = %v", err)
	}
}

func TestVerifyExtraFilePreservedByDefault(t *testing.T) {
	g, sm, _, s := newTestGuard(t) // DefaultPolicy: UserFilePolicy = Preserve
	ctx := context.Background()

	extra := filepath.Join(sm.StateDir(s.ID), "etc", "widget.conf")
	if err := os.MkdirAll(filepath.Dir(extra), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(extra, []byte("user edits"), 0644); err != nil {
		t.Fatalf("writing extra file: %v", err)
	}

	discrepancies, err := g.Verify(ctx, s.ID, Quick)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if err := g.Heal(ctx, s.ID, discrepancies); err != nil {
		t.Fatalf("Heal() failed: %v", err)
	}
	if _, err := os.Stat(extra); err != nil {
		t.Errorf("expected extra file to survive Preserve policy, stat err = %v", err)
	}
}

func TestRunFailFastReturnsErrorWithoutHealing(t *testing.T) {
	g, sm, _, s := newTestGuard(t, WithPolicy(Policy{DiscrepancyHandling: FailFast}))
	ctx := context.Background()

	target := filepath.Join(sm.StateDir(s.ID), "bin", "widget")
	if err := os.Remove(target); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	discrepancies, err := g.Run(ctx, s.ID, Quick)
	if err == nil {
		t.Fatal("expected Run() to fail under FailFast policy")
	}
	if len(discrepancies) != 1 {
		t.Fatalf("Run() discrepancies = %+v, want one", discrepancies)
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("FailFast must not attempt repair")
	}
}

func TestVerifySymlinkMismatchDetectedAndRetargeted(t *testing.T) {
	cfg := config.NewConfig(t.TempDir())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() failed: %v", err)
	}
	st, err := store.New(cfg.StoreDir)
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	sm, err := state.Open(cfg, st)
	if err != nil {
		t.Fatalf("state.Open() failed: %v", err)
	}
	t.Cleanup(func() { sm.Close() })

	pkg := state.PackageManifest{
		Name:    "widget",
		Version: "1.0.0",
		Files: []state.FileEntry{
			{Path: filepath.Join("bin", "widget"), SymlinkTarget: "../libexec/widget/widget"},
		},
	}
	s, err := sm.Transition(context.Background(), state.TransitionInput{Packages: []state.PackageManifest{pkg}})
	if err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}

	g := New(sm, st, WithPolicy(Policy{DiscrepancyHandling: AutoHeal, SymlinkPolicy: Strict}))
	ctx := context.Background()

	link := filepath.Join(sm.StateDir(s.ID), "bin", "widget")
	if err := os.Remove(link); err != nil {
		t.Fatalf("removing symlink: %v", err)
	}
	if err := os.Symlink("../libexec/widget/wrong-target", link); err != nil {
		t.Fatalf("creating wrong symlink: %v", err)
	}

	discrepancies, err := g.Verify(ctx, s.ID, Quick)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if len(discrepancies) != 1 || discrepancies[0].Kind != WrongSymlinkTarget {
		t.Fatalf("Verify() = %+v, want one WrongSymlinkTarget discrepancy", discrepancies)
	}

	if err := g.Heal(ctx, s.ID, discrepancies); err != nil {
		t.Fatalf("Heal() failed: %v", err)
	}
	got, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink() failed: %v", err)
	}
	if got != "../libexec/widget/widget" {
		t.Errorf("retargeted symlink = %q, want %q", got, "../libexec/widget/widget")
	}
}

func TestApplyLegacyFieldsCollapsesBooleans(t *testing.T) {
	truth, falsehood := true, false
	p := Policy{FailOnDiscrepancy: &truth, PreserveUserFiles: &falsehood}.ApplyLegacyFields()

	if p.DiscrepancyHandling != FailFast {
		t.Errorf("DiscrepancyHandling = %v, want FailFast", p.DiscrepancyHandling)
	}
	if p.UserFilePolicy != Remove {
		t.Errorf("UserFilePolicy = %v, want Remove", p.UserFilePolicy)
	}
	if p.FailOnDiscrepancy != nil || p.PreserveUserFiles != nil {
		t.Error("legacy fields should be cleared after ApplyLegacyFields")
	}

	auto := true
	p2 := Policy{AutoHeal: &auto}.ApplyLegacyFields()
	if p2.DiscrepancyHandling != AutoHeal {
		t.Errorf("DiscrepancyHandling = %v, want AutoHeal", p2.DiscrepancyHandling)
	}
}
