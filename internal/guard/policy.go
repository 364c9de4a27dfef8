// Package guard reconciles a state's recorded package manifests against
// what is actually materialized on disk, reports the difference as a set
// of Discrepancies, and — when policy allows — heals them back into
// agreement without touching the recipe or build system again.
package guard

// DiscrepancyKind classifies one way the live filesystem can diverge from
// a state's recorded manifests.
type DiscrepancyKind int

const (
	// Missing means a manifest-recorded file is absent on disk.
	Missing DiscrepancyKind = iota
	// Extra means a file exists on disk under the state root but is not
	// recorded in any package manifest.
	Extra
	// Corrupted means a recorded file exists but its content hash no
	// longer matches the manifest.
	Corrupted
	// WrongSymlinkTarget means a recorded symlink exists but points
	// somewhere other than its manifest target.
	WrongSymlinkTarget
	// Orphaned means a file is recorded in a manifest whose package has
	// since been removed from the state's package list, but the file
	// itself was never cleaned up.
	Orphaned
)

func (k DiscrepancyKind) String() string {
	switch k {
	case Missing:
		return "missing"
	case Extra:
		return "extra"
	case Corrupted:
		return "corrupted"
	case WrongSymlinkTarget:
		return "wrong_symlink_target"
	case Orphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Discrepancy is one divergence between a state's manifests and disk.
type Discrepancy struct {
	Kind     DiscrepancyKind
	Path     string // relative to the state root
	Expected string
	Actual   string
}

// DiscrepancyHandling governs what Verify's caller should do once
// discrepancies are found.
type DiscrepancyHandling int

const (
	// FailFast returns an error as soon as any discrepancy is found,
	// without attempting repair.
	FailFast DiscrepancyHandling = iota
	// ReportOnly returns the discrepancy set and takes no action.
	ReportOnly
	// AutoHeal repairs every discrepancy it can and reports what's left.
	AutoHeal
	// AutoHealOrFail repairs what it can and returns an error if any
	// discrepancy remains unrepaired afterward.
	AutoHealOrFail
)

func (h DiscrepancyHandling) String() string {
	switch h {
	case FailFast:
		return "fail_fast"
	case ReportOnly:
		return "report_only"
	case AutoHeal:
		return "auto_heal"
	case AutoHealOrFail:
		return "auto_heal_or_fail"
	default:
		return "unknown"
	}
}

// SymlinkPolicy governs how strictly Verify treats symlink discrepancies.
type SymlinkPolicy int

const (
	// Strict treats every symlink discrepancy like any other.
	Strict SymlinkPolicy = iota
	// LenientBootstrap tolerates symlink discrepancies only under the
	// configured LenientDirs allow-list (typically <live>/bin and
	// <live>/sbin, which may be populated by a separate wrapper-linking
	// step pm does not fully control during early bootstrap).
	LenientBootstrap
	// LenientAll tolerates symlink discrepancies anywhere.
	LenientAll
	// Ignore skips symlink verification entirely.
	Ignore
)

func (p SymlinkPolicy) String() string {
	switch p {
	case Strict:
		return "strict"
	case LenientBootstrap:
		return "lenient_bootstrap"
	case LenientAll:
		return "lenient_all"
	case Ignore:
		return "ignore"
	default:
		return "unknown"
	}
}

// UserFilePolicy governs what Heal does with files present on disk but
// absent from every package manifest.
type UserFilePolicy int

const (
	// Preserve leaves extra files untouched.
	Preserve UserFilePolicy = iota
	// Remove deletes extra files.
	Remove
	// Backup moves extra files aside instead of deleting them.
	Backup
)

func (p UserFilePolicy) String() string {
	switch p {
	case Preserve:
		return "preserve"
	case Remove:
		return "remove"
	case Backup:
		return "backup"
	default:
		return "unknown"
	}
}

// OrphanedFileAction governs what Heal does with tracked-but-unreferenced
// files — an independent sub-policy from UserFilePolicy because an
// orphaned file was once legitimately installed, unlike a file a user
// dropped in by hand.
type OrphanedFileAction int

const (
	OrphanedRemove OrphanedFileAction = iota
	OrphanedPreserve
	OrphanedBackup
)

func (a OrphanedFileAction) String() string {
	switch a {
	case OrphanedRemove:
		return "remove"
	case OrphanedPreserve:
		return "preserve"
	case OrphanedBackup:
		return "backup"
	default:
		return "unknown"
	}
}

// VerificationLevel controls how thoroughly Verify checks recorded files.
type VerificationLevel int

const (
	// Quick checks only that every recorded file exists.
	Quick VerificationLevel = iota
	// Standard additionally hashes a spot-checked sample of files.
	Standard
	// Full hashes every recorded file.
	Full
)

func (l VerificationLevel) String() string {
	switch l {
	case Quick:
		return "quick"
	case Standard:
		return "standard"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// Policy bundles the four independently configurable dimensions governing
// verification and healing. It collapses what the legacy configuration
// format split into two overlapping sections (one for "verification", one
// for "guard") into a single type, since both named the same four
// dimensions and differed only in their on-disk TOML layout and defaults.
type Policy struct {
	DiscrepancyHandling DiscrepancyHandling
	SymlinkPolicy       SymlinkPolicy
	// LenientDirs is the allow-list SymlinkPolicy LenientBootstrap
	// consults, as paths relative to the state root.
	LenientDirs        []string
	UserFilePolicy     UserFilePolicy
	OrphanedFileAction OrphanedFileAction
	// OrphanedBackupDir receives files removed under an OrphanedBackup or
	// Backup disposition. Relative to the state root if not absolute.
	OrphanedBackupDir string

	// Legacy boolean fields from an older configuration format. Non-nil
	// values here are collapsed into the enums above by ApplyLegacyFields
	// and then cleared; new code should set the enums directly.
	FailOnDiscrepancy *bool
	AutoHeal          *bool
	PreserveUserFiles *bool
}

// DefaultPolicy returns pm's default verification and healing policy:
// report discrepancies without touching disk, tolerate symlink drift only
// under the live bin/sbin bootstrap directories, and preserve anything
// pm doesn't recognize.
func DefaultPolicy() Policy {
	return Policy{
		DiscrepancyHandling: ReportOnly,
		SymlinkPolicy:       LenientBootstrap,
		LenientDirs:         []string{"bin", "sbin"},
		UserFilePolicy:      Preserve,
		OrphanedFileAction:  OrphanedPreserve,
	}
}

// ApplyLegacyFields migrates the deprecated boolean flags into the enum
// fields they replace, mirroring the legacy configuration format's own
// migration: fail_on_discrepancy maps to FailFast/ReportOnly,
// auto_heal (true) overrides that to AutoHeal, and preserve_user_files
// maps to UserFilePolicy's Preserve/Remove. It is a no-op once the legacy
// fields are nil, so calling it twice is harmless.
func (p Policy) ApplyLegacyFields() Policy {
	if p.FailOnDiscrepancy != nil {
		if *p.FailOnDiscrepancy {
			p.DiscrepancyHandling = FailFast
		} else {
			p.DiscrepancyHandling = ReportOnly
		}
	}
	if p.AutoHeal != nil && *p.AutoHeal {
		p.DiscrepancyHandling = AutoHeal
	}
	if p.PreserveUserFiles != nil {
		if *p.PreserveUserFiles {
			p.UserFilePolicy = Preserve
		} else {
			p.UserFilePolicy = Remove
		}
	}
	p.FailOnDiscrepancy = nil
	p.AutoHeal = nil
	p.PreserveUserFiles = nil
	return p
}
