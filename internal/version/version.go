// Package version implements the version constraint grammar pm's resolver
// matches package requirements against: exact, comparison, and
// "compatible release" (~=) constraints, joined by commas into a
// VersionSpec.
package version

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// Version wraps semver.Version so callers outside this package never import
// the comparison library directly.
type Version struct {
	v *semver.Version
}

// Parse parses a semantic version string such as "1.2.3" or "2.0.0-rc.1".
func Parse(s string) (Version, error) {
	v, err := semver.NewVersion(strings.TrimSpace(s))
	if err != nil {
		return Version{}, pmerrors.Wrap(pmerrors.KindInvalidInput, "version.Parse", err, "invalid version %q", s)
	}
	return Version{v: v}, nil
}

// MustParse parses s and panics on error. Intended for constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	if v.v == nil {
		return "0.0.0"
	}
	return v.v.String()
}

// Major, Minor, and Patch return the respective numeric components.
func (v Version) Major() uint64 { return v.v.Major() }
func (v Version) Minor() uint64 { return v.v.Minor() }
func (v Version) Patch() uint64 { return v.v.Patch() }

// Compare returns -1, 0, or 1 if v is less than, equal to, or greater than other.
func (v Version) Compare(other Version) int {
	return v.v.Compare(other.v)
}

func (v Version) LessThan(other Version) bool    { return v.Compare(other) < 0 }
func (v Version) GreaterThan(other Version) bool { return v.Compare(other) > 0 }
func (v Version) Equal(other Version) bool       { return v.Compare(other) == 0 }

// Op is the comparison operator of a single VersionConstraint.
type Op int

const (
	OpExact Op = iota
	OpGreaterEqual
	OpLessEqual
	OpGreater
	OpLess
	OpCompatible // ~=
	OpNotEqual
)

func (o Op) String() string {
	switch o {
	case OpExact:
		return "=="
	case OpGreaterEqual:
		return ">="
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpLess:
		return "<"
	case OpCompatible:
		return "~="
	case OpNotEqual:
		return "!="
	default:
		return "?"
	}
}

// Constraint is a single operator/version pair, e.g. ">=1.2.0" or "~=2.1.0".
type Constraint struct {
	Op      Op
	Version Version
}

// Matches reports whether v satisfies this single constraint.
func (c Constraint) Matches(v Version) bool {
	switch c.Op {
	case OpExact:
		return v.Equal(c.Version)
	case OpGreaterEqual:
		return v.Compare(c.Version) >= 0
	case OpLessEqual:
		return v.Compare(c.Version) <= 0
	case OpGreater:
		return v.Compare(c.Version) > 0
	case OpLess:
		return v.Compare(c.Version) < 0
	case OpNotEqual:
		return !v.Equal(c.Version)
	case OpCompatible:
		// ~=X.Y.Z means version >= X.Y.Z within the same major.minor.
		return v.Compare(c.Version) >= 0 &&
			v.Major() == c.Version.Major() &&
			v.Minor() == c.Version.Minor()
	default:
		return false
	}
}

func (c Constraint) String() string {
	return c.Op.String() + c.Version.String()
}

var ops = []struct {
	prefix string
	op     Op
}{
	{"==", OpExact},
	{">=", OpGreaterEqual},
	{"<=", OpLessEqual},
	{"!=", OpNotEqual},
	{"~=", OpCompatible},
	{">", OpGreater},
	{"<", OpLess},
}

func parseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	for _, o := range ops {
		if strings.HasPrefix(s, o.prefix) {
			versionStr := strings.TrimSpace(s[len(o.prefix):])
			v, err := Parse(versionStr)
			if err != nil {
				return Constraint{}, err
			}
			return Constraint{Op: o.op, Version: v}, nil
		}
	}
	return Constraint{}, pmerrors.New(pmerrors.KindInvalidInput, "version.parseConstraint",
		"invalid constraint %q: expected one of ==, >=, <=, >, <, ~=, !=", s)
}

// Spec is a conjunction of Constraints, e.g. ">=1.2,<2.0,!=1.5.0". An empty
// Spec (zero value, or parsed from "" or "*") matches any version.
type Spec struct {
	constraints []Constraint
}

// Single builds a Spec from one constraint.
func Single(c Constraint) Spec {
	return Spec{constraints: []Constraint{c}}
}

// Exact builds a Spec requiring an exact version match.
func Exact(v Version) Spec {
	return Single(Constraint{Op: OpExact, Version: v})
}

// ParseSpec parses a comma-separated list of constraints. An empty string or
// "*" parses to a Spec matching any version.
func ParseSpec(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return Spec{}, nil
	}

	parts := strings.Split(s, ",")
	constraints := make([]Constraint, 0, len(parts))
	for _, part := range parts {
		c, err := parseConstraint(part)
		if err != nil {
			return Spec{}, err
		}
		constraints = append(constraints, c)
	}

	return Spec{constraints: constraints}, nil
}

// Matches reports whether v satisfies every constraint in the spec. A Spec
// with no constraints matches anything.
func (s Spec) Matches(v Version) bool {
	for _, c := range s.constraints {
		if !c.Matches(v) {
			return false
		}
	}
	return true
}

// Constraints returns the spec's constraints in parse order.
func (s Spec) Constraints() []Constraint {
	return s.constraints
}

// IsAny reports whether the spec has no constraints and matches any version.
func (s Spec) IsAny() bool {
	return len(s.constraints) == 0
}

func (s Spec) String() string {
	if len(s.constraints) == 0 {
		return "*"
	}
	parts := make([]string, len(s.constraints))
	for i, c := range s.constraints {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

// Sort sorts versions in ascending order.
func Sort(versions []Version) {
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Compare(versions[j]) < 0
	})
}

// Max returns the highest version in versions, and false if versions is empty.
func Max(versions []Version) (Version, bool) {
	if len(versions) == 0 {
		return Version{}, false
	}
	max := versions[0]
	for _, v := range versions[1:] {
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max, true
}

// FilterMatching returns the subset of versions satisfying spec, in the
// order given.
func FilterMatching(versions []Version, spec Spec) []Version {
	var out []Version
	for _, v := range versions {
		if spec.Matches(v) {
			out = append(out, v)
		}
	}
	return out
}

// ResolverErrorType classifies a ResolverError raised while discovering or
// validating versions from an external source (a registry, a tap, a remote
// git ref listing).
type ResolverErrorType int

const (
	ErrTypeNetwork ResolverErrorType = iota
	ErrTypeNotFound
	ErrTypeValidation
	ErrTypeUnknownSource
)

// ResolverError is a structured error raised while resolving a version
// against an external source, carrying enough context for internal/errfmt
// to produce actionable suggestions.
type ResolverError struct {
	Type    ResolverErrorType
	Source  string
	Message string
}

func (e *ResolverError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s", e.Source, e.Message)
	}
	return e.Message
}
