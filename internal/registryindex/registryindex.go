// Package registryindex caches the registry's per-package version and
// dependency metadata on disk, and adapts that cache into the
// internal/resolver.Index interface the solver consults.
package registryindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/resolver"
	"github.com/opt-pm/pm/internal/version"
)

// DependencyRecord is the on-disk form of a single dependency requirement.
type DependencyRecord struct {
	Name string `json:"name"`
	Spec string `json:"spec"`
}

// VersionRecord is the on-disk form of one published version of a package.
type VersionRecord struct {
	Version      string             `json:"version"`
	Dependencies []DependencyRecord `json:"dependencies,omitempty"`
}

// PackageRecord is the on-disk form of everything the index knows about one
// package name.
type PackageRecord struct {
	Name     string          `json:"name"`
	Versions []VersionRecord `json:"versions"`
}

// Cache is a file-based cache of PackageRecords, one JSON file per package
// name, with an ETag sidecar for conditional refresh. Every read is
// tolerant of a missing file: a cache miss is not an error.
type Cache struct {
	dir string
	ttl time.Duration
}

// NewCache returns a Cache rooted at dir (typically
// Config.IndexCacheDir) with entries considered stale after ttl.
func NewCache(dir string, ttl time.Duration) *Cache {
	return &Cache{dir: dir, ttl: ttl}
}

func (c *Cache) recordPath(name string) string {
	return filepath.Join(c.dir, shard(name), name+".json")
}

func (c *Cache) etagPath(name string) string {
	return filepath.Join(c.dir, shard(name), name+".etag")
}

func shard(name string) string {
	if name == "" {
		return "_"
	}
	return strings.ToLower(name[:1])
}

// Load reads the cached record for name. The second return value is false
// (with a nil error) if nothing is cached yet; a corrupted cache file is
// reported as an error rather than silently treated as a miss, since that
// indicates disk corruption the guard should know about.
func (c *Cache) Load(name string) (*PackageRecord, bool, error) {
	data, err := os.ReadFile(c.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, pmerrors.Wrap(pmerrors.KindTransient, "registryindex.Load", err, "reading index cache for %s", name)
	}

	var rec PackageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, pmerrors.Wrap(pmerrors.KindIntegrity, "registryindex.Load", err, "parsing index cache for %s", name)
	}
	return &rec, true, nil
}

// Save writes rec for name atomically: write to a temp file in the same
// directory, then rename over the final path.
func (c *Cache) Save(name string, rec *PackageRecord) error {
	path := c.recordPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "registryindex.Save", err, "creating index cache directory")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindInternal, "registryindex.Save", err, "marshaling index record for %s", name)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "registryindex.Save", err, "writing index cache for %s", name)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return pmerrors.Wrap(pmerrors.KindTransient, "registryindex.Save", err, "renaming index cache for %s", name)
	}
	return nil
}

// ETag returns the cached ETag for name, and false if none is stored.
func (c *Cache) ETag(name string) (string, bool) {
	data, err := os.ReadFile(c.etagPath(name))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// SaveETag stores etag for name, atomically.
func (c *Cache) SaveETag(name, etag string) error {
	path := c.etagPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "registryindex.SaveETag", err, "creating index cache directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(etag), 0644); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "registryindex.SaveETag", err, "writing etag for %s", name)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return pmerrors.Wrap(pmerrors.KindTransient, "registryindex.SaveETag", err, "renaming etag for %s", name)
	}
	return nil
}

// Age returns how long ago name's record was saved, and false if nothing
// is cached.
func (c *Cache) Age(name string) (time.Duration, bool) {
	info, err := os.Stat(c.recordPath(name))
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}

// IsStale reports whether name's cached record is missing or older than
// the cache's configured TTL.
func (c *Cache) IsStale(name string) bool {
	age, ok := c.Age(name)
	if !ok {
		return true
	}
	return age >= c.ttl
}

// Clear removes every cached record and ETag.
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "registryindex.Clear", err, "clearing index cache")
	}
	return nil
}

// Index adapts a Cache into resolver.Index, translating the on-disk
// string-keyed records into resolver.PackageMeta values. It never reaches
// out to the network itself; populating the cache is the caller's job
// (fetch the registry's listing, call Save).
type Index struct {
	cache *Cache
}

// NewIndex wraps cache as a resolver.Index.
func NewIndex(cache *Cache) *Index {
	return &Index{cache: cache}
}

// Versions implements resolver.Index. A cache miss returns an empty,
// non-error result, matching spec.md's "tolerant of missing files" index
// cache contract; resolver.Solve treats an empty result as UnknownPackage.
func (i *Index) Versions(name string) ([]resolver.PackageMeta, error) {
	rec, found, err := i.cache.Load(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	out := make([]resolver.PackageMeta, 0, len(rec.Versions))
	for _, vr := range rec.Versions {
		v, err := version.Parse(vr.Version)
		if err != nil {
			return nil, pmerrors.Wrap(pmerrors.KindIntegrity, "registryindex.Versions", err, "invalid cached version %q for %s", vr.Version, name)
		}

		deps := make([]resolver.Requirement, 0, len(vr.Dependencies))
		for _, d := range vr.Dependencies {
			spec, err := version.ParseSpec(d.Spec)
			if err != nil {
				return nil, pmerrors.Wrap(pmerrors.KindIntegrity, "registryindex.Versions", err, "invalid cached dependency spec %q for %s", d.Spec, name)
			}
			deps = append(deps, resolver.Requirement{Name: d.Name, Spec: spec})
		}

		out = append(out, resolver.PackageMeta{Version: v, Dependencies: deps})
	}
	return out, nil
}
