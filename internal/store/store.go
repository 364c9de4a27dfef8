// Package store implements the content-addressed object store that backs
// every installed package archive: objects are named by their blake3 hash,
// hard-linked into live prefixes, and garbage-collected once no retained
// state references them.
package store

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"lukechampine.com/blake3"

	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/pmerrors"
)

// Hash is a blake3 digest identifying an object in the store.
type Hash [32]byte

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalJSON renders the hash as its hex string, so manifests that embed
// a Hash serialize readably instead of as a raw byte array.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON parses the hex string form written by MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a hex-encoded blake3 digest.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, pmerrors.Wrap(pmerrors.KindInvalidInput, "store.ParseHash", err, "invalid hash %q", s)
	}
	if len(b) != len(Hash{}) {
		return Hash{}, pmerrors.New(pmerrors.KindInvalidInput, "store.ParseHash", "hash %q has %d bytes, want %d", s, len(b), len(Hash{}))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger overrides the store's logger. Defaults to log.Default().
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a content-addressed object store rooted at a single directory.
type Store struct {
	root   string
	logger log.Logger
}

// New returns a Store rooted at dir. The directory is created if absent.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "store.New", err, "creating store root %s", dir)
	}

	s := &Store{root: dir, logger: log.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the store's backing directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) objectPath(h Hash) string {
	return filepath.Join(s.root, h.String())
}

// Exists reports whether an object with the given hash is present in the store.
func (s *Store) Exists(h Hash) bool {
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// Put streams archivePath's contents through a blake3 hasher while copying
// it into a temp file inside the store root, then atomically renames the
// temp file to its content-addressed name. If an object with the resulting
// hash already exists, the temp file is discarded and the existing object
// is kept (first writer wins; content is identical by construction).
func (s *Store) Put(archivePath string) (Hash, error) {
	src, err := os.Open(archivePath)
	if err != nil {
		return Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "store.Put", err, "opening %s", archivePath)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "store.Put", err, "creating temp file")
	}
	tmpPath := tmp.Name()
	removeTmp := true
	defer func() {
		if removeTmp {
			os.Remove(tmpPath)
		}
	}()

	hasher := blake3.New(32, nil)
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), src); err != nil {
		tmp.Close()
		return Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "store.Put", err, "copying %s into store", archivePath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "store.Put", err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "store.Put", err, "closing temp file")
	}

	var h Hash
	copy(h[:], hasher.Sum(nil))

	dest := s.objectPath(h)
	if _, err := os.Stat(dest); err == nil {
		s.logger.Debug("object already present", "hash", h.String())
		return h, nil
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return Hash{}, pmerrors.Wrap(pmerrors.KindTransient, "store.Put", err, "renaming into store")
	}
	removeTmp = false

	s.logger.Info("stored object", "hash", h.String(), "source", archivePath)
	return h, nil
}

// LinkInto hard-links the object named by h to dest. If dest's filesystem
// differs from the store's (EXDEV), it falls back to a streamed copy
// followed by fsync.
func (s *Store) LinkInto(h Hash, dest string) error {
	if !s.Exists(h) {
		return pmerrors.New(pmerrors.KindNotFound, "store.LinkInto", "object %s not in store", h)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "store.LinkInto", err, "creating destination directory")
	}

	src := s.objectPath(h)
	err := os.Link(src, dest)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		return copyFile(src, dest)
	}

	return pmerrors.Wrap(pmerrors.KindTransient, "store.LinkInto", err, "linking %s to %s", h, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "store.copyFile", err, "opening source")
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "store.copyFile", err, "creating destination")
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return pmerrors.Wrap(pmerrors.KindTransient, "store.copyFile", err, "copying content")
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return pmerrors.Wrap(pmerrors.KindTransient, "store.copyFile", err, "fsync destination")
	}
	return out.Close()
}

// GarbageCollect removes every stored object whose hash is not present in
// roots, returning the number removed. Callers must hold the state lock
// (internal/state) for the duration of the call so GC never races an
// in-flight install.
func (s *Store) GarbageCollect(roots map[Hash]struct{}) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, pmerrors.Wrap(pmerrors.KindTransient, "store.GarbageCollect", err, "reading store root")
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		h, err := ParseHash(name)
		if err != nil {
			// Not an object file (e.g. a leftover .put-* temp file); skip.
			continue
		}
		if _, keep := roots[h]; keep {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, name)); err != nil {
			return removed, pmerrors.Wrap(pmerrors.KindTransient, "store.GarbageCollect", err, "removing %s", name)
		}
		removed++
	}

	s.logger.Info("garbage collected store objects", "removed", removed, "retained", len(roots))
	return removed, nil
}

// Size returns the byte size of the stored object, or an error if absent.
func (s *Store) Size(h Hash) (int64, error) {
	info, err := os.Stat(s.objectPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, pmerrors.New(pmerrors.KindNotFound, "store.Size", "object %s not in store", h)
		}
		return 0, pmerrors.Wrap(pmerrors.KindTransient, "store.Size", err, "stat %s", h)
	}
	return info.Size(), nil
}

// Open returns a reader for the stored object named by h.
func (s *Store) Open(h Hash) (*os.File, error) {
	f, err := os.Open(s.objectPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pmerrors.New(pmerrors.KindNotFound, "store.Open", "object %s not in store", h)
		}
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "store.Open", err, "opening %s", h)
	}
	return f, nil
}

// HashBytes computes the blake3 hash of b, for in-memory content that never
// touches disk as a file (e.g. a freshly-built manifest).
func HashBytes(b []byte) Hash {
	sum := blake3.Sum256(b)
	return Hash(sum)
}

// HashReader streams r through blake3 without buffering its content.
func HashReader(r io.Reader) (Hash, error) {
	hasher := blake3.New(32, nil)
	if _, err := io.Copy(hasher, r); err != nil {
		return Hash{}, fmt.Errorf("store: hashing reader: %w", err)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h, nil
}
