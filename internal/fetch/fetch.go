// Package fetch retrieves package sources: resumable, hash-verified HTTP
// downloads and shallow git clones. It never constructs its own HTTP
// transport or TLS policy — callers inject a Doer, keeping fetch decoupled
// from secure-client construction the way the resolver stays decoupled
// from the registry transport via its Index interface.
package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"lukechampine.com/blake3"

	"github.com/opt-pm/pm/internal/log"
	"github.com/opt-pm/pm/internal/pmerrors"
	"github.com/opt-pm/pm/internal/store"
)

// Doer is the narrow collaborator fetch depends on for HTTP transport.
// *http.Client satisfies it; callers are expected to inject one built with
// whatever SSRF/redirect/decompression-bomb policy their transport layer
// enforces — fetch has no opinion on how that client is constructed.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultMinChunkSize is the smallest existing partial-file size fetch will
// try to resume from with a ranged GET. Below this threshold resuming isn't
// worth the extra request; the download restarts from zero instead.
const DefaultMinChunkSize = 1 << 20 // 1 MiB

// DefaultMaxRetries is how many additional attempts a transport-level
// failure gets before Download gives up, per the retry-with-backoff
// contract (N = 3 retries, so 4 attempts total).
const DefaultMaxRetries = 3

// HashMismatchError reports that a fully-downloaded file's content hash did
// not match what was expected. It is never retried: a corrupted or
// malicious payload won't fix itself on a second attempt of the same URL.
type HashMismatchError struct {
	URL      string
	Expected store.Hash
	Actual   store.Hash
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch downloading %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// Downloader performs resumable, hash-verified downloads over an injected
// Doer.
type Downloader struct {
	doer         Doer
	minChunkSize int64
	maxRetries   int
	logger       log.Logger
}

// Option configures a Downloader at construction time.
type Option func(*Downloader)

// WithDoer overrides the HTTP collaborator used to issue requests. Defaults
// to http.DefaultClient.
func WithDoer(d Doer) Option {
	return func(dl *Downloader) { dl.doer = d }
}

// WithMinChunkSize overrides DefaultMinChunkSize.
func WithMinChunkSize(n int64) Option {
	return func(dl *Downloader) { dl.minChunkSize = n }
}

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(dl *Downloader) { dl.maxRetries = n }
}

// WithLogger overrides the Downloader's logger. Defaults to log.Default().
func WithLogger(l log.Logger) Option {
	return func(dl *Downloader) { dl.logger = l }
}

// New returns a Downloader backed by http.DefaultClient unless overridden
// via WithDoer.
func New(opts ...Option) *Downloader {
	dl := &Downloader{
		doer:         http.DefaultClient,
		minChunkSize: DefaultMinChunkSize,
		maxRetries:   DefaultMaxRetries,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(dl)
	}
	return dl
}

// Download retrieves url into dest, verifying the result against
// expectedHash. If dest already exists with at least minChunkSize bytes,
// Download resumes it with a ranged GET and hashes the existing prefix
// incrementally so the final digest can be checked in one pass; a smaller
// or absent partial file is discarded and the download restarts from zero.
//
// Transport failures (the request itself failing, or the server returning
// a non-success status) retry up to maxRetries times with exponential
// backoff. A hash mismatch is never retried — it returns immediately with
// the partial file removed.
func (dl *Downloader) Download(ctx context.Context, url, dest string, expectedHash store.Hash) error {
	var lastErr error
	for attempt := 0; attempt <= dl.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			dl.logger.Warn("retrying download", "url", url, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := dl.attempt(ctx, url, dest, expectedHash)
		if err == nil {
			return nil
		}

		if _, ok := err.(*HashMismatchError); ok {
			return err
		}
		lastErr = err
	}
	return pmerrors.Wrap(pmerrors.KindTransient, "fetch.Download", lastErr, "download failed after %d attempts: %s", dl.maxRetries+1, url)
}

func (dl *Downloader) attempt(ctx context.Context, url, dest string, expectedHash store.Hash) error {
	var startOffset int64
	resume := false
	if info, err := os.Stat(dest); err == nil && info.Size() >= dl.minChunkSize {
		startOffset = info.Size()
		resume = true
	} else if err == nil {
		if err := os.Remove(dest); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "fetch.attempt", err, "removing undersized partial file %s", dest)
		}
	}

	hasher := blake3.New(32, nil)

	var out *os.File
	var err error
	if resume {
		if out, err = dl.resumeHash(dest, hasher); err != nil {
			return err
		}
	} else {
		if out, err = os.Create(dest); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "fetch.attempt", err, "creating %s", dest)
		}
	}
	defer out.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindInvalidInput, "fetch.attempt", err, "building request for %s", url)
	}
	req.Header.Set("Accept-Encoding", "identity")
	if startOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startOffset))
	}

	resp, err := dl.doer.Do(req)
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "fetch.attempt", err, "requesting %s", url)
	}
	defer resp.Body.Close()

	if startOffset > 0 && resp.StatusCode == http.StatusOK {
		// Server ignored the Range request and is sending the whole body
		// again; start clean rather than appending a second copy.
		dl.logger.Warn("server did not honor range request, restarting download", "url", url)
		if err := out.Close(); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "fetch.attempt", err, "closing partial file")
		}
		if out, err = os.Create(dest); err != nil {
			return pmerrors.Wrap(pmerrors.KindTransient, "fetch.attempt", err, "recreating %s", dest)
		}
		defer out.Close()
		hasher = blake3.New(32, nil)
	} else if (startOffset == 0 && resp.StatusCode != http.StatusOK) || (startOffset > 0 && resp.StatusCode != http.StatusPartialContent) {
		return pmerrors.Wrap(pmerrors.KindTransient, "fetch.attempt", fmt.Errorf("unexpected status %s", resp.Status), "downloading %s", url)
	}

	if ce := resp.Header.Get("Content-Encoding"); ce != "" && ce != "identity" {
		return pmerrors.New(pmerrors.KindExternal, "fetch.attempt", "refusing unexpected Content-Encoding %q from %s", ce, url)
	}

	if _, err := io.Copy(io.MultiWriter(out, hasher), resp.Body); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "fetch.attempt", err, "streaming %s", url)
	}
	if err := out.Sync(); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "fetch.attempt", err, "fsync %s", dest)
	}

	var got store.Hash
	copy(got[:], hasher.Sum(nil))
	if got != expectedHash {
		os.Remove(dest)
		return &HashMismatchError{URL: url, Expected: expectedHash, Actual: got}
	}
	return nil
}

// resumeHash hashes dest's existing content into hasher and reopens it for
// appending, so the final digest covers the whole file in one pass without
// re-reading what was already downloaded.
func (dl *Downloader) resumeHash(dest string, hasher io.Writer) (*os.File, error) {
	existing, err := os.Open(dest)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "fetch.resumeHash", err, "reopening %s", dest)
	}
	_, err = io.Copy(hasher, existing)
	existing.Close()
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "fetch.resumeHash", err, "hashing existing partial %s", dest)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "fetch.resumeHash", err, "appending to %s", dest)
	}
	return out, nil
}

// Git performs a shallow clone of url at ref into dest. ref == "HEAD" (or
// "") clones the repository's default branch; any other ref is passed as
// --branch. Subprocess output is streamed line by line into logger rather
// than buffered and dumped at the end, matching how build drivers surface
// long-running subprocess progress.
func Git(ctx context.Context, url, ref, dest string, logger log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}

	args := []string{"clone", "--depth", "1"}
	if ref != "" && ref != "HEAD" {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, dest)

	cmd := exec.CommandContext(ctx, "git", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindInternal, "fetch.Git", err, "attaching stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return pmerrors.Wrap(pmerrors.KindInternal, "fetch.Git", err, "attaching stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "fetch.Git", err, "starting git clone of %s", url)
	}

	done := make(chan struct{}, 2)
	go streamLines(stdout, logger, done)
	go streamLines(stderr, logger, done)
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		return pmerrors.Wrap(pmerrors.KindTransient, "fetch.Git", err, "git clone of %s at %s failed", url, ref)
	}
	return nil
}

func streamLines(r io.Reader, logger log.Logger, done chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("git", "line", scanner.Text())
	}
	done <- struct{}{}
}
