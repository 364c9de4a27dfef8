// Package resource bounds concurrent downloads, decompressions, and
// installations with weighted semaphores, and tracks a soft ceiling on
// in-flight memory usage.
package resource

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/opt-pm/pm/internal/pmerrors"
)

// Limits configures the concurrency and memory ceilings a Manager enforces.
type Limits struct {
	ConcurrentDownloads      int64
	ConcurrentDecompressions int64
	ConcurrentInstallations  int64

	// MemoryLimitBytes caps tracked in-flight memory usage. Zero means
	// unlimited.
	MemoryLimitBytes uint64
}

// DefaultLimits returns limits scaled to the host's CPU count, mirroring a
// conservative "don't overrun the machine" default.
func DefaultLimits() Limits {
	n := int64(runtime.NumCPU())
	if n < 1 {
		n = 1
	}
	return Limits{
		ConcurrentDownloads:      4,
		ConcurrentDecompressions: n,
		ConcurrentInstallations:  n,
		MemoryLimitBytes:         0,
	}
}

// Availability reports the configured permit count per semaphore. Permits
// currently held are not subtracted.
type Availability struct {
	Download      int64
	Decompression int64
	Installation  int64
}

// Manager coordinates resource usage across concurrent build/install work.
type Manager struct {
	downloadSem      *semaphore.Weighted
	decompressionSem *semaphore.Weighted
	installationSem  *semaphore.Weighted

	limits      Limits
	memoryUsage atomic.Uint64
}

// New constructs a Manager with the given limits.
func New(limits Limits) *Manager {
	return &Manager{
		downloadSem:      semaphore.NewWeighted(max1(limits.ConcurrentDownloads)),
		decompressionSem: semaphore.NewWeighted(max1(limits.ConcurrentDecompressions)),
		installationSem:  semaphore.NewWeighted(max1(limits.ConcurrentInstallations)),
		limits:           limits,
	}
}

func max1(n int64) int64 {
	if n < 1 {
		return 1
	}
	return n
}

// FromSystem returns a Manager configured with DefaultLimits.
func FromSystem() *Manager {
	return New(DefaultLimits())
}

// Permit releases a single acquired semaphore slot. Callers must call
// Release exactly once.
type Permit struct {
	sem *semaphore.Weighted
}

// Release returns the permit's slot to its semaphore.
func (p *Permit) Release() {
	if p == nil || p.sem == nil {
		return
	}
	p.sem.Release(1)
}

// AcquireDownloadPermit blocks until a download slot is available or ctx
// is cancelled.
func (m *Manager) AcquireDownloadPermit(ctx context.Context) (*Permit, error) {
	return m.acquire(ctx, m.downloadSem, "download")
}

// AcquireDecompressionPermit blocks until a decompression slot is available
// or ctx is cancelled.
func (m *Manager) AcquireDecompressionPermit(ctx context.Context) (*Permit, error) {
	return m.acquire(ctx, m.decompressionSem, "decompression")
}

// AcquireInstallationPermit blocks until an installation slot is available
// or ctx is cancelled.
func (m *Manager) AcquireInstallationPermit(ctx context.Context) (*Permit, error) {
	return m.acquire(ctx, m.installationSem, "installation")
}

func (m *Manager) acquire(ctx context.Context, sem *semaphore.Weighted, kind string) (*Permit, error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, pmerrors.Wrap(pmerrors.KindTransient, "resource.Acquire", err, "acquiring %s permit", kind)
	}
	return &Permit{sem: sem}, nil
}

// TryAcquireDownloadPermit attempts to acquire a download slot without
// blocking, returning nil if none is free.
func (m *Manager) TryAcquireDownloadPermit() *Permit {
	return m.tryAcquire(m.downloadSem)
}

// TryAcquireDecompressionPermit attempts to acquire a decompression slot
// without blocking, returning nil if none is free.
func (m *Manager) TryAcquireDecompressionPermit() *Permit {
	return m.tryAcquire(m.decompressionSem)
}

// TryAcquireInstallationPermit attempts to acquire an installation slot
// without blocking, returning nil if none is free.
func (m *Manager) TryAcquireInstallationPermit() *Permit {
	return m.tryAcquire(m.installationSem)
}

func (m *Manager) tryAcquire(sem *semaphore.Weighted) *Permit {
	if !sem.TryAcquire(1) {
		return nil
	}
	return &Permit{sem: sem}
}

// ReserveMemory adds n bytes to the tracked in-flight memory usage and
// reports whether the total remains within the configured limit. Callers
// that exceed the limit should still release (ReleaseMemory) what they
// reserved if they back off.
func (m *Manager) ReserveMemory(n uint64) bool {
	total := m.memoryUsage.Add(n)
	return m.IsMemoryWithinLimits(total)
}

// ReleaseMemory subtracts n bytes from the tracked in-flight memory usage.
func (m *Manager) ReleaseMemory(n uint64) {
	for {
		cur := m.memoryUsage.Load()
		next := uint64(0)
		if cur > n {
			next = cur - n
		}
		if m.memoryUsage.CompareAndSwap(cur, next) {
			return
		}
	}
}

// IsMemoryWithinLimits reports whether usage bytes fits within the
// configured memory ceiling. A zero ceiling means unlimited.
func (m *Manager) IsMemoryWithinLimits(usage uint64) bool {
	if m.limits.MemoryLimitBytes == 0 {
		return true
	}
	return usage <= m.limits.MemoryLimitBytes
}

// MemoryUsage returns the currently tracked in-flight memory usage.
func (m *Manager) MemoryUsage() uint64 {
	return m.memoryUsage.Load()
}

// Availability returns the configured permit count per semaphore. Weighted
// semaphores don't expose a permit count directly, so this reports the
// configured limits rather than live counts; permits currently held are
// not subtracted.
func (m *Manager) Availability() Availability {
	return Availability{
		Download:      m.limits.ConcurrentDownloads,
		Decompression: m.limits.ConcurrentDecompressions,
		Installation:  m.limits.ConcurrentInstallations,
	}
}
