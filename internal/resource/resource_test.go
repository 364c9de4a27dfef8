package resource

import (
	"context"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	m := New(Limits{ConcurrentDownloads: 1, ConcurrentDecompressions: 1, ConcurrentInstallations: 1})

	ctx := context.Background()
	p, err := m.AcquireDownloadPermit(ctx)
	if err != nil {
		t.Fatalf("AcquireDownloadPermit() failed: %v", err)
	}

	if m.TryAcquireDownloadPermit() != nil {
		t.Error("expected no download permit available while one is held")
	}

	p.Release()

	p2 := m.TryAcquireDownloadPermit()
	if p2 == nil {
		t.Fatal("expected a download permit to be available after release")
	}
	p2.Release()
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	m := New(Limits{ConcurrentDownloads: 1, ConcurrentDecompressions: 1, ConcurrentInstallations: 1})
	ctx := context.Background()

	p1, err := m.AcquireDownloadPermit(ctx)
	if err != nil {
		t.Fatalf("AcquireDownloadPermit() failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p2, err := m.AcquireDownloadPermit(ctx)
		if err != nil {
			t.Errorf("AcquireDownloadPermit() failed: %v", err)
			return
		}
		p2.Release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire should have blocked while first permit is held")
	case <-time.After(50 * time.Millisecond):
	}

	p1.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not complete after release")
	}
}

func TestAcquireCancelledContext(t *testing.T) {
	m := New(Limits{ConcurrentDownloads: 1})
	ctx := context.Background()

	p, err := m.AcquireDownloadPermit(ctx)
	if err != nil {
		t.Fatalf("AcquireDownloadPermit() failed: %v", err)
	}
	defer p.Release()

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()

	if _, err := m.AcquireDownloadPermit(cancelCtx); err == nil {
		t.Error("expected error acquiring with a cancelled context")
	}
}

func TestMemoryLimits(t *testing.T) {
	m := New(Limits{MemoryLimitBytes: 100})

	if !m.ReserveMemory(50) {
		t.Error("expected 50 bytes to be within the 100 byte limit")
	}
	if m.ReserveMemory(60) {
		t.Error("expected 110 total bytes to exceed the 100 byte limit")
	}

	m.ReleaseMemory(60)
	if m.MemoryUsage() != 50 {
		t.Errorf("MemoryUsage() = %d, want 50", m.MemoryUsage())
	}

	m.ReleaseMemory(1000)
	if m.MemoryUsage() != 0 {
		t.Errorf("MemoryUsage() = %d, want 0 (should not underflow)", m.MemoryUsage())
	}
}

func TestMemoryUnlimited(t *testing.T) {
	m := New(Limits{MemoryLimitBytes: 0})
	if !m.ReserveMemory(1 << 40) {
		t.Error("expected no limit to allow arbitrarily large reservations")
	}
}

func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()
	if limits.ConcurrentDownloads < 1 {
		t.Error("expected at least one concurrent download slot")
	}
	if limits.ConcurrentDecompressions < 1 || limits.ConcurrentInstallations < 1 {
		t.Error("expected at least one decompression/installation slot")
	}
}

func TestFromSystem(t *testing.T) {
	m := FromSystem()
	if m == nil {
		t.Fatal("FromSystem() returned nil")
	}
	p := m.TryAcquireInstallationPermit()
	if p == nil {
		t.Fatal("expected at least one installation permit available")
	}
	p.Release()
}
