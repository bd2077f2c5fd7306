package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockTrigger is a mock implementation of Trigger for testing.
type mockTrigger struct {
	acquireResult atomic.Bool
	releaseErr    error
	acquireCalls  atomic.Int32
	releaseCalls  atomic.Int32
}

func (m *mockTrigger) Acquire(ctx context.Context) bool {
	m.acquireCalls.Add(1)
	return m.acquireResult.Load()
}

func (m *mockTrigger) Release(ctx context.Context) (bool, error) {
	m.releaseCalls.Add(1)
	return m.releaseErr == nil, m.releaseErr
}

func newMockTrigger(result bool) *mockTrigger {
	m := &mockTrigger{}
	m.acquireResult.Store(result)
	return m
}

func TestLeaderElector_BecomeLeader(t *testing.T) {
	mock := newMockTrigger(true)
	logger := zerolog.Nop()

	var becameLeader atomic.Bool
	elector := NewLeaderElector(mock, logger,
		WithRenewalRate(50*time.Millisecond),
		WithOnBecomeLeader(func() {
			becameLeader.Store(true)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	elector.Start(ctx)

	// Wait for leader acquisition
	time.Sleep(100 * time.Millisecond)

	if !elector.IsLeader() {
		t.Error("Expected to be leader")
	}
	if !becameLeader.Load() {
		t.Error("Expected onBecomeLeader callback to be called")
	}

	elector.Stop(context.Background())

	if elector.IsLeader() {
		t.Error("Expected to not be leader after stop")
	}
}

func TestLeaderElector_LoseLeadership(t *testing.T) {
	mock := newMockTrigger(true)
	logger := zerolog.Nop()

	var lostLeader atomic.Bool
	elector := NewLeaderElector(mock, logger,
		WithRenewalRate(50*time.Millisecond),
		WithOnLoseLeader(func() {
			lostLeader.Store(true)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())

	elector.Start(ctx)

	// Wait for leader acquisition
	time.Sleep(100 * time.Millisecond)

	if !elector.IsLeader() {
		t.Error("Expected to be leader")
	}

	// Simulate another instance taking over
	mock.acquireResult.Store(false)

	// Wait for renewal attempt
	time.Sleep(100 * time.Millisecond)

	if !lostLeader.Load() {
		t.Error("Expected onLoseLeader callback to be called")
	}
	if elector.IsLeader() {
		t.Error("Expected to not be leader after losing the trigger")
	}

	cancel()
	elector.Stop(context.Background())
}

func TestLeaderElector_RetryAcquisition(t *testing.T) {
	mock := newMockTrigger(false)
	logger := zerolog.Nop()

	elector := NewLeaderElector(mock, logger,
		WithRenewalRate(50*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	elector.Start(ctx)

	// Wait for a few acquisition attempts
	time.Sleep(200 * time.Millisecond)

	calls := mock.acquireCalls.Load()
	if calls < 2 {
		t.Errorf("Expected multiple acquire attempts, got %d", calls)
	}

	if elector.IsLeader() {
		t.Error("Expected to not be leader when acquisition fails")
	}

	elector.Stop(context.Background())

	if mock.releaseCalls.Load() != 0 {
		t.Error("Expected no release when never leader")
	}
}

func TestLeaderElector_StopReleasesLock(t *testing.T) {
	mock := newMockTrigger(true)
	logger := zerolog.Nop()

	elector := NewLeaderElector(mock, logger,
		WithRenewalRate(50*time.Millisecond),
		WithRole("maintainer"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	elector.Start(ctx)

	// Wait for leader acquisition
	time.Sleep(100 * time.Millisecond)

	elector.Stop(context.Background())

	if mock.releaseCalls.Load() == 0 {
		t.Error("Expected release to be called on stop")
	}
}

func TestLeaderElector_StopReleaseError(t *testing.T) {
	mock := newMockTrigger(true)
	mock.releaseErr = errors.New("connection reset")

	elector := NewLeaderElector(mock, zerolog.Nop(), WithRenewalRate(50*time.Millisecond))
	elector.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	elector.Stop(context.Background())

	if elector.IsLeader() {
		t.Error("Expected to not be leader after stop even if release failed")
	}
}

func TestLeaderElector_ContextCancellation(t *testing.T) {
	mock := newMockTrigger(true)
	logger := zerolog.Nop()

	elector := NewLeaderElector(mock, logger,
		WithRenewalRate(50*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())

	elector.Start(ctx)

	// Wait for leader acquisition
	time.Sleep(100 * time.Millisecond)

	// Cancel context
	cancel()

	// Give time for goroutine to exit
	time.Sleep(100 * time.Millisecond)

	// Stop should still work cleanly, twice
	elector.Stop(context.Background())
	elector.Stop(context.Background())
}

func TestLeaderElector_WithTriggerLock(t *testing.T) {
	scripts, _ := newTestScripts(t)

	first := NewLeaderElector(NewTriggerLock(scripts, "elect", zerolog.Nop()), zerolog.Nop(),
		WithRenewalRate(20*time.Millisecond))
	second := NewLeaderElector(NewTriggerLock(scripts, "elect", zerolog.Nop()), zerolog.Nop(),
		WithRenewalRate(20*time.Millisecond))

	ctx := context.Background()
	first.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	second.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	if !first.IsLeader() || second.IsLeader() {
		t.Fatalf("Expected only the first elector to lead: first=%v second=%v", first.IsLeader(), second.IsLeader())
	}

	// Handing over on stop lets the peer take the next tick.
	first.Stop(ctx)
	time.Sleep(100 * time.Millisecond)

	if !second.IsLeader() {
		t.Error("Expected second elector to take over after first stopped")
	}
	second.Stop(ctx)
}
