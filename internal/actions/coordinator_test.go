package actions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qms/token-sync/internal/models"
	"qms/token-sync/internal/store"
)

type fakeUpdater struct {
	calls    int32
	updateFn func(ctx context.Context, tokenID string, status models.Status) (models.Token, error)
}

func (f *fakeUpdater) UpdateTokenStatus(ctx context.Context, tokenID string, status models.Status) (models.Token, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.updateFn == nil {
		return models.Token{ID: tokenID, Status: status}, nil
	}
	return f.updateFn(ctx, tokenID, status)
}

type fakeSource map[string]models.Status

func (f fakeSource) Get(id string) (models.Token, bool) {
	status, ok := f[id]
	if !ok {
		return models.Token{}, false
	}
	return models.Token{ID: id, Status: status}, true
}

func TestTransitionLegality(t *testing.T) {
	source := fakeSource{
		"w": models.StatusWaiting,
		"p": models.StatusInProgress,
		"c": models.StatusCompleted,
	}
	cases := []struct {
		name    string
		id      string
		action  func(*Coordinator, context.Context, string) error
		wantErr error
		calls   int32
	}{
		{"start waiting", "w", (*Coordinator).Start, nil, 1},
		{"start in progress", "p", (*Coordinator).Start, store.ErrInvalidTransition, 0},
		{"start completed", "c", (*Coordinator).Start, store.ErrInvalidTransition, 0},
		{"complete in progress", "p", (*Coordinator).Complete, nil, 1},
		{"complete waiting", "w", (*Coordinator).Complete, store.ErrInvalidTransition, 0},
		{"complete completed", "c", (*Coordinator).Complete, store.ErrInvalidTransition, 0},
		{"unknown token", "x", (*Coordinator).Start, store.ErrTokenNotFound, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			updater := &fakeUpdater{}
			c := New(updater, source, Options{})
			err := tc.action(c, context.Background(), tc.id)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if got := atomic.LoadInt32(&updater.calls); got != tc.calls {
				t.Fatalf("expected %d requests, got %d", tc.calls, got)
			}
		})
	}
}

func TestRequestCarriesTargetStatus(t *testing.T) {
	var got []models.Status
	updater := &fakeUpdater{updateFn: func(ctx context.Context, tokenID string, status models.Status) (models.Token, error) {
		got = append(got, status)
		return models.Token{}, nil
	}}
	source := fakeSource{"w": models.StatusWaiting, "p": models.StatusInProgress}
	c := New(updater, source, Options{})

	_ = c.Start(context.Background(), "w")
	_ = c.Complete(context.Background(), "p")
	if len(got) != 2 || got[0] != models.StatusInProgress || got[1] != models.StatusCompleted {
		t.Fatalf("unexpected target statuses %v", got)
	}
}

func TestLockExclusivity(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	updater := &fakeUpdater{updateFn: func(ctx context.Context, tokenID string, status models.Status) (models.Token, error) {
		close(entered)
		<-release
		return models.Token{}, nil
	}}
	c := New(updater, fakeSource{"w": models.StatusWaiting}, Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		firstErr = c.Start(context.Background(), "w")
	}()
	<-entered

	if !c.IsLocked("w") {
		t.Fatalf("token should be locked while request is pending")
	}
	if locked := c.Locked(); len(locked) != 1 || locked[0] != "w" {
		t.Fatalf("unexpected lock set %v", locked)
	}
	if err := c.Start(context.Background(), "w"); !errors.Is(err, store.ErrTokenLocked) {
		t.Fatalf("expected ErrTokenLocked, got %v", err)
	}

	close(release)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first start failed: %v", firstErr)
	}
	if got := atomic.LoadInt32(&updater.calls); got != 1 {
		t.Fatalf("expected exactly 1 request, got %d", got)
	}
	if c.IsLocked("w") || len(c.Locked()) != 0 {
		t.Fatalf("lock not released")
	}
}

func TestLocksArePerToken(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	updater := &fakeUpdater{updateFn: func(ctx context.Context, tokenID string, status models.Status) (models.Token, error) {
		entered <- struct{}{}
		<-release
		return models.Token{}, nil
	}}
	c := New(updater, fakeSource{"a": models.StatusWaiting, "b": models.StatusWaiting}, Options{})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Start(context.Background(), id); err != nil {
				t.Errorf("start %s: %v", id, err)
			}
		}()
	}
	<-entered
	<-entered
	close(release)
	wg.Wait()
	if got := atomic.LoadInt32(&updater.calls); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestFailureReleasesLock(t *testing.T) {
	boom := errors.New("502 bad gateway")
	updater := &fakeUpdater{updateFn: func(ctx context.Context, tokenID string, status models.Status) (models.Token, error) {
		return models.Token{}, boom
	}}
	c := New(updater, fakeSource{"w": models.StatusWaiting}, Options{})

	if err := c.Start(context.Background(), "w"); !errors.Is(err, boom) {
		t.Fatalf("expected request error, got %v", err)
	}
	if c.IsLocked("w") {
		t.Fatalf("lock must be released after failure")
	}
	if err := c.Start(context.Background(), "w"); !errors.Is(err, boom) {
		t.Fatalf("retry by caller should reach the server again, got %v", err)
	}
	if got := atomic.LoadInt32(&updater.calls); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestTimeoutBoundsRequest(t *testing.T) {
	updater := &fakeUpdater{updateFn: func(ctx context.Context, tokenID string, status models.Status) (models.Token, error) {
		<-ctx.Done()
		return models.Token{}, ctx.Err()
	}}
	c := New(updater, fakeSource{"w": models.StatusWaiting}, Options{Timeout: 20 * time.Millisecond})

	err := c.Start(context.Background(), "w")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if c.IsLocked("w") {
		t.Fatalf("lock must be released after timeout")
	}
}

func TestStaleLockReclaimed(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	updater := &fakeUpdater{updateFn: func(ctx context.Context, tokenID string, status models.Status) (models.Token, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		return models.Token{}, nil
	}}
	c := New(updater, fakeSource{"w": models.StatusWaiting}, Options{Timeout: time.Minute, Now: clock})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Start(context.Background(), "w")
	}()
	<-entered

	if err := c.Start(context.Background(), "w"); !errors.Is(err, store.ErrTokenLocked) {
		t.Fatalf("fresh lock should block, got %v", err)
	}

	for _, elapsed := range []time.Duration{time.Minute, 90 * time.Second} {
		c.mu.Lock()
		now = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC).Add(elapsed)
		c.mu.Unlock()
		if !c.IsLocked("w") {
			t.Fatalf("lock should still be held after %s", elapsed)
		}
		if err := c.Start(context.Background(), "w"); !errors.Is(err, store.ErrTokenLocked) {
			t.Fatalf("lock past the request deadline should block at %s, got %v", elapsed, err)
		}
	}

	c.mu.Lock()
	now = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC).Add(2 * time.Minute)
	c.mu.Unlock()
	if c.IsLocked("w") {
		t.Fatalf("lock should be stale")
	}
	if err := c.Start(context.Background(), "w"); err != nil {
		t.Fatalf("stale lock should be reclaimable: %v", err)
	}

	close(release)
	<-done
	if c.IsLocked("w") {
		t.Fatalf("lock should be clear")
	}
}
