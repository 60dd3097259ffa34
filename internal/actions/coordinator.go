package actions

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"qms/token-sync/internal/models"
	"qms/token-sync/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	actionsTotal         = expvar.NewInt("actions_total")
	actionsFailedTotal   = expvar.NewInt("actions_failed_total")
	actionsRejectedTotal = expvar.NewInt("actions_rejected_total")

	tracer = otel.Tracer("qms/token-sync/actions")
)

type StatusUpdater interface {
	UpdateTokenStatus(ctx context.Context, tokenID string, status models.Status) (models.Token, error)
}

// TokenSource resolves a token's last known status, normally a store.Store.
type TokenSource interface {
	Get(id string) (models.Token, bool)
}

type Options struct {
	// Timeout bounds each request. A lock held for more than one and a
	// half Timeouts is stale and may be taken over. Zero disables both.
	Timeout time.Duration
	Now     func() time.Time
}

type lock struct {
	seq uint64
	at  time.Time
}

// Coordinator issues start/complete requests with at most one request in
// flight per token. It never edits the snapshot; the server's push does.
type Coordinator struct {
	updater StatusUpdater
	source  TokenSource
	timeout time.Duration
	// staleAfter is strictly longer than timeout, so a request unwinding
	// past its deadline still holds its lock.
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.Mutex
	seq   uint64
	locks map[string]lock
}

func New(updater StatusUpdater, source TokenSource, opts Options) *Coordinator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		updater: updater,
		source:  source,
		timeout:    opts.Timeout,
		staleAfter: opts.Timeout + opts.Timeout/2,
		now:        now,
		locks:      make(map[string]lock),
	}
}

func (c *Coordinator) Start(ctx context.Context, tokenID string) error {
	return c.transition(ctx, tokenID, models.StatusInProgress)
}

func (c *Coordinator) Complete(ctx context.Context, tokenID string) error {
	return c.transition(ctx, tokenID, models.StatusCompleted)
}

func (c *Coordinator) transition(ctx context.Context, tokenID string, target models.Status) error {
	token, ok := c.source.Get(tokenID)
	if !ok {
		actionsRejectedTotal.Add(1)
		return fmt.Errorf("%w: %s", store.ErrTokenNotFound, tokenID)
	}
	if !store.ValidTransition(token.Status, target) {
		actionsRejectedTotal.Add(1)
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, token.Status, target)
	}
	seq, ok := c.acquire(tokenID)
	if !ok {
		actionsRejectedTotal.Add(1)
		return fmt.Errorf("%w: %s", store.ErrTokenLocked, tokenID)
	}
	defer c.release(tokenID, seq)

	ctx, span := tracer.Start(ctx, "token.transition",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("token.id", tokenID),
			attribute.String("token.from", string(token.Status)),
			attribute.String("token.to", string(target)),
		),
	)
	defer span.End()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	actionsTotal.Add(1)
	if _, err := c.updater.UpdateTokenStatus(ctx, tokenID, target); err != nil {
		actionsFailedTotal.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("token action failed token=%s from=%s to=%s err=%v", tokenID, token.Status, target, err)
		return fmt.Errorf("update token %s to %s: %w", tokenID, target, err)
	}
	log.Printf("token action ok token=%s from=%s to=%s", tokenID, token.Status, target)
	return nil
}

func (c *Coordinator) acquire(tokenID string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if held, ok := c.locks[tokenID]; ok && !c.stale(held, now) {
		return 0, false
	}
	c.seq++
	c.locks[tokenID] = lock{seq: c.seq, at: now}
	return c.seq, true
}

func (c *Coordinator) release(tokenID string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if held, ok := c.locks[tokenID]; ok && held.seq == seq {
		delete(c.locks, tokenID)
	}
}

func (c *Coordinator) stale(held lock, now time.Time) bool {
	return c.timeout > 0 && now.Sub(held.at) > c.staleAfter
}

// IsLocked reports whether a control for tokenID should be disabled.
func (c *Coordinator) IsLocked(tokenID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	held, ok := c.locks[tokenID]
	return ok && !c.stale(held, c.now())
}

func (c *Coordinator) Locked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	ids := make([]string, 0, len(c.locks))
	for id, held := range c.locks {
		if !c.stale(held, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
