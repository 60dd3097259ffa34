package store

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"sync"
	"time"

	"qms/token-sync/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	reloadsTotal      = expvar.NewInt("store_reloads_total")
	reloadErrorsTotal = expvar.NewInt("store_reload_errors_total")
	staleDropsTotal   = expvar.NewInt("store_stale_responses_total")

	tracer = otel.Tracer("qms/token-sync/store")
)

// Fetcher returns the authoritative token list for one viewer scope.
type Fetcher interface {
	Fetch(ctx context.Context) ([]models.Token, error)
}

type FetchFunc func(ctx context.Context) ([]models.Token, error)

func (f FetchFunc) Fetch(ctx context.Context) ([]models.Token, error) {
	return f(ctx)
}

type Options struct {
	// Filter drops tokens from every fetched list before it is applied.
	Filter func(models.Token) bool
	// OnChange receives the latest snapshot after each applied load.
	OnChange      func([]models.Token)
	ReloadTimeout time.Duration
}

// Store holds the token snapshot for one viewer scope. Loads replace the
// snapshot wholesale; a response older than the one already applied is
// discarded.
type Store struct {
	name    string
	fetcher Fetcher
	opts    Options

	mu      sync.RWMutex
	tokens  []models.Token
	loaded  bool
	closed  bool
	issued  uint64
	applied uint64

	notifyMu sync.Mutex
	inflight sync.WaitGroup
}

func New(name string, fetcher Fetcher, opts Options) *Store {
	return &Store{name: name, fetcher: fetcher, opts: opts}
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Load(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "tokens.load", trace.WithAttributes(attribute.String("scope", s.name)))
	defer span.End()

	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	tokens, err := s.fetcher.Fetch(ctx)
	if err != nil {
		reloadErrorsTotal.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("store load error scope=%s seq=%d err=%v", s.name, seq, err)
		return fmt.Errorf("load %s tokens: %w", s.name, err)
	}

	next := make([]models.Token, 0, len(tokens))
	for _, token := range tokens {
		if s.opts.Filter != nil && !s.opts.Filter(token) {
			continue
		}
		next = append(next, token)
	}

	s.mu.Lock()
	if seq < s.applied {
		s.mu.Unlock()
		staleDropsTotal.Add(1)
		log.Printf("store drop stale response scope=%s seq=%d applied=%d", s.name, seq, s.applied)
		return nil
	}
	s.applied = seq
	s.tokens = next
	s.loaded = true
	s.mu.Unlock()

	reloadsTotal.Add(1)
	span.SetAttributes(attribute.Int("tokens", len(next)))
	s.notify()
	return nil
}

func (s *Store) notify() {
	if s.opts.OnChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.opts.OnChange(s.Snapshot())
}

// OnNotification reloads the snapshot when a push event signals a token
// change. Each matching event starts its own reload.
func (s *Store) OnNotification(event models.Event) {
	if !event.TokenChanged() {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.inflight.Done()
		ctx := context.Background()
		if s.opts.ReloadTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.ReloadTimeout)
			defer cancel()
		}
		_ = s.Load(ctx)
	}()
}

// Wait blocks until reloads started by notifications have finished.
func (s *Store) Wait() {
	s.inflight.Wait()
}

// Close stops notifications from starting reloads and waits for the ones
// in flight. Explicit Load calls still work.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}

func (s *Store) Snapshot() []models.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Token, len(s.tokens))
	copy(out, s.tokens)
	return out
}

func (s *Store) Get(id string) (models.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, token := range s.tokens {
		if token.ID == id {
			return token, true
		}
	}
	return models.Token{}, false
}

func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}
