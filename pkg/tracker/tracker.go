// Package tracker keeps a client-side view of the generation requests of one
// sermon and polls the backend until every request is terminal.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"sermonflow/pkg/domain"
)

var (
	ErrRefreshInProgress = errors.New("refresh already in progress")
	ErrClosed            = errors.New("tracker closed")
	ErrInvalidInterval   = errors.New("poll interval must be positive")
)

// Backend creates and lists generation requests for a sermon. RequestGeneration
// must insert atomically and return domain.ErrAlreadyProcessing when a
// processing request for the pair already exists.
type Backend interface {
	RequestGeneration(ctx context.Context, sourceDocumentID string, assetType domain.AssetType) (domain.GenerationRequest, error)
	ListGenerationRequests(ctx context.Context, sourceDocumentID string) ([]domain.GenerationRequest, error)
}

type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRefreshTimeout bounds each polled refresh (default 10s).
func WithRefreshTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.refreshTimeout = d
		}
	}
}

// WithOnRefresh registers a callback that receives every accepted snapshot.
// It runs on the refreshing goroutine, outside the tracker lock.
func WithOnRefresh(fn func([]domain.GenerationRequest)) Option {
	return func(t *Tracker) { t.onRefresh = fn }
}

// Tracker is safe for concurrent use. One mutex guards the request list;
// backend calls never run under it.
type Tracker struct {
	backend        Backend
	docID          string
	logger         *slog.Logger
	refreshTimeout time.Duration
	onRefresh      func([]domain.GenerationRequest)

	inFlight atomic.Bool

	mu       sync.Mutex
	requests []domain.GenerationRequest // newest first
	seq      uint64                     // bumped by every local insert
	interval time.Duration
	polling  bool
	settled  chan struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a tracker for one sermon. Call Close when done.
func New(backend Backend, sourceDocumentID string, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	settled := make(chan struct{})
	close(settled)
	t := &Tracker{
		backend:        backend,
		docID:          sourceDocumentID,
		logger:         slog.Default(),
		refreshTimeout: 10 * time.Second,
		settled:        settled,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("sermon_id", sourceDocumentID)
	return t
}

// SourceDocumentID returns the tracked sermon.
func (t *Tracker) SourceDocumentID() string { return t.docID }

// Requests returns a copy of the tracked requests, newest first.
func (t *Tracker) Requests() []domain.GenerationRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.requests)
}

// Latest returns the newest tracked request of the given type.
func (t *Tracker) Latest(assetType domain.AssetType) (domain.GenerationRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.requests {
		if r.AssetType == assetType {
			return r, true
		}
	}
	return domain.GenerationRequest{}, false
}

// RequestGeneration asks the backend for a new request of assetType and
// tracks it. Failed requests are never retried automatically; calling this
// again for a failed type creates a new request.
func (t *Tracker) RequestGeneration(ctx context.Context, assetType domain.AssetType) (domain.GenerationRequest, error) {
	if !assetType.Valid() {
		return domain.GenerationRequest{}, fmt.Errorf("%w: %q", domain.ErrUnknownAssetType, assetType)
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.GenerationRequest{}, ErrClosed
	}
	if t.processingLocked(assetType) {
		t.mu.Unlock()
		return domain.GenerationRequest{}, domain.ErrAlreadyProcessing
	}
	t.mu.Unlock()

	req, err := t.backend.RequestGeneration(ctx, t.docID, assetType)
	if err != nil {
		return domain.GenerationRequest{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = slices.DeleteFunc(t.requests, func(r domain.GenerationRequest) bool { return r.ID == req.ID })
	t.requests = slices.Insert(t.requests, 0, req)
	t.seq++
	if t.interval > 0 && !t.polling && !t.closed {
		t.startLocked()
	}
	return req, nil
}

func (t *Tracker) processingLocked(assetType domain.AssetType) bool {
	for _, r := range t.requests {
		if r.AssetType == assetType && r.Status == domain.GenerationProcessing {
			return true
		}
	}
	return false
}

// Refresh replaces local state with the backend's list. It returns
// ErrRefreshInProgress instead of waiting when another refresh is running.
func (t *Tracker) Refresh(ctx context.Context) error {
	if !t.inFlight.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer t.inFlight.Store(false)
	return t.refresh(ctx)
}

func (t *Tracker) refresh(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	startSeq := t.seq
	t.mu.Unlock()

	list, err := t.backend.ListGenerationRequests(ctx, t.docID)
	if err != nil {
		return fmt.Errorf("list generation requests: %w", err)
	}

	t.mu.Lock()
	if t.seq != startSeq {
		// a local insert happened during the fetch; the snapshot may not contain it
		t.mu.Unlock()
		t.logger.Debug("discarding stale snapshot")
		return nil
	}
	t.requests = slices.Clone(list)
	snapshot := slices.Clone(list)
	t.mu.Unlock()

	if t.onRefresh != nil {
		t.onRefresh(snapshot)
	}
	return nil
}

// Poll refreshes every interval while any tracked request is processing. The
// loop ends on its own once a refresh shows every request terminal, and is
// restarted by the next RequestGeneration.
func (t *Tracker) Poll(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.interval = interval
	if !t.polling {
		t.startLocked()
	}
	return nil
}

// Polling reports whether the poll loop is running.
func (t *Tracker) Polling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polling
}

// Settled returns a channel closed when the current poll loop ends. When no
// loop is running the channel is already closed.
func (t *Tracker) Settled() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settled
}

func (t *Tracker) startLocked() {
	settled := make(chan struct{})
	t.settled = settled
	t.polling = true
	t.wg.Add(1)
	go t.pollLoop(t.interval, settled)
}

func (t *Tracker) pollLoop(interval time.Duration, settled chan struct{}) {
	defer t.wg.Done()
	defer close(settled)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			t.stopPolling()
			return
		case <-ticker.C:
		}

		if !t.inFlight.CompareAndSwap(false, true) {
			continue
		}
		ctx, cancel := context.WithTimeout(t.ctx, t.refreshTimeout)
		err := t.refresh(ctx)
		cancel()
		t.inFlight.Store(false)
		if err != nil {
			if t.ctx.Err() != nil || errors.Is(err, ErrClosed) {
				t.stopPolling()
				return
			}
			t.logger.Warn("poll refresh failed", "err", err)
			continue
		}

		t.mu.Lock()
		done := allTerminal(t.requests)
		if done {
			t.polling = false
		}
		t.mu.Unlock()
		if done {
			t.logger.Debug("all generation requests terminal, polling stopped")
			return
		}
	}
}

func (t *Tracker) stopPolling() {
	t.mu.Lock()
	t.polling = false
	t.mu.Unlock()
}

// Close stops polling and waits for the loop to exit. It is safe to call
// more than once.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	t.wg.Wait()
	return nil
}

func allTerminal(reqs []domain.GenerationRequest) bool {
	for _, r := range reqs {
		if !r.Status.Terminal() {
			return false
		}
	}
	return true
}
