package scu

import (
	"context"
	"sync"

	"github.com/dicomdul/duldicom/codec"
	"golang.org/x/sync/semaphore"
)

// PreloadQueue is the monotonic FIFO of CStoreRequest handles named in
// 4.H, with a single background preloader bounded to PreloadCount
// concurrent loads via golang.org/x/sync/semaphore — the indirect
// dependency this module promotes to direct use, since nothing else in the
// pack's domain stack needed a bounded-concurrency primitive this small.
type PreloadQueue struct {
	mu    sync.Mutex
	items []*Request

	registry          *codec.Registry
	disableStreaming  bool
	preferredTS       string
	preferredTSParams codec.Params

	sem *semaphore.Weighted
}

// NewPreloadQueue constructs an empty queue. preloadCount bounds how many
// requests the preloader keeps loaded ahead of the sender at once; 0
// disables preloading (loads happen synchronously in the sender).
func NewPreloadQueue(registry *codec.Registry, disableStreaming bool, preferredTS string, preferredTSParams codec.Params, preloadCount int) *PreloadQueue {
	if preloadCount < 1 {
		preloadCount = 1
	}
	return &PreloadQueue{
		registry:          registry,
		disableStreaming:  disableStreaming,
		preferredTS:       preferredTS,
		preferredTSParams: preferredTSParams,
		sem:               semaphore.NewWeighted(int64(preloadCount)),
	}
}

// Push enqueues r at the tail.
func (q *PreloadQueue) Push(r *Request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

// PushFront re-enqueues r at the head, for the "return to head of queue
// before release" reassociate case and the transport-loss recovery case.
func (q *PreloadQueue) PushFront(r *Request) {
	q.mu.Lock()
	q.items = append([]*Request{r}, q.items...)
	q.mu.Unlock()
}

// Pop dequeues and returns the head, or nil if empty.
func (q *PreloadQueue) Pop() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r
}

// Len reports the number of entries still queued.
func (q *PreloadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Preload kicks a background load of up to the first k not-yet-loaded
// entries, bounded by the queue's semaphore. Load is idempotent (guarded by
// Request's own CAS), so a race between this and the sender's on-demand
// Load is harmless — the second caller observes already-loaded and
// returns immediately.
func (q *PreloadQueue) Preload(ctx context.Context, k int, acceptedTS func(sopClassUID string) (string, bool)) {
	q.mu.Lock()
	candidates := make([]*Request, 0, k)
	for _, r := range q.items {
		if len(candidates) >= k {
			break
		}
		if !r.IsLoaded() {
			candidates = append(candidates, r)
		}
	}
	q.mu.Unlock()

	for _, r := range candidates {
		ts, ok := acceptedTS(r.SOPClassUID)
		if !ok {
			continue
		}
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(r *Request, ts string) {
			defer q.sem.Release(1)
			_ = Load(r, ts, q.disableStreaming, q.preferredTS, q.preferredTSParams, q.registry)
		}(r, ts)
	}
}
