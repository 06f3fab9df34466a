package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/sst-grid-service/internal/observability"
)

// inFlightRequest tracks a single load that multiple callers may wait for.
type inFlightRequest[T any] struct {
	mu      sync.Mutex
	result  T
	err     error
	done    bool
	waiters []chan struct{}
}

// requestCoalescer runs at most one load per key at a time; concurrent callers for the
// same key share its result.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest[T]
	timeout  time.Duration
}

func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		inFlight: make(map[string]*inFlightRequest[T]),
		timeout:  timeout,
	}
}

// GetOrDo waits for the in-flight load of key if there is one, otherwise starts fn.
// Waiting is bounded by ctx and the coalescer timeout; fn itself keeps running so later
// callers can still use its result.
func (rc *requestCoalescer[T]) GetOrDo(ctx context.Context, key string, fn func() (T, error)) (T, error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if exists {
		observability.CoalescedGridLoadsTotal.Inc()
	} else {
		req = &inFlightRequest[T]{}
		rc.inFlight[key] = req
	}
	rc.mu.Unlock()

	if !exists {
		go func() {
			result, err := fn()

			req.mu.Lock()
			req.result = result
			req.err = err
			req.done = true
			waiters := req.waiters
			req.waiters = nil
			req.mu.Unlock()

			for _, notify := range waiters {
				close(notify)
			}
			rc.cleanup(key)
		}()
	}
	return rc.wait(ctx, req)
}

func (rc *requestCoalescer[T]) wait(ctx context.Context, req *inFlightRequest[T]) (T, error) {
	var zero T
	notify := make(chan struct{})
	req.mu.Lock()
	if req.done {
		result, err := req.result, req.err
		req.mu.Unlock()
		return result, err
	}
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-notify:
		req.mu.Lock()
		defer req.mu.Unlock()
		if req.err != nil {
			return zero, req.err
		}
		return req.result, nil
	case <-waitCtx.Done():
		return zero, waitCtx.Err()
	}
}

// cleanup removes the in-flight request for key once it completes.
func (rc *requestCoalescer[T]) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
