package core

// upload_limiter.go implements concurrency control for program uploads.
//
// A semaphore caps parallel uploads across the process. On top of it,
// uploads for the same conference are serialized: reconciliation reads the
// conference, diffs and writes it back, so two overlapping runs would both
// create the records the other is about to create. Waiting for either the
// conference or a global slot is bounded by maxWait.
//
// WaitForDrain blocks until all active uploads complete, for graceful
// shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyUploads is returned when all upload slots are occupied and the
// wait timeout expires. Clients should retry after a short delay.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

// ErrConferenceBusy is returned when another upload for the same conference
// is still running after the wait timeout.
var ErrConferenceBusy = errors.New("another upload for this conference is in progress")

// DefaultMaxConcurrentUploads is the default limit for parallel uploads.
const DefaultMaxConcurrentUploads = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// conferenceLock is a one-slot semaphore shared by the uploads of one
// conference. refs counts holders and waiters so idle locks can be dropped.
type conferenceLock struct {
	ch   chan struct{}
	refs int
}

// UploadLimiter controls concurrent upload processing.
type UploadLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu          sync.RWMutex
	active      int
	conferences map[string]*conferenceLock
}

// NewUploadLimiter creates a limiter that allows at most maxConcurrent simultaneous uploads.
// Requests that cannot acquire a slot within maxWait will receive ErrTooManyUploads.
func NewUploadLimiter(maxConcurrent int, maxWait time.Duration) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &UploadLimiter{
		semaphore:   make(chan struct{}, maxConcurrent),
		maxWait:     maxWait,
		conferences: make(map[string]*conferenceLock),
	}
}

// Acquire attempts to acquire an upload slot.
// Returns nil on success, ErrTooManyUploads if timeout expires.
// The caller MUST call Release() when the upload completes (use defer).
func (l *UploadLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()
	return l.acquireSlot(ctx, waitCtx)
}

func (l *UploadLimiter) acquireSlot(ctx, waitCtx context.Context) error {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Distinguish caller cancellation from our own wait timeout.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyUploads
	}
}

// AcquireConference waits for exclusive access to conferenceID and then for
// a global slot, both within maxWait. The returned release frees both and
// must be called exactly once.
func (l *UploadLimiter) AcquireConference(ctx context.Context, conferenceID string) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	lock := l.conferenceRef(conferenceID)
	select {
	case lock.ch <- struct{}{}:
	case <-waitCtx.Done():
		l.conferenceUnref(conferenceID)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrConferenceBusy
	}

	unlock := func() {
		<-lock.ch
		l.conferenceUnref(conferenceID)
	}
	if err := l.acquireSlot(ctx, waitCtx); err != nil {
		unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.Release()
			unlock()
		})
	}, nil
}

func (l *UploadLimiter) conferenceRef(conferenceID string) *conferenceLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.conferences[conferenceID]
	if !ok {
		lock = &conferenceLock{ch: make(chan struct{}, 1)}
		l.conferences[conferenceID] = lock
	}
	lock.refs++
	return lock
}

func (l *UploadLimiter) conferenceUnref(conferenceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.conferences[conferenceID]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(l.conferences, conferenceID)
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful Acquire.
func (l *UploadLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of currently active uploads.
func (l *UploadLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the maximum allowed concurrent uploads.
func (l *UploadLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of available slots.
func (l *UploadLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all active uploads complete or context is cancelled.
func (l *UploadLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// UploadLimiterStatus is a snapshot of the limiter's state.
type UploadLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
	Conferences   int `json:"conferences"`
}

// Status returns the current limiter state for monitoring.
func (l *UploadLimiter) Status() UploadLimiterStatus {
	l.mu.RLock()
	active := l.active
	conferences := len(l.conferences)
	l.mu.RUnlock()

	return UploadLimiterStatus{
		Active:        active,
		Available:     l.Available(),
		MaxConcurrent: l.MaxConcurrent(),
		Conferences:   conferences,
	}
}
