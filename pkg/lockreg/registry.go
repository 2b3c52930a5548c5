// Package lockreg implements the named, FIFO, timeout-capable mutex
// registry of spec.md §4.L. Names are typically a tree id, optionally
// qualified with a leaf id for the per-leaf ext_data locks spec.md §5
// describes.
package lockreg

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// LockTimeout reports that a lock acquisition did not complete within its
// configured timeout.
var LockTimeout = errors.New("lockreg: timed out acquiring lock")

// DefaultTimeout is used when Lock is called without an explicit timeout.
const DefaultTimeout = 5 * time.Second

// namedLock is a ticket-chain FIFO mutex: each acquirer creates a channel
// representing its own turn and waits on the previous acquirer's channel
// to close, guaranteeing waiters are served in arrival order.
type namedLock struct {
	mu   sync.Mutex
	tail chan struct{}
}

// Handle is a held lock; call Release to let the next waiter in.
type Handle struct {
	release func()
	once    sync.Once
}

// Release releases the lock. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(h.release)
}

// Registry is a process-wide map of named locks, keyed by tree id (and
// optionally leaf id). Its lifecycle is tied to tree construction/close,
// per spec.md §9's note on global mutable state.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*namedLock
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{locks: make(map[string]*namedLock)}
}

func (r *Registry) lockFor(name string) *namedLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &namedLock{}
		r.locks[name] = l
	}
	return l
}

// Lock acquires the named lock, blocking FIFO among waiters, and fails
// with LockTimeout if it is not granted within timeout (DefaultTimeout if
// timeout <= 0).
func (r *Registry) Lock(ctx context.Context, name string, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := r.lockFor(name)

	myTurn := make(chan struct{})
	l.mu.Lock()
	prev := l.tail
	l.tail = myTurn
	l.mu.Unlock()

	handle := &Handle{release: func() { close(myTurn) }}

	if prev == nil {
		return handle, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-prev:
		return handle, nil
	case <-ctx.Done():
	case <-timer.C:
	}

	// We gave up waiting; pass our turn on to whoever is chained behind us
	// once the current holder releases, without ever having held the lock
	// ourselves.
	go func() {
		<-prev
		close(myTurn)
	}()
	return nil, errors.Wrapf(LockTimeout, "lock %q: timed out after %s", name, timeout)
}

// Close drops all tracked locks. Safe to call once a tree is no longer in
// use; held locks are not forcibly released.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks = make(map[string]*namedLock)
}
