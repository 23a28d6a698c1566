// Package future provides a value container with pending/ready states, a
// waker protocol for resuming blocked tasks, and combinators for composing
// asynchronous results.
package future

import "sync"

// State is the lifecycle stage of a future.
type State uint8

const (
	// Pending: not yet resolved; polls register a waker.
	Pending State = iota
	// Ready: resolved with a value.
	Ready
	// Failed: rejected with an error.
	Failed
)

func (s State) String() string {
	return [...]string{"pending", "ready", "failed"}[s]
}

// Poll is the tagged result of polling a future.
type Poll[T any] struct {
	State State
	Value T
	Err   error
}

// Future is a write-once container for an asynchronous result. Resolution is
// idempotent: the first Resolve or Reject wins and later calls are no-ops.
// All wakers registered before resolution are drained and invoked exactly
// once, outside the future's lock.
type Future[T any] struct {
	mu     sync.Mutex
	state  State
	value  T
	err    error
	wakers []Waker
}

func New[T any]() *Future[T] {
	return &Future[T]{}
}

// Resolved returns a future already resolved with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a future already rejected with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Poll returns the current state. While pending, the context's waker (if
// any) is registered for a wake on resolution; once resolved, polls return
// the same result without registering anything.
func (f *Future[T]) Poll(ctx *Context) Poll[T] {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Pending {
		if ctx != nil {
			f.wakers = append(f.wakers, ctx.Waker())
		}
		return Poll[T]{State: Pending}
	}
	return Poll[T]{State: f.state, Value: f.value, Err: f.err}
}

// State returns the future's state without registering a waker.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

// Resolve completes the future with a value. Returns false if the future
// was already resolved or rejected.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(Ready, v, nil)
}

// Reject completes the future with an error. Returns false if the future
// was already resolved or rejected.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.complete(Failed, zero, err)
}

func (f *Future[T]) complete(state State, v T, err error) bool {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return false
	}
	f.state = state
	f.value = v
	f.err = err
	wakers := f.wakers
	f.wakers = nil
	f.mu.Unlock()

	// Wakers run outside the lock: a wake may immediately schedule the
	// woken task, which may poll this same future.
	for _, w := range wakers {
		w.Wake()
	}
	return true
}

// onResolve arranges for fn to run with the final poll once the future
// resolves; immediately if it already has. The building block for
// combinators.
func (f *Future[T]) onResolve(fn func(Poll[T])) {
	f.mu.Lock()
	if f.state != Pending {
		p := Poll[T]{State: f.state, Value: f.value, Err: f.err}
		f.mu.Unlock()
		fn(p)
		return
	}
	f.wakers = append(f.wakers, NewWaker(func() {
		fn(f.Poll(nil))
	}))
	f.mu.Unlock()
}
