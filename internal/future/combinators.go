package future

import "sync/atomic"

// Map returns a future resolving with fn applied to f's value. Rejection
// passes through untouched; timing is unchanged.
func Map[T, U any](f *Future[T], fn func(T) U) *Future[U] {
	out := New[U]()
	f.onResolve(func(p Poll[T]) {
		if p.Err != nil {
			out.Reject(p.Err)
			return
		}
		out.Resolve(fn(p.Value))
	})
	return out
}

// Then sequences a dependent future: once f resolves, fn produces the next
// future, whose result resolves the returned future.
func Then[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	out := New[U]()
	f.onResolve(func(p Poll[T]) {
		if p.Err != nil {
			out.Reject(p.Err)
			return
		}
		fn(p.Value).onResolve(func(q Poll[U]) {
			if q.Err != nil {
				out.Reject(q.Err)
				return
			}
			out.Resolve(q.Value)
		})
	})
	return out
}

// Pair is the result of joining two futures.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Join completes only when both inputs are ready, regardless of completion
// order. The first rejection rejects the result.
func Join[A, B any](a *Future[A], b *Future[B]) *Future[Pair[A, B]] {
	out := New[Pair[A, B]]()

	var pair Pair[A, B]
	var remaining atomic.Int32
	remaining.Store(2)

	a.onResolve(func(p Poll[A]) {
		if p.Err != nil {
			out.Reject(p.Err)
			return
		}
		pair.First = p.Value
		if remaining.Add(-1) == 0 {
			out.Resolve(pair)
		}
	})
	b.onResolve(func(p Poll[B]) {
		if p.Err != nil {
			out.Reject(p.Err)
			return
		}
		pair.Second = p.Value
		if remaining.Add(-1) == 0 {
			out.Resolve(pair)
		}
	})
	return out
}

// JoinAll completes only when every input is ready, yielding the values in
// input order regardless of completion order. The first rejection rejects
// the result.
func JoinAll[T any](fs []*Future[T]) *Future[[]T] {
	out := New[[]T]()

	if len(fs) == 0 {
		out.Resolve([]T{})
		return out
	}

	results := make([]T, len(fs))
	var remaining atomic.Int64
	remaining.Store(int64(len(fs)))

	for i, f := range fs {
		i := i
		f.onResolve(func(p Poll[T]) {
			if p.Err != nil {
				out.Reject(p.Err)
				return
			}
			// each index is written by exactly one callback; the final
			// decrement orders all writes before the resolve
			results[i] = p.Value
			if remaining.Add(-1) == 0 {
				out.Resolve(results)
			}
		})
	}
	return out
}

// Race completes with the first input to resolve, value or error. Losing
// futures are left to resolve in their own time; their wakers are drained
// on their own resolution and the winner's latch makes late completions
// no-ops, so nothing leaks.
func Race[T any](fs ...*Future[T]) *Future[T] {
	out := New[T]()
	for _, f := range fs {
		f.onResolve(func(p Poll[T]) {
			if p.Err != nil {
				out.Reject(p.Err)
				return
			}
			out.Resolve(p.Value)
		})
	}
	return out
}

// Selected reports which input won a Select and with what result.
type Selected[T any] struct {
	Index int
	Value T
	Err   error
}

// Select completes with the index and result of the first input to
// resolve. Like Race, losers leak nothing.
func Select[T any](fs []*Future[T]) *Future[Selected[T]] {
	out := New[Selected[T]]()
	for i, f := range fs {
		i := i
		f.onResolve(func(p Poll[T]) {
			out.Resolve(Selected[T]{Index: i, Value: p.Value, Err: p.Err})
		})
	}
	return out
}
