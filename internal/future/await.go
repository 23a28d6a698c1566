package future

import "github.com/weft-lang/weft/internal/task"

// Await parks the calling task until the future resolves, returning its
// value or error. The task's waker is wired to the scheduler's wake path,
// and the poll/park loop tolerates spurious wakes.
func Await[T any](ex *task.Execution, f *Future[T]) (T, error) {
	ctx := NewContext(NewWaker(ex.Waker()))
	for {
		p := f.Poll(ctx)
		if p.State != Pending {
			return p.Value, p.Err
		}
		if err := ex.Park(); err != nil {
			var zero T
			return zero, err
		}
	}
}
