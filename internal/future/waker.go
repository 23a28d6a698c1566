package future

// Waker is a handle that, when invoked, marks a suspended task runnable
// again. Wakers must be safe to invoke from any goroutine and must tolerate
// being invoked after the task has already resumed.
type Waker struct {
	wake func()
}

func NewWaker(wake func()) Waker {
	return Waker{wake: wake}
}

func (w Waker) Wake() {
	if w.wake != nil {
		w.wake()
	}
}

// Context carries the waker a consumer passes to Poll.
type Context struct {
	waker Waker
}

func NewContext(w Waker) *Context {
	return &Context{waker: w}
}

func (c *Context) Waker() Waker {
	return c.waker
}
