//go:build linux

package preempt

import "golang.org/x/sys/unix"

const signalSupported = true

// CurrentThreadID returns the kernel thread id of the calling goroutine's
// thread. Callers must have locked the goroutine to its thread for the id
// to stay meaningful.
func CurrentThreadID() int {
	return unix.Gettid()
}

// signalThread delivers SIGURG to the thread. The handler itself is a no-op
// (the Go runtime already swallows SIGURG); the delivery exists to kick the
// thread out of a slow syscall so the preempt flag is observed sooner.
// Register-level context capture from the signal frame would need a
// target-specific assist and is not attempted.
func signalThread(tid int) error {
	return unix.Tgkill(unix.Getpid(), tid, unix.SIGURG)
}
