//go:build unix && !linux

package preempt

import "errors"

const signalSupported = false

// CurrentThreadID returns 0: thread ids are not used in cooperative mode.
func CurrentThreadID() int {
	return 0
}

func signalThread(tid int) error {
	return errors.New("asynchronous preemption unsupported on this platform")
}
