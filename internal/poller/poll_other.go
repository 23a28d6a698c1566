//go:build unix && !linux

package poller

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollBackend is the portable poll(2) fallback. Notifications are
// level-triggered: an undrained descriptor reports ready on every wait.
// Wake semantics match the Linux backend; only the notification cadence
// differs.
type pollBackend struct {
	mu  sync.Mutex
	fds map[int]Interest
}

func newBackend() (backend, error) {
	return &pollBackend{fds: make(map[int]Interest)}, nil
}

func (b *pollBackend) add(fd int, interest Interest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fds[fd] = interest
	return nil
}

func (b *pollBackend) mod(fd int, interest Interest) error {
	return b.add(fd, interest)
}

func (b *pollBackend) del(fd int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.fds, fd)
	return nil
}

func (b *pollBackend) wait(timeout time.Duration) ([]rawEvent, error) {
	b.mu.Lock()
	pollfds := make([]unix.PollFd, 0, len(b.fds))
	for fd, interest := range b.fds {
		var events int16
		if interest.Readable {
			events |= unix.POLLIN
		}
		if interest.Writable {
			events |= unix.POLLOUT
		}
		pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	b.mu.Unlock()

	var n int
	var err error
	for {
		n, err = unix.Poll(pollfds, timeoutMillis(timeout))
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	raw := make([]rawEvent, 0, n)
	for _, pfd := range pollfds {
		if pfd.Revents == 0 {
			continue
		}
		raw = append(raw, rawEvent{
			fd:       int(pfd.Fd),
			readable: pfd.Revents&unix.POLLIN != 0,
			writable: pfd.Revents&unix.POLLOUT != 0,
			err:      pfd.Revents&unix.POLLERR != 0,
			hangup:   pfd.Revents&unix.POLLHUP != 0,
		})
	}
	return raw, nil
}

func (b *pollBackend) close() error {
	return nil
}
