//go:build linux

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollBackend is the Linux readiness multiplexer. Registrations are armed
// edge-triggered (EPOLLET): one notification per state transition.
type epollBackend struct {
	epfd int
}

func newBackend() (backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{epfd: epfd}, nil
}

func interestMask(interest Interest) uint32 {
	mask := uint32(unix.EPOLLET)
	if interest.Readable {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest.Writable {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (b *epollBackend) add(fd int, interest Interest) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: interestMask(interest),
		Fd:     int32(fd),
	})
}

func (b *epollBackend) mod(fd int, interest Interest) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: interestMask(interest),
		Fd:     int32(fd),
	})
}

func (b *epollBackend) del(fd int) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (b *epollBackend) wait(timeout time.Duration) ([]rawEvent, error) {
	var evs [128]unix.EpollEvent

	var n int
	var err error
	for {
		n, err = unix.EpollWait(b.epfd, evs[:], timeoutMillis(timeout))
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	raw := make([]rawEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := evs[i]
		raw = append(raw, rawEvent{
			fd:       int(ev.Fd),
			readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			writable: ev.Events&unix.EPOLLOUT != 0,
			err:      ev.Events&unix.EPOLLERR != 0,
			hangup:   ev.Events&unix.EPOLLHUP != 0,
		})
	}
	return raw, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}
