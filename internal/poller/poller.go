// Package poller multiplexes I/O readiness for blocked tasks. Callers
// register a file descriptor together with the task parked on it; each
// readiness event hands the task handle back to the scheduler so the task
// can be made runnable directly.
//
// On Linux notifications are edge-triggered: a readiness event fires once
// per state transition, so consumers must drain the descriptor fully before
// parking again. Other Unix platforms fall back to level-triggered poll(2);
// it is strictly chattier but delivers the same wake guarantees. Only Unix
// platforms are supported.
package poller

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/weft-lang/weft/internal/logging"
	"github.com/weft-lang/weft/internal/task"
)

var (
	// ErrRegistered is returned when registering a descriptor twice.
	ErrRegistered = errors.New("descriptor already registered")
	// ErrNotRegistered is returned when modifying or unregistering an
	// unknown descriptor.
	ErrNotRegistered = errors.New("descriptor not registered")
)

// Interest is the set of readiness conditions a registration subscribes to.
type Interest struct {
	Readable bool
	Writable bool
}

// Event is one readiness notification. Error and Hangup are reported
// regardless of the registered interest.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	Error    bool
	Hangup   bool

	// Task is the handle registered with the descriptor, for direct
	// re-enqueue by the scheduler.
	Task task.Handle
}

type registration struct {
	interest Interest
	task     task.Handle
}

type rawEvent struct {
	fd       int
	readable bool
	writable bool
	err      bool
	hangup   bool
}

// backend is the platform readiness multiplexer.
type backend interface {
	add(fd int, interest Interest) error
	mod(fd int, interest Interest) error
	del(fd int) error
	wait(timeout time.Duration) ([]rawEvent, error)
	close() error
}

// Poller associates ready descriptors with the tasks blocked on them.
type Poller struct {
	mu   sync.Mutex
	regs map[int]registration

	backend backend
	logger  logging.Interface

	// self-pipe used to break an in-flight Wait
	wakeR, wakeW int

	waits    atomic.Uint64
	timeouts atomic.Uint64
	events   atomic.Uint64
	wakes    atomic.Uint64
}

func New(logger logging.Interface) (*Poller, error) {
	if logger == nil {
		logger = logging.Discard
	}

	b, err := newBackend()
	if err != nil {
		return nil, fmt.Errorf("initializing poller backend: %w", err)
	}

	var pipe [2]int
	if err := unix.Pipe(pipe[:]); err != nil {
		b.close()
		return nil, fmt.Errorf("creating wake pipe: %w", err)
	}
	for _, fd := range pipe {
		unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)
	}

	p := &Poller{
		regs:    make(map[int]registration),
		backend: b,
		logger:  logger,
		wakeR:   pipe[0],
		wakeW:   pipe[1],
	}
	if err := b.add(p.wakeR, Interest{Readable: true}); err != nil {
		p.Close()
		return nil, fmt.Errorf("registering wake pipe: %w", err)
	}
	return p, nil
}

// Register subscribes the descriptor with the given interest, associating it
// with the task parked on it.
func (p *Poller) Register(fd int, interest Interest, h task.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.regs[fd]; ok {
		return fmt.Errorf("fd %d: %w", fd, ErrRegistered)
	}
	if err := p.backend.add(fd, interest); err != nil {
		return fmt.Errorf("registering fd %d: %w", fd, err)
	}
	p.regs[fd] = registration{interest: interest, task: h}
	p.logger.Debug("registered descriptor", "fd", fd, "task", h.String())
	return nil
}

// Modify changes the interest set of a registered descriptor.
func (p *Poller) Modify(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reg, ok := p.regs[fd]
	if !ok {
		return fmt.Errorf("fd %d: %w", fd, ErrNotRegistered)
	}
	if err := p.backend.mod(fd, interest); err != nil {
		return fmt.Errorf("modifying fd %d: %w", fd, err)
	}
	reg.interest = interest
	p.regs[fd] = reg
	return nil
}

// Unregister removes the descriptor.
func (p *Poller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.regs[fd]; !ok {
		return fmt.Errorf("fd %d: %w", fd, ErrNotRegistered)
	}
	if err := p.backend.del(fd); err != nil {
		return fmt.Errorf("unregistering fd %d: %w", fd, err)
	}
	delete(p.regs, fd)
	return nil
}

// Wait blocks until at least one descriptor is ready or the timeout
// elapses. A negative timeout blocks indefinitely; zero polls. An elapsed
// timeout yields an empty result, never an error.
func (p *Poller) Wait(timeout time.Duration) ([]Event, error) {
	p.waits.Add(1)

	raw, err := p.backend.wait(timeout)
	if err != nil {
		return nil, fmt.Errorf("waiting for readiness: %w", err)
	}
	if len(raw) == 0 {
		p.timeouts.Add(1)
		return nil, nil
	}

	events := make([]Event, 0, len(raw))
	p.mu.Lock()
	for _, r := range raw {
		if r.fd == p.wakeR {
			p.drainWakePipe()
			continue
		}
		reg, ok := p.regs[r.fd]
		if !ok {
			// raced with Unregister
			continue
		}
		events = append(events, Event{
			FD:       r.fd,
			Readable: r.readable,
			Writable: r.writable,
			Error:    r.err,
			Hangup:   r.hangup,
			Task:     reg.task,
		})
	}
	p.mu.Unlock()

	p.events.Add(uint64(len(events)))
	return events, nil
}

// Wake breaks an in-flight Wait.
func (p *Poller) Wake() {
	p.wakes.Add(1)
	// A full pipe already guarantees a pending wake.
	_, _ = unix.Write(p.wakeW, []byte{0})
}

func (p *Poller) drainWakePipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return p.backend.close()
}

// Stats is a read-only snapshot of the poller's counters.
type Stats struct {
	Registered int    `yaml:"registered"`
	Waits      uint64 `yaml:"waits"`
	Timeouts   uint64 `yaml:"timeouts"`
	Events     uint64 `yaml:"events"`
	Wakes      uint64 `yaml:"wakes"`
}

func (p *Poller) Stats() Stats {
	p.mu.Lock()
	registered := len(p.regs)
	p.mu.Unlock()

	return Stats{
		Registered: registered,
		Waits:      p.waits.Load(),
		Timeouts:   p.timeouts.Load(),
		Events:     p.events.Load(),
		Wakes:      p.wakes.Load(),
	}
}

func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	ms := int(timeout / time.Millisecond)
	if ms == 0 {
		// sub-millisecond timeouts still have to block
		ms = 1
	}
	return ms
}
