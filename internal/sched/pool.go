package sched

import (
	"errors"
	"sync"
)

// ErrPoolExhausted is returned when the machine cap has been reached.
var ErrPoolExhausted = errors.New("machine pool exhausted")

// pool owns all machines, bounded by the configured parallelism cap, and
// partitions them into all and idle. A machine is in at most one of
// {idle, attached to a processor}.
type pool struct {
	mu   sync.Mutex
	max  int
	all  []*Machine
	idle []*Machine
}

func newPool(max int) *pool {
	return &pool{max: max}
}

// create adds a new machine, failing once the cap is reached. The caller
// starts it.
func (p *pool) create(s *Scheduler) (*Machine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.all) >= p.max {
		return nil, ErrPoolExhausted
	}
	m := newMachine(s)
	p.all = append(p.all, m)
	return m, nil
}

// addIdle parks the machine in the idle list. Called by the machine itself
// immediately before it blocks.
func (p *pool) addIdle(m *Machine) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.idle = append(p.idle, m)
}

// unpark pops an idle machine and signals it. Returns false when no machine
// is idle.
func (p *pool) unpark() bool {
	p.mu.Lock()
	n := len(p.idle)
	if n == 0 {
		p.mu.Unlock()
		return false
	}
	m := p.idle[n-1]
	p.idle = p.idle[:n-1]
	p.mu.Unlock()

	m.unpark()
	return true
}

func (p *pool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.all)
}

// machines returns a snapshot of all machines.
func (p *pool) machines() []*Machine {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*Machine{}, p.all...)
}
