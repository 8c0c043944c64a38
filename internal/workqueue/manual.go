package workqueue

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Nothing runs until
// RunPending or Advance is called, and time only moves through Advance.
type Manual struct {
	mu      sync.Mutex
	start   time.Time
	elapsed time.Duration
	seq     int
	jobs    []job
	timers  []*manualTimer
	stopped bool
}

// NewManual returns a Manual whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{start: start}
}

type manualTimer struct {
	m    *Manual
	name string
	due  time.Duration
	seq  int
	fn   func()
	dead bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.dead {
		return false
	}
	t.dead = true
	return true
}

func (m *Manual) Submit(name string, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	m.jobs = append(m.jobs, job{name: name, fn: fn})
	return true
}

func (m *Manual) AfterFunc(name string, d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, name: name, due: m.elapsed + d, seq: m.seq, fn: fn}
	if m.stopped {
		t.dead = true
		return t
	}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start.Add(m.elapsed)
}

// Elapsed is the time advanced so far.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// RunPending runs queued work, including work queued while running, and
// returns how many jobs ran.
func (m *Manual) RunPending() int {
	ran := 0
	for {
		m.mu.Lock()
		if len(m.jobs) == 0 {
			m.mu.Unlock()
			return ran
		}
		j := m.jobs[0]
		m.jobs = m.jobs[1:]
		m.mu.Unlock()

		j.fn()
		ran++
	}
}

// Advance moves the clock forward by d, firing due timers in order and
// running the work they queue.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.elapsed + d
	m.mu.Unlock()

	m.RunPending()
	for {
		m.mu.Lock()
		t := m.nextDue(target)
		if t == nil {
			m.elapsed = target
			m.mu.Unlock()
			break
		}
		t.dead = true
		m.elapsed = t.due
		if !m.stopped {
			m.jobs = append(m.jobs, job{name: t.name, fn: t.fn})
		}
		m.mu.Unlock()

		m.RunPending()
	}
	m.RunPending()
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.dead {
			live = append(live, t)
		}
	}
	m.timers = live

	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due != m.timers[j].due {
			return m.timers[i].due < m.timers[j].due
		}
		return m.timers[i].seq < m.timers[j].seq
	})
	if len(m.timers) == 0 || m.timers[0].due > target {
		return nil
	}
	return m.timers[0]
}

// PendingTimers returns the names of timers that have not fired, soonest
// first.
func (m *Manual) PendingTimers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDue(-1)
	names := make([]string, 0, len(m.timers))
	for _, t := range m.timers {
		names = append(names, t.name)
	}
	return names
}

// PendingJobs returns the names of queued work.
func (m *Manual) PendingJobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for _, j := range m.jobs {
		names = append(names, j.name)
	}
	return names
}

// Stop mirrors Queue.Stop: new work is refused, timers are cancelled and
// queued work still runs.
func (m *Manual) Stop() {
	m.mu.Lock()
	m.stopped = true
	for _, t := range m.timers {
		t.dead = true
	}
	m.timers = nil
	m.mu.Unlock()

	m.RunPending()
}
