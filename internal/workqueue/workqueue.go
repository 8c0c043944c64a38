// Package workqueue runs deferred work and one-shot timers outside the
// context that requested them.
package workqueue

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
)

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop prevents the callback from being queued. It reports false when
	// the timer already fired or was stopped.
	Stop() bool
}

// Scheduler defers work. Names only label work for logging and tests.
type Scheduler interface {
	// Submit queues fn to run on a worker. It reports false once the
	// scheduler is stopping.
	Submit(name string, fn func()) bool
	// AfterFunc queues fn once d has elapsed.
	AfterFunc(name string, d time.Duration, fn func()) Timer
	Now() time.Time
}

const (
	defaultWorkers = 2
	// backlogWarn is the queue length past which submissions are logged.
	// The backlog itself is unbounded so that work may submit work.
	backlogWarn = 64
)

type job struct {
	name string
	fn   func()
}

// Queue is a Scheduler backed by a fixed pool of goroutines. Submit never
// blocks.
type Queue struct {
	pending  []job
	ready    *sync.Cond
	quitting bool
	workers  sync.WaitGroup
	inflight sync.WaitGroup
	mu       sync.Mutex
	timers   map[*queueTimer]struct{}
	closed   bool
	logger   logger.Logger
}

// New starts a Queue with the given number of workers.
func New(workers int, log logger.Logger) *Queue {
	if workers <= 0 {
		workers = defaultWorkers
	}
	q := &Queue{
		timers: make(map[*queueTimer]struct{}),
		logger: log,
	}
	q.ready = sync.NewCond(&q.mu)
	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.run()
	}
	return q
}

func (q *Queue) run() {
	defer q.workers.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.quitting {
			q.ready.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.exec(j)
	}
}

func (q *Queue) exec(j job) {
	defer q.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Str("work", j.name).Interface("panic", r).Msg("Deferred work panicked")
		}
	}()
	j.fn()
}

func (q *Queue) Submit(name string, fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Debug().Str("work", name).Msg("Dropping work submitted during shutdown")
		return false
	}
	q.inflight.Add(1)
	q.pending = append(q.pending, job{name: name, fn: fn})
	backlog := len(q.pending)
	q.ready.Signal()
	q.mu.Unlock()

	if backlog == backlogWarn {
		q.logger.Warn().Str("work", name).Int("backlog", backlog).Msg("Work queue backlog growing")
	}
	return true
}

func (q *Queue) AfterFunc(name string, d time.Duration, fn func()) Timer {
	t := &queueTimer{q: q}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return t
	}
	q.timers[t] = struct{}{}
	t.t = time.AfterFunc(d, func() {
		q.mu.Lock()
		_, live := q.timers[t]
		delete(q.timers, t)
		q.mu.Unlock()
		if live {
			q.Submit(name, fn)
		}
	})
	return t
}

func (*Queue) Now() time.Time {
	return time.Now()
}

// Stop refuses new work, cancels every pending timer and waits for queued
// work to finish or ctx to end.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancelled := 0
	for t := range q.timers {
		if t.t != nil && t.t.Stop() {
			cancelled++
		}
		delete(q.timers, t)
	}
	q.mu.Unlock()

	q.logger.Debug().Int("timers_cancelled", cancelled).Msg("Work queue stopping")

	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}

	q.mu.Lock()
	q.quitting = true
	q.ready.Broadcast()
	q.mu.Unlock()
	q.workers.Wait()
	return nil
}

type queueTimer struct {
	q *Queue
	t *time.Timer
}

func (t *queueTimer) Stop() bool {
	if t.t == nil {
		return false
	}
	t.q.mu.Lock()
	_, live := t.q.timers[t]
	delete(t.q.timers, t)
	t.q.mu.Unlock()
	return live && t.t.Stop()
}
