package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-set/v3"
	"github.com/rs/zerolog/log"
)

var ErrPoolStopped = errors.New("job pool stopped")

const defaultTaskTimeout = 2 * time.Minute

// Pool is the in-process scheduler: timers feed a fixed set of workers.
// Pending work is lost on restart.
type Pool struct {
	workers int
	timeout time.Duration
	queue   chan Task

	mu      sync.Mutex
	handler Handler
	pending *set.Set[Task]
	timers  map[*time.Timer]struct{}
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		workers: workers,
		timeout: defaultTaskTimeout,
		queue:   make(chan Task, 256),
		pending: set.New[Task](16),
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
	}
}

// Bind sets the handler. It must be called before Start.
func (p *Pool) Bind(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	log.Info().Int("workers", p.workers).Msg("job pool started")
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case t := <-p.queue:
			p.run(ctx, t)
		}
	}
}

func (p *Pool) run(ctx context.Context, t Task) {
	p.mu.Lock()
	h := p.handler
	p.pending.Remove(t)
	p.mu.Unlock()
	if h == nil {
		log.Warn().Str("task", t.String()).Msg("no job handler bound, dropping task")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	if err := h.HandleTask(ctx, t); err != nil {
		log.Error().Err(err).Str("task", t.String()).Str("gameId", t.GameID.String()).Msg("job failed")
		return
	}
	log.Debug().Str("task", t.String()).Dur("dur", time.Since(start)).Msg("job done")
}

// RunAfter schedules t. A task identical to one still waiting is dropped.
func (p *Pool) RunAfter(_ context.Context, delay time.Duration, t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	if !p.pending.Insert(t) {
		return nil
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}
		select {
		case p.queue <- t:
		case <-p.done:
		}
	})
	p.timers[timer] = struct{}{}
	return nil
}

// Pending reports how many tasks are scheduled or queued but not yet running.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Size()
}

// Stop cancels waiting timers and waits for running tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for t := range p.timers {
		t.Stop()
	}
	p.timers = nil
	close(p.done)
	p.mu.Unlock()
	p.wg.Wait()
}
