package executor

import (
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("worker pool closed")
var ErrQueueFull = errors.New("sync queue is full")

// Pool to stała liczba workerów czytających zadania z kanału.
type Pool struct {
	jobs   chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < workers {
		queue = workers
	}
	p := &Pool{jobs: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Submit nie blokuje: pełna kolejka to ErrQueueFull.
func (p *Pool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close przestaje przyjmować zadania i czeka na zakończenie bieżących.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
