package server

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

var (
	errPoolClosed = errors.New("worker pool closed")
	errPoolFull   = errors.New("worker pool queue full")
)

// pool runs the dispatch and write half of a request on a fixed set of
// workers. Each worker has its own queue, fed round-robin; a worker with an
// empty queue steals from the others before going to sleep. At most limit
// sessions wait across all queues.
type pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues []*queue.Queue
	next   int
	size   int
	limit  int
	closed bool

	wg  sync.WaitGroup
	run func(*Session)
}

func newPool(workers, limit int, run func(*Session)) *pool {
	p := &pool{
		queues: make([]*queue.Queue, workers),
		limit:  limit,
		run:    run,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range p.queues {
		p.queues[i] = queue.New()
	}
	return p
}

func (p *pool) start() {
	for i := range p.queues {
		p.wg.Add(1)
		go p.work(i)
	}
}

func (p *pool) work(id int) {
	defer p.wg.Done()
	for {
		sess, ok := p.take(id)
		if !ok {
			return
		}
		p.run(sess)
	}
}

// submit queues a session whose request has been read.
func (p *pool) submit(sess *Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errPoolClosed
	}
	if p.limit > 0 && p.size >= p.limit {
		return errPoolFull
	}
	p.queues[p.next].Add(sess)
	p.next = (p.next + 1) % len(p.queues)
	p.size++
	p.cond.Signal()
	return nil
}

func (p *pool) take(id int) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			return nil, false
		}
		for i := range p.queues {
			// own queue first
			q := p.queues[(id+i)%len(p.queues)]
			if q.Length() > 0 {
				p.size--
				return q.Remove().(*Session), true
			}
		}
		p.cond.Wait()
	}
}

// close stops the workers after their current session and hands back the
// sessions that were still queued.
func (p *pool) close() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var pending []*Session
	for _, q := range p.queues {
		for q.Length() > 0 {
			pending = append(pending, q.Remove().(*Session))
		}
	}
	p.size = 0
	p.cond.Broadcast()
	return pending
}

func (p *pool) wait() {
	p.wg.Wait()
}

func (p *pool) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}
