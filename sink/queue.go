package sink

import "sync"

type job func()

// jobQueue is an unbounded FIFO drained by one worker, so pushes from
// the commit path never block.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	wake   chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{wake: make(chan struct{}, 1)}
}

func (q *jobQueue) push(j job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	q.signal()
	return true
}

func (q *jobQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// closeIfEmpty closes q only when nothing is waiting in it.
func (q *jobQueue) closeIfEmpty() bool {
	q.mu.Lock()
	if len(q.jobs) > 0 {
		q.mu.Unlock()
		return false
	}
	q.closed = true
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *jobQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *jobQueue) pop() (job, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			j := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]
			q.mu.Unlock()
			return j, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}
