// Package dispatch provides the session's home context: a serial queue
// backed by a single goroutine. Everything that mutates session state or
// fires a listener callback runs on this queue, so there is exactly one
// writer at any instant without locking shared structures.
package dispatch

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// CurrentGoroutineID returns the numeric ID of the calling goroutine,
// parsed from the runtime stack header ("goroutine N [running]:").
// Used only to fence API entry points to their owning context.
func CurrentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Queue is a serial executor. Jobs run in submission order on one
// dedicated goroutine.
type Queue struct {
	jobs chan func()
	done chan struct{}

	mu     sync.Mutex
	closed bool

	loopGID uint64
}

func NewQueue() *Queue {
	q := &Queue{
		jobs: make(chan func(), 64),
		done: make(chan struct{}),
	}
	ready := make(chan struct{})
	go q.loop(ready)
	<-ready
	return q
}

func (q *Queue) loop(ready chan<- struct{}) {
	q.loopGID = CurrentGoroutineID()
	close(ready)
	defer close(q.done)
	for job := range q.jobs {
		job()
	}
}

// OnQueue reports whether the caller is running on the queue goroutine.
func (q *Queue) OnQueue() bool {
	return CurrentGoroutineID() == q.loopGID
}

// Post schedules a job to run on the queue. Jobs posted after Close are
// dropped, which is what cancellation semantics require: callbacks for
// torn-down sessions must not fire.
func (q *Queue) Post(job func()) {
	if q.OnQueue() {
		// Re-entrant submission from a running job keeps FIFO order only
		// if executed inline; queueing it behind a blocked Call would
		// deadlock.
		job()
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.jobs <- job
	q.mu.Unlock()
}

// Call runs a job on the queue and waits for it to finish. Calls made
// from the queue goroutine itself execute inline.
func (q *Queue) Call(job func()) {
	if q.OnQueue() {
		job()
		return
	}
	doneCh := make(chan struct{})
	q.Post(func() {
		job()
		close(doneCh)
	})
	select {
	case <-doneCh:
	case <-q.done:
	}
}

// Close stops the queue after draining already-submitted jobs and waits
// for the loop goroutine to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	<-q.done
}
