package call

import (
	"sync"
)

const taskBacklog = 32

// taskQueue serializes work per key: every task submitted for a key runs
// after all previously submitted tasks for that key, with at most one in
// flight at a time. This is the engine's only mutual-exclusion primitive; it
// keeps establish and accept-offer for one member address from interleaving.
type taskQueue struct {
	mu      sync.Mutex
	workers map[string]*taskWorker
	dropped map[string]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type taskWorker struct {
	mu     sync.Mutex
	closed bool
	tasks  chan func()
}

func (w *taskWorker) submit(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.tasks <- fn
	return true
}

func (w *taskWorker) retire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.tasks)
	}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		workers: make(map[string]*taskWorker),
		dropped: make(map[string]struct{}),
	}
}

// Do enqueues fn behind every task already queued for key. The call blocks
// only while the key's backlog is full. Submissions for a dropped key are
// discarded: a task racing the owner's teardown must not revive the worker.
func (q *taskQueue) Do(key string, fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, gone := q.dropped[key]; gone {
		q.mu.Unlock()
		return
	}
	w, ok := q.workers[key]
	if !ok {
		w = &taskWorker{tasks: make(chan func(), taskBacklog)}
		q.workers[key] = w
		q.wg.Add(1)
		go q.run(w)
	}
	q.mu.Unlock()

	w.submit(fn)
}

func (q *taskQueue) run(w *taskWorker) {
	defer q.wg.Done()
	for fn := range w.tasks {
		fn()
	}
}

// Drop retires the worker for key once its backlog runs out and refuses the
// key from then on. Used when a member is removed; keys are per member
// instance, so a retired key is never reused.
func (q *taskQueue) Drop(key string) {
	q.mu.Lock()
	q.dropped[key] = struct{}{}
	w, ok := q.workers[key]
	if ok {
		delete(q.workers, key)
	}
	q.mu.Unlock()
	if ok {
		w.retire()
	}
}

// Close retires all workers and waits for queued tasks to finish.
func (q *taskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	workers := make([]*taskWorker, 0, len(q.workers))
	for key, w := range q.workers {
		delete(q.workers, key)
		workers = append(workers, w)
	}
	q.mu.Unlock()

	for _, w := range workers {
		w.retire()
	}
	q.wg.Wait()
}
