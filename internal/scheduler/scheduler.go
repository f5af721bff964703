package scheduler

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

type Task struct {
	Name    string
	Execute func() error
}

// queue tracks the in-flight state for one key. At most one task per key
// runs at a time; at most one more waits. A newer pending task replaces
// the older one.
type queue struct {
	running bool
	pending *Task
}

// Scheduler runs tasks serially per key with a global parallelism bound.
type Scheduler struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	queues  map[string]*queue
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler running at most maxParallel tasks at once.
func NewScheduler(maxParallel int) *Scheduler {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Scheduler{
		sem:    semaphore.NewWeighted(int64(maxParallel)),
		queues: make(map[string]*queue),
	}
}

// Schedule queues a task under the given key. If a task for the key is
// already running the new one becomes its single pending successor,
// replacing any task that was pending before. Returns false once the
// scheduler is stopped.
func (s *Scheduler) Schedule(key string, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		log.Printf("Skipped scheduling %s. Scheduler is stopped.", task.Name)
		return false
	}

	q, ok := s.queues[key]
	if !ok {
		q = &queue{}
		s.queues[key] = q
	}

	if q.running {
		if q.pending != nil {
			log.Printf("Replacing pending task %s with %s.", q.pending.Name, task.Name)
		}
		q.pending = &task
		return true
	}

	q.running = true
	s.wg.Add(1)
	go s.run(key, task)
	return true
}

// Purge drops the pending task for a key. A task that is already running
// finishes normally.
func (s *Scheduler) Purge(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[key]
	if !ok {
		return
	}
	q.pending = nil
	if !q.running {
		delete(s.queues, key)
	}
}

// run executes task and then chains into whatever is pending for the key.
// The wait-group entry covers the whole chain.
func (s *Scheduler) run(key string, task Task) {
	defer s.wg.Done()
	for {
		if err := s.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		if err := task.Execute(); err != nil {
			log.Printf("Task %s failed: %v", task.Name, err)
		}
		s.sem.Release(1)

		s.mu.Lock()
		q := s.queues[key]
		if q.pending == nil {
			q.running = false
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		task = *q.pending
		q.pending = nil
		s.mu.Unlock()
	}
}

// Stop rejects further submissions and waits for running and pending tasks
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	log.Println("Stopping scheduler.")
	s.wg.Wait()
	log.Println("Scheduler stopped.")
}
