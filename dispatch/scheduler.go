package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

/* Scheduler is a delayed-task queue backed by a min-heap keyed on run time.
 * One timer goroutine drains due tasks, so resource usage stays bounded under
 * high fan-out instead of holding a raw timer per pending retry.
 */
type Scheduler struct {
	mu    sync.Mutex
	tasks taskHeap
	wake  chan struct{}
	stop  chan struct{}
	once  sync.Once
}

type task struct {
	runAt          time.Time
	subscriptionID string
	fn             func()
	index          int
}

// NewScheduler creates a stopped scheduler; call Start to begin draining.
func NewScheduler() *Scheduler {
	return &Scheduler{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// Start runs the timer loop until the context is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop terminates the timer loop. Pending tasks are dropped.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// Schedule enqueues fn to run no earlier than runAt. The subscription id
// tags the task so Cancel can drop it.
func (s *Scheduler) Schedule(runAt time.Time, subscriptionID string, fn func()) {
	s.mu.Lock()
	heap.Push(&s.tasks, &task{runAt: runAt, subscriptionID: subscriptionID, fn: fn})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel drops every pending task for a subscription and reports how many
// were removed. Tasks already running are unaffected.
func (s *Scheduler) Cancel(subscriptionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for i := 0; i < len(s.tasks); {
		if s.tasks[i].subscriptionID == subscriptionID {
			heap.Remove(&s.tasks, i)
			removed++
			continue
		}
		i++
	}
	return removed
}

// Len reports the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) loop(ctx context.Context) {
	const idleWait = time.Minute

	for {
		due := s.collectDue()
		for _, t := range due {
			go t.fn()
		}

		wait := idleWait
		s.mu.Lock()
		if len(s.tasks) > 0 {
			if until := time.Until(s.tasks[0].runAt); until < wait {
				wait = until
			}
		}
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// collectDue pops every task whose run time has passed.
func (s *Scheduler) collectDue() []*task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []*task
	for len(s.tasks) > 0 && !s.tasks[0].runAt.After(now) {
		due = append(due, heap.Pop(&s.tasks).(*task))
	}
	return due
}

// taskHeap implements heap.Interface ordered by runAt.
type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].runAt.Before(h[j].runAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x interface{}) { t := x.(*task); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
