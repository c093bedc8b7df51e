// Package taskqueue runs fire-and-forget work items on named lanes. Each lane
// is a single goroutine draining a FIFO queue, so items submitted to the same
// lane run in submission order while different lanes proceed independently.
package taskqueue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/cyberinferno/go-gamenet/logger"
)

// ErrClosed is returned by TrySubmit after Close.
var ErrClosed = errors.New("taskqueue: runner closed")

// Runner owns a set of lanes created on first use.
type Runner struct {
	log logger.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	name   string
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	closed bool
}

// NewRunner creates a Runner that logs recovered panics to log.
func NewRunner(log logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Runner{
		log:   log,
		lanes: make(map[string]*lane),
	}
}

// Submit queues fn on the named lane, creating the lane if needed. Work
// submitted after Close is dropped.
//
// Parameters:
//   - name: Lane name; items on one lane run sequentially
//   - fn: The work item
func (r *Runner) Submit(name string, fn func()) {
	if err := r.TrySubmit(name, fn); err != nil {
		r.log.Debug("task dropped", logger.Field{Key: "lane", Value: name}, logger.Err(err))
	}
}

// TrySubmit is Submit but reports whether the item was accepted.
func (r *Runner) TrySubmit(name string, fn func()) error {
	if fn == nil {
		return fmt.Errorf("taskqueue: nil work item for lane %s", name)
	}

	l, err := r.lane(name)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	l.items.Add(fn)
	l.cond.Signal()
	return nil
}

// Pending returns the number of queued, not yet started items on a lane.
func (r *Runner) Pending(name string) int {
	r.mu.Lock()
	l, ok := r.lanes[name]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items.Length()
}

// Lanes returns the names of all lanes created so far.
func (r *Runner) Lanes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.lanes))
	for name := range r.lanes {
		names = append(names, name)
	}

	return names
}

// Close stops accepting work, lets every lane drain what is already queued,
// and waits for the lane goroutines to exit. Safe to call more than once.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	r.closed = true
	lanes := make([]*lane, 0, len(r.lanes))
	for _, l := range r.lanes {
		lanes = append(lanes, l)
	}
	r.mu.Unlock()

	for _, l := range lanes {
		l.mu.Lock()
		l.closed = true
		l.cond.Broadcast()
		l.mu.Unlock()
	}

	r.wg.Wait()
}

func (r *Runner) lane(name string) (*lane, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	if l, ok := r.lanes[name]; ok {
		return l, nil
	}

	l := &lane{name: name, items: queue.New()}
	l.cond = sync.NewCond(&l.mu)
	r.lanes[name] = l

	r.wg.Add(1)
	go r.drain(l)

	return l, nil
}

func (r *Runner) drain(l *lane) {
	defer r.wg.Done()

	for {
		l.mu.Lock()
		for l.items.Length() == 0 && !l.closed {
			l.cond.Wait()
		}

		if l.items.Length() == 0 {
			l.mu.Unlock()
			return
		}

		fn := l.items.Remove().(func())
		l.mu.Unlock()

		r.run(l.name, fn)
	}
}

func (r *Runner) run(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("task panicked",
				logger.Field{Key: "lane", Value: name},
				logger.Field{Key: "panic", Value: fmt.Sprint(rec)},
			)
		}
	}()

	fn()
}
