package queue

import (
	"sync"

	"github.com/ytget/tubegrab/internal/model"
)

// Event is one observed job transition: the state and progress that were
// published together, never split.
type Event struct {
	JobID    string
	Snapshot model.Snapshot
}

// feed fans events out to subscribers. Each subscriber keeps at most one
// pending event per job: if the consumer lags, newer events replace older
// ones for the same job instead of queueing without bound.
type feed struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
}

func newFeed() *feed {
	return &feed{}
}

func (f *feed) subscribe() <-chan Event {
	s := &subscriber{
		pending: make(map[string]Event),
		wake:    make(chan struct{}, 1),
		out:     make(chan Event),
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(s.out)
		return s.out
	}
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	go s.pump()
	return s.out
}

func (f *feed) publish(ev Event) {
	f.mu.Lock()
	subs := f.subs
	f.mu.Unlock()

	for _, s := range subs {
		s.offer(ev)
	}
}

func (f *feed) close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

type subscriber struct {
	mu      sync.Mutex
	pending map[string]Event // latest event per job
	order   []string         // jobs with a pending event, oldest first
	closed  bool

	wake chan struct{} // cap 1
	out  chan Event
}

// offer stores the event, replacing any pending one for the same job.
func (s *subscriber) offer(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, queued := s.pending[ev.JobID]; !queued {
		s.order = append(s.order, ev.JobID)
	}
	s.pending[ev.JobID] = ev
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump delivers pending events in arrival order, blocking on the consumer.
// Coalescing happens in offer while pump is blocked here.
func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		if len(s.order) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				close(s.out)
				return
			}
			<-s.wake
			continue
		}
		id := s.order[0]
		s.order = s.order[1:]
		ev := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()

		s.out <- ev
	}
}
