package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer goroutine to the Stream interface.
type eventStream struct {
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// newEventStream runs produce in a goroutine. A non-nil return from produce
// is delivered as an EventError before the stream ends.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) *eventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		cancel: cancel,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		if err := produce(ctx, s.events); err != nil {
			select {
			case s.events <- Event{Type: EventError, Err: err}:
			case <-ctx.Done():
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
		}
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if !ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	if ev.Type == EventError && ev.Err != nil {
		return ev, ev.Err
	}
	return ev, nil
}

func (s *eventStream) Close() error {
	s.cancel()
	// drain so the producer can exit
	for range s.events {
	}
	<-s.done
	return nil
}
