package events

import (
	"context"
	"sync"
)

// Recorder captures published events for test assertions.
type Recorder struct {
	mu     sync.Mutex
	events []DispositionEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) PublishDisposition(ctx context.Context, e DispositionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) Events() []DispositionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DispositionEvent, len(r.events))
	copy(out, r.events)
	return out
}
