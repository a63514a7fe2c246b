package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/engram/pkg/eventstream"
)

// CapturePublisher records every published event for assertions.
type CapturePublisher struct {
	mu     sync.Mutex
	events []eventstream.MemoryEvent
}

func NewCapturePublisher() *CapturePublisher {
	return &CapturePublisher{}
}

func (p *CapturePublisher) Publish(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

// Events returns every captured event, optionally filtered by topic.
func (p *CapturePublisher) Events(topic string) []eventstream.MemoryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	if topic == "" {
		return append([]eventstream.MemoryEvent(nil), p.events...)
	}

	var out []eventstream.MemoryEvent
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func (p *CapturePublisher) Close() error {
	return nil
}
