package events

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"libraryhub/internal/util"
)

// Event types published after lifecycle mutations commit.
const (
	LoanCreated          = "loan.created"
	LoanRenewed          = "loan.renewed"
	LoanReturned         = "loan.returned"
	FineAssessed         = "fine.assessed"
	FinePaid             = "fine.paid"
	ReservationCreated   = "reservation.created"
	ReservationCompleted = "reservation.completed"
	ReservationCancelled = "reservation.cancelled"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is the envelope sent to subscribers.
type Event struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	OccurredAt time.Time           `json:"occurredAt"`
	Payload    jsoniter.RawMessage `json:"payload"`
}

// New wraps payload in an envelope with a fresh id.
func New(eventType string, payload any, at time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         util.NewID(),
		Type:       eventType,
		OccurredAt: at.UTC(),
		Payload:    raw,
	}, nil
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error { return nil }

// MemoryPublisher keeps published events in order. Useful in tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Types returns the published event types in order.
func (p *MemoryPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// Events returns a copy of the published events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
