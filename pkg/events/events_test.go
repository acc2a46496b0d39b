package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type loanPayload struct {
	LoanID uint `json:"loanId"`
}

func TestNewEventEncodesPayload(t *testing.T) {
	at := time.Date(2024, 12, 4, 10, 0, 0, 0, time.FixedZone("x", 3600))
	evt, err := New(LoanReturned, loanPayload{LoanID: 7}, at)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if evt.ID == "" || evt.Type != LoanReturned {
		t.Fatalf("unexpected envelope: %+v", evt)
	}
	if evt.OccurredAt.Location() != time.UTC {
		t.Fatalf("occurredAt must be UTC, got %v", evt.OccurredAt.Location())
	}
	if string(evt.Payload) != `{"loanId":7}` {
		t.Fatalf("payload = %s", evt.Payload)
	}
}

func TestToPublishingSetsHeaders(t *testing.T) {
	evt, _ := New(FinePaid, map[string]int{"fineId": 3}, time.Now())
	msg, err := toPublishing(evt)
	if err != nil {
		t.Fatalf("to publishing: %v", err)
	}
	if msg.MessageId != evt.ID || msg.Type != FinePaid || msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing: %+v", msg)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.ID != evt.ID {
		t.Fatalf("decoded id = %q, want %q", decoded.ID, evt.ID)
	}
}

func TestRedisStreamPublishAndPoll(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStream(RedisStreamConfig{Addr: mr.Addr(), Stream: "test:events"})
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for _, typ := range []string{LoanCreated, LoanReturned} {
		evt, _ := New(typ, loanPayload{LoanID: 1}, time.Now())
		if err := s.Publish(ctx, evt); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}

	var seen []string
	n, err := s.Poll(ctx, "audit", "c1", 10, func(_ context.Context, evt Event) error {
		seen = append(seen, evt.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 2 || len(seen) != 2 || seen[0] != LoanCreated || seen[1] != LoanReturned {
		t.Fatalf("unexpected poll result n=%d seen=%v", n, seen)
	}

	n, err = s.Poll(ctx, "audit", "c1", 10, func(context.Context, Event) error { return nil })
	if err != nil || n != 0 {
		t.Fatalf("second poll n=%d err=%v", n, err)
	}
}

func TestMemoryPublisherRecordsOrder(t *testing.T) {
	var p MemoryPublisher
	for _, typ := range []string{ReservationCreated, ReservationCancelled} {
		evt, _ := New(typ, nil, time.Now())
		_ = p.Publish(context.Background(), evt)
	}
	types := p.Types()
	if len(types) != 2 || types[1] != ReservationCancelled {
		t.Fatalf("unexpected types %v", types)
	}
}
