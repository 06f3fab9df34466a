package notify

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kjstillabower/sst-grid-service/internal/models"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testEvent() GridEvent {
	g := &models.Grid{Resolution: models.Fine, Values: [][]float64{{10, math.NaN()}, {20, 30}}}
	now := time.Date(2024, 7, 30, 1, 2, 3, 0, time.UTC)
	return NewGridEvent(g, time.Date(2024, 7, 29, 0, 0, 0, 0, time.UTC), "data/him_sst_pac_D20240729.txt", now)
}

func TestNewGridEvent(t *testing.T) {
	ev := testEvent()
	if ev.ID == "" || ev.Type != EventGridLoaded {
		t.Errorf("ID/Type = %q/%q", ev.ID, ev.Type)
	}
	if ev.Resolution != "high" || ev.Date != "2024-07-29" {
		t.Errorf("Resolution/Date = %q/%q", ev.Resolution, ev.Date)
	}
	if ev.Stats.Valid != 3 || ev.Stats.Missing != 1 || ev.Stats.Mean != 20 {
		t.Errorf("Stats = %+v", ev.Stats)
	}
}

func TestSerializeToMessage(t *testing.T) {
	ev := testEvent()
	msg, err := serializeToMessage(ev)
	if err != nil {
		t.Fatalf("serializeToMessage() error = %v", err)
	}
	if string(msg.Key) != "high:2024-07-29" {
		t.Errorf("Key = %q", msg.Key)
	}
	var decoded map[string]any
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if decoded["type"] != EventGridLoaded || decoded["path"] != "data/him_sst_pac_D20240729.txt" {
		t.Errorf("decoded = %v", decoded)
	}
	if len(msg.Headers) != 2 || msg.Headers[0].Key != "event_type" || string(msg.Headers[0].Value) != EventGridLoaded {
		t.Errorf("Headers = %+v", msg.Headers)
	}
	if string(msg.Headers[1].Value) != "2024-07-30T01:02:03Z" {
		t.Errorf("loaded_at = %q", msg.Headers[1].Value)
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, nil)

	if err := p.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close() = %v, closed = %v", err, w.closed)
	}
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	broker := errors.New("broker unavailable")
	p := newKafkaPublisher(&fakeWriter{err: broker}, nil)

	if err := p.Publish(context.Background(), testEvent()); !errors.Is(err, broker) {
		t.Errorf("Publish() error = %v, want wrapped broker error", err)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), testEvent()); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
