// Package notify publishes events about snapshots the service has loaded.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/sst-grid-service/internal/models"
	"github.com/kjstillabower/sst-grid-service/internal/observability"
)

// EventGridLoaded is the type of the event emitted after a snapshot is parsed.
const EventGridLoaded = "sst.grid.loaded"

// GridEvent describes a freshly loaded grid.
type GridEvent struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Resolution string           `json:"resolution"`
	Date       string           `json:"date"`
	Path       string           `json:"path"`
	Stats      models.GridStats `json:"stats"`
	LoadedAt   time.Time        `json:"loadedAt"`
}

// NewGridEvent builds a GridEvent for g loaded from path.
func NewGridEvent(g *models.Grid, date time.Time, path string, now time.Time) GridEvent {
	return GridEvent{
		ID:         uuid.New().String(),
		Type:       EventGridLoaded,
		Resolution: g.Resolution.String(),
		Date:       date.Format("2006-01-02"),
		Path:       path,
		Stats:      g.Stats(),
		LoadedAt:   now.UTC(),
	}
}

// Publisher delivers grid events.
type Publisher interface {
	Publish(ctx context.Context, event GridEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, GridEvent) error { return nil }
func (NopPublisher) Close() error                             { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher produces grid events to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher creates a producer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish serializes and writes one event.
func (p *KafkaPublisher) Publish(ctx context.Context, event GridEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		observability.EventsPublishedTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.EventsPublishedTotal.WithLabelValues("error").Inc()
		p.logger.Warn("failed to publish grid event",
			zap.String("id", event.ID), zap.String("resolution", event.Resolution), zap.Error(err))
		return fmt.Errorf("publish grid event: %w", err)
	}
	observability.EventsPublishedTotal.WithLabelValues("success").Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a GridEvent into a Kafka message keyed by snapshot.
func serializeToMessage(event GridEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize grid event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Resolution + ":" + event.Date),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "loaded_at", Value: []byte(event.LoadedAt.Format(time.RFC3339))},
		},
	}, nil
}
