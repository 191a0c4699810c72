// Package events turns booking-domain Kafka messages into the live update
// stream served to portals. Delivery is best effort: a portal that misses an
// event falls back to its cache TTL, so the consumer never retries a message.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joaopvieira/agendly/libs/kafkax"
	"github.com/joaopvieira/agendly/libs/sse"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EventTypeAppointmentCreated is the booking-domain event that becomes a
// new_appointment live update. Other event types on the topic are skipped.
const EventTypeAppointmentCreated = "appointment.created"

type Consumer struct {
	reader *kafka.Reader
	hub    *sse.Hub
	logger *slog.Logger
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, hub *sse.Hub, cfg Config) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: reader, hub: hub, logger: logger}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		_, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEventMeta(msg)
		if meta.EventType != EventTypeAppointmentCreated {
			span.End()
			continue
		}

		businessID, envelope, err := translate(msg.Value)
		if err != nil {
			c.logger.Error("skipping malformed booking event", "event_id", meta.EventID, "err", err)
			span.RecordError(err)
			span.End()
			continue
		}

		c.hub.Publish(businessID, envelope)
		span.End()
	}
}

type bookingEvent struct {
	BusinessID  string          `json:"business_id"`
	Appointment json.RawMessage `json:"appointment"`
}

// translate converts a booking event payload to the live update envelope.
// The appointment body passes through untouched; portals treat it as opaque.
func translate(payload []byte) (string, []byte, error) {
	var evt bookingEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return "", nil, fmt.Errorf("decode booking event: %w", err)
	}
	if strings.TrimSpace(evt.BusinessID) == "" {
		return "", nil, fmt.Errorf("booking event missing business_id")
	}
	if len(evt.Appointment) == 0 {
		return "", nil, fmt.Errorf("booking event missing appointment")
	}

	envelope, err := json.Marshal(map[string]json.RawMessage{
		"type":        json.RawMessage(`"new_appointment"`),
		"appointment": evt.Appointment,
	})
	if err != nil {
		return "", nil, err
	}
	return evt.BusinessID, envelope, nil
}
