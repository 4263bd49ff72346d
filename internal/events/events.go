// Package events publishes lead and campaign lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	LeadCaptured      = "lead.captured"
	LeadCompleted     = "lead.completed"
	CampaignPublished = "campaign.published"
)

// Event is the JSON envelope written to the bus.
type Event struct {
	Type       string         `json:"type"`
	CampaignID string         `json:"campaign_id"`
	LeadID     string         `json:"lead_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher sends raw payloads. The partition key keeps events of one
// campaign in order.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
	Close() error
}

// Emitter wraps a Publisher for best-effort use: failures are logged, never
// returned to the caller.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewEmitter(publisher Publisher, logger *slog.Logger) *Emitter {
	return &Emitter{publisher: publisher, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.publisher == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}
	if err := e.publisher.Publish(ctx, ev.Type, payload, ev.CampaignID); err != nil {
		e.logger.Warn("failed to publish event",
			"type", ev.Type,
			"campaign_id", ev.CampaignID,
			"error", err,
		)
	}
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.logger.InfoContext(ctx, "event published",
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload_bytes", len(payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Config selects the publisher.
type Config struct {
	Driver  string // log, kafka or none
	Brokers []string
	Topics  map[string]string
}

// New builds the publisher named by cfg.Driver.
func New(cfg Config, logger *slog.Logger) (Publisher, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogPublisher(logger), nil
	case "kafka":
		p, err := NewKafkaPublisher(cfg.Brokers, cfg.Topics)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown events driver: %s", cfg.Driver)
	}
}
