package domain

import (
	"context"
	"encoding/json"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// Handlers for one subscription are invoked sequentially.
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	// NATSQueueGroup load-balances subscribers sharing the group name
	// across processes. Empty means every subscriber receives every message.
	NATSQueueGroup string
}

// Topic names for the analysis pipeline.
const (
	TopicAnalysisRequested = "kestrel.analysis.requested"
	TopicReportReady       = "kestrel.report.ready"
	TopicAlert             = "kestrel.alert"
)

// AnalysisRequest is the payload of TopicAnalysisRequested.
type AnalysisRequest struct {
	RequestID string `json:"requestId"`
	TenantID  string `json:"tenantId"`
	EntityID  string `json:"entityId"`

	// JSON array of raw records. Kept undecoded so amounts retain their
	// exact decimal text until normalization.
	Records json.RawMessage `json:"records"`

	// Field overrides applied on top of the service's default AnalysisConfig
	Config json.RawMessage `json:"config,omitempty"`
}
