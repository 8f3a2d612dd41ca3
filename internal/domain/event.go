package domain

import "time"

// EventType enumerates the tenant-facing event kinds.
type EventType string

const (
	EventQRIssued        EventType = "QR_ISSUED"
	EventStatusChanged   EventType = "STATUS_CHANGED"
	EventMessageReceived EventType = "MESSAGE_RECEIVED"
)

// Event is a state change or inbound message fanned out to the owning tenant's
// live channels. Delivery is best-effort; events are never persisted.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"sessionId"`
	TenantID  string         `json:"tenantId"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier fans an event out to every channel currently subscribed under the
// tenant id, and to no other tenant. A publish with no subscribers drops the
// event. Publish must never block on a slow subscriber.
type Notifier interface {
	Publish(tenantID string, ev Event)
}
