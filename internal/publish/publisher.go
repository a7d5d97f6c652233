package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event is the session-lifecycle envelope published for downstream
// consumers (dashboards, automations). Mirrors what the status API serves.
type Event struct {
	Type       string    `json:"type"` // session_started, session_closed, recording_finished
	CameraID   string    `json:"camera_id"`
	EventName  string    `json:"event_name"`
	SessionID  uuid.UUID `json:"session_id"`
	Identifier string    `json:"identifier"`
	At         time.Time `json:"at"`
	Reason     string    `json:"reason,omitempty"`
	VideoPath  string    `json:"video_path,omitempty"`
	ImagePath  string    `json:"image_path,omitempty"`
	Degraded   bool      `json:"degraded,omitempty"`
}

// Publisher sinks lifecycle events. A nil-safe no-op implementation is used
// when NATS is not configured.
type Publisher interface {
	Publish(evt Event) error
}

// NATSPublisher publishes JSON events on a single subject with bounded
// retries.
type NATSPublisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewNATSPublisher(conn *nats.Conn, subject string, maxRetries int) *NATSPublisher {
	return &NATSPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (p *NATSPublisher) Publish(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(Event) error { return nil }
