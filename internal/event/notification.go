package event

import (
	"time"
)

// Kind tags a normalized notification as an assertion or an explicit
// negation of a detection. Camera firmware reports both, oscillating, so
// the raw vocabulary is resolved to this variant before correlation.
type Kind int

const (
	Assert Kind = iota
	Negate
)

func (k Kind) String() string {
	if k == Negate {
		return "negate"
	}
	return "assert"
}

// VideoEnded is the synthetic notification name injected after a video
// capture completes. It is excluded from target-event matching and can
// never start a session.
const VideoEnded = "VideoEnded"

// Notification is the canonical detection tuple consumed by the correlator.
// Ephemeral; never persisted.
type Notification struct {
	CameraID  string
	Name      string
	Kind      Kind
	Timestamp time.Time
}
