package event

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/onvifeye/onvifeye/internal/log"
	"github.com/onvifeye/onvifeye/internal/metrics"
	"github.com/onvifeye/onvifeye/internal/onvif"
)

// modelProfile captures per-model quirks in how detections are named.
// aliases maps a firmware item name onto the canonical detection name.
type modelProfile struct {
	aliases map[string]string
}

// Keyed by lower-cased model substring; first match wins. An unknown model
// falls through to a generic best-effort mapping.
var modelProfiles = []struct {
	match   string
	profile modelProfile
}{
	{
		// Tapo C2xx firmware reports IsPeople/IsCar/IsPet style items and
		// oscillates true/false while the condition persists.
		match: "c2",
		profile: modelProfile{
			aliases: map[string]string{
				"IsPerson": "IsPeople",
				"IsHuman":  "IsPeople",
				"IsMotion": "Motion",
			},
		},
	},
}

// Normalizer converts raw pull-point payloads into canonical Notification
// tuples for one camera. Model quirks are isolated here.
type Normalizer struct {
	cameraID string
	profile  modelProfile
	logger   zerolog.Logger
}

// NewNormalizer builds a normalizer for a camera. model may be empty or
// unrecognized; the generic mapping then applies.
func NewNormalizer(cameraID, model string) *Normalizer {
	p := modelProfile{}
	lower := strings.ToLower(model)
	for _, entry := range modelProfiles {
		if strings.Contains(lower, entry.match) {
			p = entry.profile
			break
		}
	}
	return &Normalizer{
		cameraID: cameraID,
		profile:  p,
		logger:   log.WithCamera("normalizer", cameraID),
	}
}

// Normalize produces zero or more Notifications from one raw notification.
// A single payload may report multiple simultaneous detections. Malformed
// items are dropped with a diagnostic, never a failure.
func (n *Normalizer) Normalize(raw onvif.RawNotification) []Notification {
	var out []Notification
	for _, item := range raw.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			n.logger.Debug().Str("topic", raw.Topic).Msg("dropping notification item without a name")
			metrics.NotificationsTotal.WithLabelValues(n.cameraID, "malformed").Inc()
			continue
		}

		kind := Assert
		// Some firmware revisions send an explicit "<event>_False" item
		// instead of flipping the value.
		if trimmed, ok := strings.CutSuffix(name, "_False"); ok {
			name = trimmed
			kind = Negate
		}

		switch strings.ToLower(strings.TrimSpace(item.Value)) {
		case "true", "1":
			// keep kind as resolved above
		case "false", "0":
			kind = Negate
		default:
			n.logger.Debug().Str("item", item.Name).Str("value", item.Value).Msg("dropping notification item with unrecognized value")
			metrics.NotificationsTotal.WithLabelValues(n.cameraID, "malformed").Inc()
			continue
		}

		if canonical, ok := n.profile.aliases[name]; ok {
			name = canonical
		}

		at := raw.UtcTime
		if at.IsZero() {
			at = time.Now()
		}

		metrics.NotificationsTotal.WithLabelValues(n.cameraID, kind.String()).Inc()
		out = append(out, Notification{
			CameraID:  n.cameraID,
			Name:      name,
			Kind:      kind,
			Timestamp: at,
		})
	}
	return out
}
