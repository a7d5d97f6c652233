package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/onvifeye/onvifeye/internal/config"
	"github.com/onvifeye/onvifeye/internal/log"
	"github.com/onvifeye/onvifeye/internal/metrics"
)

// CloseReason says why an event session ended.
type CloseReason string

const (
	CloseExpired  CloseReason = "expired"
	CloseNegated  CloseReason = "negated"
	CloseShutdown CloseReason = "shutdown"
)

// Session is the correlator's unit of work: one logical occurrence built
// from a bursty run of raw detections. At most one is active per camera.
type Session struct {
	ID         uuid.UUID
	CameraID   string
	EventName  string
	StartedAt  time.Time
	LastSeenAt time.Time
}

// Identifier returns the `<event>/<YYYYMMDD-HHMMSS>` string handed to the
// external handler and used in artifact names.
func (s Session) Identifier() string {
	return s.EventName + "/" + s.StartedAt.Format("20060102-150405")
}

// Sink receives correlator transitions. Implemented by the recording
// session manager; callbacks run on the correlator's goroutine and must not
// block.
type Sink interface {
	SessionStarted(s Session)
	SessionClosed(s Session, reason CloseReason)
}

// Correlator is the per-camera state machine turning notifications into
// discrete event sessions. It is owned by a single camera supervisor
// goroutine; no locking, all state private.
//
// States per camera: Idle -> Active -> Idle. A qualifying assertion starts
// a session; further assertions of the same name extend it; it closes on
// debounce expiry or on an explicit negation of the tracked name.
type Correlator struct {
	cam    *config.Camera
	sink   Sink
	dedup  *Dedup
	now    func() time.Time
	logger zerolog.Logger

	active *Session
}

// NewCorrelator builds a correlator for one camera. now is the clock;
// pass time.Now outside tests.
func NewCorrelator(cam *config.Camera, sink Sink, now func() time.Time) *Correlator {
	if now == nil {
		now = time.Now
	}
	return &Correlator{
		cam:    cam,
		sink:   sink,
		dedup:  NewDedup(256, 2*time.Second),
		now:    now,
		logger: log.WithCamera("correlator", cam.ID),
	}
}

// Active returns a copy of the active session, if any.
func (c *Correlator) Active() (Session, bool) {
	if c.active == nil {
		return Session{}, false
	}
	return *c.active, true
}

// NextDeadline returns the instant at which the active session will expire
// if nothing else arrives. ok is false when idle.
func (c *Correlator) NextDeadline() (time.Time, bool) {
	if c.active == nil {
		return time.Time{}, false
	}
	return c.active.LastSeenAt.Add(c.cam.DebounceWindow()), true
}

// Offer feeds one notification through the state machine. Notifications for
// one camera must be offered in arrival order.
func (c *Correlator) Offer(n Notification) {
	now := c.now()

	// Expire first so a stale session never swallows a fresh trigger.
	c.expireIfDue(now)

	if n.Name == VideoEnded {
		// Reaction point for external policies only; never session-eligible.
		c.logger.Debug().Msg("video capture completion notification")
		return
	}

	if c.dedup.IsDuplicate(n, now) {
		metrics.NotificationsTotal.WithLabelValues(c.cam.ID, "duplicate").Inc()
		return
	}

	switch n.Kind {
	case Assert:
		c.offerAssert(n, now)
	case Negate:
		c.offerNegate(n)
	}
}

// offerAssert times the session off the correlator clock, not the
// camera-reported UtcTime. Camera clocks drift; the debounce window and the
// artifact stamp both track when the monitor saw the detection.
func (c *Correlator) offerAssert(n Notification, now time.Time) {
	if !c.cam.IsTargetEvent(n.Name) {
		c.logger.Debug().Str("event", n.Name).Msg("ignoring non-target detection")
		return
	}

	if c.active != nil {
		if c.active.EventName == n.Name {
			// Oscillating positives extend the session, nothing more.
			c.active.LastSeenAt = now
			c.logger.Debug().Str("event", n.Name).Time("last_seen", now).Msg("event session extended")
		} else {
			// A different target event during an active session does not
			// start a second one; only the first-seen name drives it.
			c.logger.Debug().Str("event", n.Name).Str("tracked", c.active.EventName).Msg("concurrent detection ignored while session active")
		}
		return
	}

	s := &Session{
		ID:         uuid.New(),
		CameraID:   c.cam.ID,
		EventName:  n.Name,
		StartedAt:  now,
		LastSeenAt: now,
	}
	c.active = s
	metrics.SessionsStartedTotal.WithLabelValues(c.cam.ID, n.Name).Inc()
	metrics.ActiveSessions.Inc()
	c.logger.Info().Str("event", n.Name).Str("session", s.ID.String()).Time("started", s.StartedAt).Msg("event session started")
	c.sink.SessionStarted(*s)
}

func (c *Correlator) offerNegate(n Notification) {
	if c.active == nil || c.active.EventName != n.Name {
		return
	}
	// Explicit negation closes immediately rather than waiting out the
	// debounce window; the recording session already in flight continues
	// independently.
	c.close(CloseNegated)
}

// Tick expires the active session if the debounce window has elapsed.
// Driven by the supervisor's timer wake-up.
func (c *Correlator) Tick() {
	c.expireIfDue(c.now())
}

func (c *Correlator) expireIfDue(now time.Time) {
	if c.active == nil {
		return
	}
	if now.Sub(c.active.LastSeenAt) >= c.cam.DebounceWindow() {
		c.close(CloseExpired)
	}
}

// Shutdown closes any active session with the shutdown reason.
func (c *Correlator) Shutdown() {
	if c.active != nil {
		c.close(CloseShutdown)
	}
}

func (c *Correlator) close(reason CloseReason) {
	s := *c.active
	c.active = nil
	metrics.SessionsClosedTotal.WithLabelValues(c.cam.ID, string(reason)).Inc()
	metrics.ActiveSessions.Dec()
	c.logger.Info().Str("event", s.EventName).Str("session", s.ID.String()).Str("reason", string(reason)).Msg("event session closed")
	c.sink.SessionClosed(s, reason)
}
