package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onvifeye/onvifeye/internal/config"
)

type recordingSink struct {
	started []Session
	closed  []Session
	reasons []CloseReason
}

func (r *recordingSink) SessionStarted(s Session) { r.started = append(r.started, s) }
func (r *recordingSink) SessionClosed(s Session, reason CloseReason) {
	r.closed = append(r.closed, s)
	r.reasons = append(r.reasons, reason)
}

type fakeClock struct{ at time.Time }

func (f *fakeClock) now() time.Time            { return f.at }
func (f *fakeClock) advance(d time.Duration)   { f.at = f.at.Add(d) }
func (f *fakeClock) set(base time.Time, s int) { f.at = base.Add(time.Duration(s) * time.Second) }

func testCamera() *config.Camera {
	return &config.Camera{
		ID:              "c1",
		Address:         "10.0.0.9",
		TargetEvents:    []string{"IsPerson"},
		ClipSeconds:     60,
		DebounceSeconds: 60,
	}
}

func notif(cam string, name string, kind Kind, at time.Time) Notification {
	return Notification{CameraID: cam, Name: name, Kind: kind, Timestamp: at}
}

// Burst of asserts within the debounce window: one session, one trigger,
// expiry exactly debounce after the last qualifying notification.
func TestCorrelatorBurstProducesOneSession(t *testing.T) {
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{at: base}
	sink := &recordingSink{}
	c := NewCorrelator(testCamera(), sink, clock.now)

	for _, s := range []int{0, 5, 12} {
		clock.set(base, s)
		c.Offer(notif("c1", "IsPerson", Assert, clock.at))
	}

	require.Len(t, sink.started, 1)
	assert.Equal(t, base, sink.started[0].StartedAt)
	assert.Equal(t, "IsPerson", sink.started[0].EventName)

	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, base.Add(12*time.Second), active.LastSeenAt)

	deadline, ok := c.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, base.Add(72*time.Second), deadline)

	// Just before the deadline nothing happens.
	clock.set(base, 71)
	c.Tick()
	assert.Empty(t, sink.closed)

	// At t=72 (last seen 12 + debounce 60) the session expires.
	clock.set(base, 72)
	c.Tick()
	require.Len(t, sink.closed, 1)
	assert.Equal(t, CloseExpired, sink.reasons[0])
	_, ok = c.Active()
	assert.False(t, ok)
}

// Explicit negation closes the session immediately, independent of the
// debounce timer; exactly one session was still started.
func TestCorrelatorExplicitNegationClosesImmediately(t *testing.T) {
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{at: base}
	sink := &recordingSink{}
	c := NewCorrelator(testCamera(), sink, clock.now)

	c.Offer(notif("c1", "IsPerson", Assert, base))
	clock.set(base, 3)
	c.Offer(notif("c1", "IsPerson", Negate, clock.at))

	require.Len(t, sink.started, 1)
	require.Len(t, sink.closed, 1)
	assert.Equal(t, CloseNegated, sink.reasons[0])
	assert.Equal(t, base, sink.closed[0].StartedAt)
}

func TestCorrelatorNoOverlappingSessions(t *testing.T) {
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{at: base}
	sink := &recordingSink{}
	cam := testCamera()
	cam.TargetEvents = []string{"IsPerson", "IsCar"}
	c := NewCorrelator(cam, sink, clock.now)

	c.Offer(notif("c1", "IsPerson", Assert, base))
	clock.advance(2 * time.Second)
	// A different target event while a session is active must not start a
	// second session, and must not disturb the first.
	c.Offer(notif("c1", "IsCar", Assert, clock.at))

	require.Len(t, sink.started, 1)
	active, ok := c.Active()
	require.True(t, ok)
	assert.Equal(t, "IsPerson", active.EventName)
	assert.Equal(t, base, active.LastSeenAt) // IsCar did not extend it
}

func TestCorrelatorTieBreakFirstWins(t *testing.T) {
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{at: base}
	sink := &recordingSink{}
	cam := testCamera()
	cam.TargetEvents = []string{"IsPerson", "IsCar"}
	c := NewCorrelator(cam, sink, clock.now)

	// Two target events in one batch for an idle camera.
	c.Offer(notif("c1", "IsCar", Assert, base))
	c.Offer(notif("c1", "IsPerson", Assert, base))

	require.Len(t, sink.started, 1)
	assert.Equal(t, "IsCar", sink.started[0].EventName)
}

func TestCorrelatorIgnoresNonTargetAndVideoEnded(t *testing.T) {
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{at: base}
	sink := &recordingSink{}
	c := NewCorrelator(testCamera(), sink, clock.now)

	c.Offer(notif("c1", "IsPet", Assert, base))
	c.Offer(notif("c1", VideoEnded, Assert, base))
	assert.Empty(t, sink.started)

	// Wildcard matches arbitrary names but still never VideoEnded.
	wild := testCamera()
	wild.TargetEvents = []string{config.WildcardEvent}
	wc := NewCorrelator(wild, sink, clock.now)
	wc.Offer(notif("c1", VideoEnded, Assert, base))
	assert.Empty(t, sink.started)
	wc.Offer(notif("c1", "IsPet", Assert, base))
	assert.Len(t, sink.started, 1)
}

func TestCorrelatorNegationOfUntrackedEventIgnored(t *testing.T) {
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{at: base}
	sink := &recordingSink{}
	cam := testCamera()
	cam.TargetEvents = []string{"IsPerson", "IsCar"}
	c := NewCorrelator(cam, sink, clock.now)

	c.Offer(notif("c1", "IsPerson", Assert, base))
	c.Offer(notif("c1", "IsCar", Negate, base))

	_, ok := c.Active()
	assert.True(t, ok, "negation of a different event must not close the session")
}

func TestCorrelatorNewSessionAfterExpiry(t *testing.T) {
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{at: base}
	sink := &recordingSink{}
	c := NewCorrelator(testCamera(), sink, clock.now)

	c.Offer(notif("c1", "IsPerson", Assert, base))
	clock.set(base, 120)
	// An assertion arriving well after expiry closes the stale session and
	// starts a fresh one in the same call.
	c.Offer(notif("c1", "IsPerson", Assert, clock.at))

	require.Len(t, sink.closed, 1)
	assert.Equal(t, CloseExpired, sink.reasons[0])
	require.Len(t, sink.started, 2)
	assert.Equal(t, base.Add(120*time.Second), sink.started[1].StartedAt)
}

func TestCorrelatorShutdown(t *testing.T) {
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{at: base}
	sink := &recordingSink{}
	c := NewCorrelator(testCamera(), sink, clock.now)

	c.Offer(notif("c1", "IsPerson", Assert, base))
	c.Shutdown()

	require.Len(t, sink.closed, 1)
	assert.Equal(t, CloseShutdown, sink.reasons[0])

	// Idempotent when idle.
	c.Shutdown()
	assert.Len(t, sink.closed, 1)
}

func TestSessionIdentifier(t *testing.T) {
	s := Session{EventName: "IsPerson", StartedAt: time.Date(2025, 3, 9, 14, 30, 5, 0, time.UTC)}
	assert.Equal(t, "IsPerson/20250309-143005", s.Identifier())
}

func TestDedupSuppressesReplays(t *testing.T) {
	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	d := NewDedup(16, 2*time.Second)
	n := notif("c1", "IsPerson", Assert, base)

	assert.False(t, d.IsDuplicate(n, base))
	assert.True(t, d.IsDuplicate(n, base.Add(500*time.Millisecond)))

	// Same item re-seen after the TTL is fresh again.
	assert.False(t, d.IsDuplicate(n, base.Add(3*time.Second)))

	// A different kind is never collapsed with the assert.
	neg := notif("c1", "IsPerson", Negate, base)
	assert.False(t, d.IsDuplicate(neg, base))
}
