package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/onvifeye/onvifeye/internal/config"
	"github.com/onvifeye/onvifeye/internal/event"
	"github.com/onvifeye/onvifeye/internal/log"
	"github.com/onvifeye/onvifeye/internal/metrics"
	"github.com/onvifeye/onvifeye/internal/onvif"
	"github.com/onvifeye/onvifeye/internal/platform/paths"
	"github.com/onvifeye/onvifeye/internal/publish"
	"github.com/onvifeye/onvifeye/internal/record"
)

const (
	// pullTimeout bounds each PullMessages long poll; the subscription
	// termination time is derived from it and renewed per pull.
	pullTimeout = 30 * time.Second

	// reconnectBackoff is the pause between connection attempts after the
	// pull loop fails. Cameras reboot on firmware whim; keep retrying.
	reconnectBackoff = 5 * time.Second

	unsubscribeTimeout = 3 * time.Second

	// injectBuffer sizes the channel for synthetic notifications (video
	// completion markers) fed back into the correlator.
	injectBuffer = 16
)

// State is the supervisor's connection state as seen by the status API.
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateDegraded   State = "degraded"
	StateStopped    State = "stopped"
)

// Status is a point-in-time snapshot of one camera supervisor.
type Status struct {
	CameraID         string         `json:"camera_id"`
	Model            string         `json:"model,omitempty"`
	Address          string         `json:"address"`
	State            State          `json:"state"`
	LastError        string         `json:"last_error,omitempty"`
	LastNotification time.Time      `json:"last_notification,omitempty"`
	ActiveSession    *ActiveSession `json:"active_session,omitempty"`
}

// ActiveSession describes the event session currently holding the camera
// in the Active state, if any.
type ActiveSession struct {
	EventName  string    `json:"event_name"`
	Identifier string    `json:"identifier"`
	StartedAt  time.Time `json:"started_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Supervisor owns everything for one camera: the ONVIF client, the
// pull-point subscription, normalization, event correlation and the
// recording workflow. All per-camera state is private to the supervisor;
// cameras never share locks or maps.
//
// Two goroutines run per camera. The pull loop talks SOAP and feeds raw
// notifications inward; the event loop owns the correlator, its debounce
// timer and the synthetic-notification channel. A camera that is offline
// only stalls its own pull loop.
type Supervisor struct {
	cam    *config.Camera
	pub    publish.Publisher
	logger zerolog.Logger

	normalizer *event.Normalizer
	corr       *event.Correlator
	recorder   *record.Manager

	raw    chan onvif.RawNotification
	inject chan event.Notification

	mu         sync.Mutex
	status     Status
	client     *onvif.Client
	mediaXAddr string
	videoURI   string
	stillsURI  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor wires a supervisor for one camera. runner performs the
// actual captures; pub may be nil when no event sink is configured.
func NewSupervisor(cam *config.Camera, runner record.CaptureRunner, pub publish.Publisher) *Supervisor {
	if pub == nil {
		pub = publish.Noop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cam:    cam,
		pub:    pub,
		logger: log.WithCamera("supervisor", cam.ID),
		raw:    make(chan onvif.RawNotification),
		inject: make(chan event.Notification, injectBuffer),
		status: Status{
			CameraID: cam.ID,
			Model:    cam.Model,
			Address:  cam.Address,
			State:    StateConnecting,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.normalizer = event.NewNormalizer(cam.ID, cam.Model)
	s.recorder = record.NewManager(cam, runner, s, pub, s.injectNotification)
	s.corr = event.NewCorrelator(cam, s, time.Now)
	return s
}

// Start launches the supervisor goroutines and returns immediately.
func (s *Supervisor) Start() {
	if err := paths.EnsureArtifactDirs(s.cam.SaveFolder, s.cam.ID); err != nil {
		s.logger.Warn().Err(err).Msg("cannot create artifact directories")
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.eventLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.connectLoop()
	}()
}

// Stop tears the supervisor down: the subscription is released, in-flight
// captures are cancelled and the active session, if any, is closed as a
// shutdown. Waits up to timeout.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var loopErr error
	select {
	case <-done:
	case <-time.After(timeout):
		loopErr = fmt.Errorf("camera %s: supervisor loops still running at shutdown", s.cam.ID)
	}
	recErr := s.recorder.Stop(timeout)
	s.setState(StateStopped, nil)
	return errors.Join(loopErr, recErr)
}

// CameraID returns the supervised camera's identifier.
func (s *Supervisor) CameraID() string { return s.cam.ID }

// Status returns a snapshot for the status API.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.ActiveSession != nil {
		cp := *st.ActiveSession
		st.ActiveSession = &cp
	}
	return st
}

// injectNotification feeds a synthetic notification into the correlator
// without blocking the caller. Called from recording goroutines.
func (s *Supervisor) injectNotification(n event.Notification) {
	select {
	case s.inject <- n:
	case <-s.ctx.Done():
	default:
		s.logger.Warn().Str("event", n.Name).Msg("dropping synthetic notification, channel full")
	}
}

// SessionStarted implements event.Sink: it records the active session for
// the status API and hands the session to the recorder.
func (s *Supervisor) SessionStarted(sess event.Session) {
	s.mu.Lock()
	s.status.ActiveSession = &ActiveSession{
		EventName:  sess.EventName,
		Identifier: sess.Identifier(),
		StartedAt:  sess.StartedAt,
		LastSeenAt: sess.LastSeenAt,
	}
	s.mu.Unlock()
	s.recorder.SessionStarted(sess)
}

// SessionClosed implements event.Sink.
func (s *Supervisor) SessionClosed(sess event.Session, reason event.CloseReason) {
	s.mu.Lock()
	s.status.ActiveSession = nil
	s.mu.Unlock()
	s.recorder.SessionClosed(sess, reason)
}

// eventLoop owns the correlator. It is the only goroutine that touches it,
// which keeps correlation single-threaded per camera by construction. The
// loop outlives pull-loop reconnects so the debounce timer keeps running
// while the camera is unreachable.
func (s *Supervisor) eventLoop() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		s.armDebounce(timer)
		select {
		case <-s.ctx.Done():
			s.corr.Shutdown()
			return
		case raw := <-s.raw:
			s.markNotification()
			for _, n := range s.currentNormalizer().Normalize(raw) {
				s.corr.Offer(n)
			}
		case n := <-s.inject:
			s.corr.Offer(n)
		case <-timer.C:
			s.corr.Tick()
		}
	}
}

// armDebounce resets the timer to the correlator's next expiry deadline,
// or leaves it stopped when no session is active.
func (s *Supervisor) armDebounce(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	deadline, ok := s.corr.NextDeadline()
	if !ok {
		return
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

// currentNormalizer returns the normalizer in effect; it is swapped once
// when the device model is discovered at connect time.
func (s *Supervisor) currentNormalizer() *event.Normalizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.normalizer
}

// probeModel asks the device for its model when the config does not name
// one, so vendor-specific event-name aliases apply without manual
// configuration. Best effort; an unanswered probe keeps the generic
// mapping.
func (s *Supervisor) probeModel(client *onvif.Client) {
	info, err := client.GetDeviceInformation(s.ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("device information unavailable")
		return
	}
	if info.Model == "" {
		return
	}
	s.mu.Lock()
	if s.status.Model != info.Model {
		s.status.Model = info.Model
		s.normalizer = event.NewNormalizer(s.cam.ID, info.Model)
	}
	s.mu.Unlock()
	s.logger.Info().Str("manufacturer", info.Manufacturer).Str("model", info.Model).Msg("device model discovered")
}

// connectLoop dials the camera and pulls notifications until the
// subscription breaks, then backs off and reconnects. A panic anywhere in
// the per-camera plumbing is contained here and treated as a failed
// session.
func (s *Supervisor) connectLoop() {
	for {
		err := s.pullSession()
		if s.ctx.Err() != nil {
			return
		}
		metrics.PullFailuresTotal.WithLabelValues(s.cam.ID).Inc()
		s.setState(StateDegraded, err)
		s.logger.Warn().Err(err).Dur("backoff", reconnectBackoff).Msg("event subscription lost, reconnecting")
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

// pullSession runs one subscription lifetime: resolve services, subscribe,
// pull until error or shutdown.
func (s *Supervisor) pullSession() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("camera %s: panic in pull session: %v", s.cam.ID, r)
		}
	}()

	s.setState(StateConnecting, nil)

	client := onvif.NewClient(
		onvif.DeviceEndpoint(s.cam.Address, s.cam.OnvifPort),
		s.cam.Username, s.cam.Password,
	)
	caps, err := client.GetCapabilities(s.ctx)
	if err != nil {
		return fmt.Errorf("get capabilities: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.mediaXAddr = caps.MediaXAddr
	s.mu.Unlock()

	if s.cam.Model == "" {
		s.probeModel(client)
	}

	pp, err := client.Subscribe(s.ctx, caps.EventsXAddr, pullTimeout)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		if uerr := pp.Unsubscribe(ctx); uerr != nil {
			s.logger.Debug().Err(uerr).Msg("unsubscribe failed")
		}
	}()

	s.setState(StateConnected, nil)
	s.logger.Info().Str("events", caps.EventsXAddr).Msg("event subscription established")

	for {
		batch, err := pp.Pull(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pull messages: %w", err)
		}
		for _, raw := range batch {
			select {
			case s.raw <- raw:
			case <-s.ctx.Done():
				return nil
			}
		}
		if err := pp.Renew(s.ctx); err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("renew subscription: %w", err)
		}
	}
}

// VideoURI implements record.Streams. The URI is resolved once via the
// media service and cached; Tapo stream paths are stable across reboots.
func (s *Supervisor) VideoURI(ctx context.Context) (string, error) {
	uri, err := s.resolveURI(ctx, s.cam.StreamName, &s.videoURI)
	if err != nil {
		return "", err
	}
	if uri == "" {
		return "", fmt.Errorf("camera %s: media profile %q not found", s.cam.ID, s.cam.StreamName)
	}
	return uri, nil
}

// StillsURI implements record.Streams. An empty URI with nil error means
// the camera has no dedicated stills stream.
func (s *Supervisor) StillsURI(ctx context.Context) (string, error) {
	if s.cam.StillsStream == "" {
		return "", nil
	}
	return s.resolveURI(ctx, s.cam.StillsStream, &s.stillsURI)
}

func (s *Supervisor) resolveURI(ctx context.Context, profileName string, cache *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *cache != "" {
		return *cache, nil
	}
	if s.client == nil || s.mediaXAddr == "" {
		return "", fmt.Errorf("camera %s: media service not resolved yet", s.cam.ID)
	}
	uri, err := s.client.ResolveStreamURI(ctx, s.mediaXAddr, profileName)
	if err != nil {
		return "", err
	}
	*cache = uri
	return uri, nil
}

func (s *Supervisor) setState(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	if err != nil {
		s.status.LastError = err.Error()
	} else if state == StateConnected {
		s.status.LastError = ""
	}
}

func (s *Supervisor) markNotification() {
	s.mu.Lock()
	s.status.LastNotification = time.Now()
	s.mu.Unlock()
}
