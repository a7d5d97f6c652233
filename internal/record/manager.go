package record

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/onvifeye/onvifeye/internal/capture"
	"github.com/onvifeye/onvifeye/internal/config"
	"github.com/onvifeye/onvifeye/internal/event"
	"github.com/onvifeye/onvifeye/internal/log"
	"github.com/onvifeye/onvifeye/internal/platform/paths"
	"github.com/onvifeye/onvifeye/internal/publish"
)

// resolveTimeout bounds one stream-URI lookup against the camera.
const resolveTimeout = 10 * time.Second

// CaptureRunner is what the manager needs from the capture supervisor.
type CaptureRunner interface {
	Run(ctx context.Context, task capture.Task) error
	ExtractStill(ctx context.Context, cameraID, videoPath, outPath string) error
}

// Streams resolves the camera's RTSP addresses on demand. Implemented by
// the camera supervisor on top of the ONVIF media service.
type Streams interface {
	VideoURI(ctx context.Context) (string, error)
	// StillsURI returns "" with nil error when the camera has no dedicated
	// stills stream; the still is then extracted from the captured clip.
	StillsURI(ctx context.Context) (string, error)
}

// Manager owns the recording workflow for one camera: per event session it
// runs one bounded video capture and one still capture, invokes the
// external handler exactly once, and reports completion back into the
// notification stream as a VideoEnded pseudo-event.
//
// It implements event.Sink. SessionStarted spawns the workflow and returns
// immediately; the correlator is never blocked by a capture.
type Manager struct {
	cam     *config.Camera
	runner  CaptureRunner
	streams Streams
	handler *HandlerInvoker
	pub     publish.Publisher
	notify  func(event.Notification)
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// Handler invocations run under their own context so that stopping
	// capture does not kill a handler mid-run; it is cut only after the
	// bounded shutdown wait expires.
	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewManager wires a recording manager for one camera. notify re-injects
// synthetic notifications into the camera's input stream and must not
// block; pub may be nil.
func NewManager(cam *config.Camera, runner CaptureRunner, streams Streams, pub publish.Publisher, notify func(event.Notification)) *Manager {
	if pub == nil {
		pub = publish.Noop{}
	}
	if notify == nil {
		notify = func(event.Notification) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	handlerCtx, handlerCancel := context.WithCancel(context.Background())
	return &Manager{
		cam:           cam,
		runner:        runner,
		streams:       streams,
		handler:       NewHandlerInvoker(cam.ID, cam.EventExec),
		pub:           pub,
		notify:        notify,
		logger:        log.WithCamera("recorder", cam.ID),
		ctx:           ctx,
		cancel:        cancel,
		handlerCtx:    handlerCtx,
		handlerCancel: handlerCancel,
	}
}

// SessionStarted begins the capture workflow for a new event session.
// Called on the correlator goroutine; returns immediately.
func (m *Manager) SessionStarted(s event.Session) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runSession(s)
	}()
}

// SessionClosed is informational for the recorder: the recording session
// triggered at Active-entry runs to completion regardless of why the event
// session ended.
func (m *Manager) SessionClosed(s event.Session, reason event.CloseReason) {
	if err := m.pub.Publish(publish.Event{
		Type:       "session_closed",
		CameraID:   s.CameraID,
		EventName:  s.EventName,
		SessionID:  s.ID,
		Identifier: s.Identifier(),
		At:         time.Now(),
		Reason:     string(reason),
	}); err != nil {
		m.logger.Warn().Err(err).Msg("publish session_closed failed")
	}
}

// Stop cancels in-flight captures and waits up to timeout for running
// workflows to wind down. An in-flight handler invocation gets the full
// timeout to finish; only then is it killed.
func (m *Manager) Stop(timeout time.Duration) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		m.handlerCancel()
		return errors.New("recording sessions still in flight at shutdown")
	}
}

func (m *Manager) runSession(s event.Session) {
	videoPath := paths.VideoPath(m.cam.SaveFolder, m.cam.ID, s.StartedAt)
	imagePath := paths.ImagePath(m.cam.SaveFolder, m.cam.ID, s.StartedAt)

	if err := m.pub.Publish(publish.Event{
		Type:       "session_started",
		CameraID:   s.CameraID,
		EventName:  s.EventName,
		SessionID:  s.ID,
		Identifier: s.Identifier(),
		At:         s.StartedAt,
	}); err != nil {
		m.logger.Warn().Err(err).Msg("publish session_started failed")
	}

	// Video and a dedicated-stream still ride independent transports and
	// run concurrently; without a stills stream the frame is extracted from
	// the clip once the video capture is done.
	var videoErr, stillErr error
	var tasks sync.WaitGroup
	dedicatedStill := m.cam.StillsStream != ""

	tasks.Add(1)
	go func() {
		defer tasks.Done()
		videoErr = m.captureVideo(videoPath)
		// Video completion is observable as a pseudo-event so external
		// policy can distinguish capture completion from detection. Never
		// eligible to start a session.
		m.notify(event.Notification{
			CameraID:  m.cam.ID,
			Name:      event.VideoEnded,
			Kind:      event.Assert,
			Timestamp: time.Now(),
		})
	}()

	if dedicatedStill {
		tasks.Add(1)
		go func() {
			defer tasks.Done()
			stillErr = m.captureStillStream(imagePath)
		}()
	}
	tasks.Wait()

	if !dedicatedStill {
		if videoErr == nil {
			stillErr = m.runner.ExtractStill(m.ctx, m.cam.ID, videoPath, imagePath)
		} else {
			stillErr = errors.New("no still source: video capture failed and no stills stream")
		}
	}

	degraded := videoErr != nil || stillErr != nil
	if degraded {
		m.logger.Warn().Str("identifier", s.Identifier()).
			AnErr("video", videoErr).AnErr("still", stillErr).
			Msg("recording session finalized degraded")
	}

	// Handler runs exactly once per recording session, degraded or not. It
	// locates whatever artifacts exist under the save-folder convention.
	m.handler.Invoke(m.handlerCtx, s)

	evt := publish.Event{
		Type:       "recording_finished",
		CameraID:   s.CameraID,
		EventName:  s.EventName,
		SessionID:  s.ID,
		Identifier: s.Identifier(),
		At:         time.Now(),
		Degraded:   degraded,
	}
	if videoErr == nil {
		evt.VideoPath = videoPath
	}
	if stillErr == nil {
		evt.ImagePath = imagePath
	}
	if err := m.pub.Publish(evt); err != nil {
		m.logger.Warn().Err(err).Msg("publish recording_finished failed")
	}
}

func (m *Manager) captureVideo(videoPath string) error {
	resolveCtx, cancel := context.WithTimeout(m.ctx, resolveTimeout)
	uri, err := m.streams.VideoURI(resolveCtx)
	cancel()
	if err != nil {
		return err
	}
	return m.runner.Run(m.ctx, capture.Task{
		Kind:      capture.KindVideo,
		CameraID:  m.cam.ID,
		SourceURI: uri,
		OutPath:   videoPath,
		Duration:  m.cam.ClipDuration(),
	})
}

// captureStillStream grabs the representative frame off the camera's
// dedicated stills stream.
func (m *Manager) captureStillStream(imagePath string) error {
	resolveCtx, cancel := context.WithTimeout(m.ctx, resolveTimeout)
	uri, err := m.streams.StillsURI(resolveCtx)
	cancel()
	if err != nil {
		return err
	}
	if uri == "" {
		return errors.New("stills stream configured but not resolvable")
	}
	return m.runner.Run(m.ctx, capture.Task{
		Kind:      capture.KindStill,
		CameraID:  m.cam.ID,
		SourceURI: uri,
		OutPath:   imagePath,
	})
}
