package record

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/onvifeye/onvifeye/internal/event"
	"github.com/onvifeye/onvifeye/internal/log"
	"github.com/onvifeye/onvifeye/internal/metrics"
)

// handlerTimeout bounds one external handler run. Handlers that poll for
// artifacts (the mailer waits for the still) need headroom; anything beyond
// this is stuck.
const handlerTimeout = 2 * time.Minute

// HandlerInvoker runs the camera's external event handler executable.
// Invoked with two positional arguments: camera id and the event identifier
// `<event>/<YYYYMMDD-HHMMSS>`. A missing or non-executable handler is a
// configuration warning, never a failure.
type HandlerInvoker struct {
	path     string
	cameraID string
	logger   zerolog.Logger
	warnOnce sync.Once
}

// NewHandlerInvoker builds an invoker. path may be empty, in which case
// Invoke is a no-op.
func NewHandlerInvoker(cameraID, path string) *HandlerInvoker {
	return &HandlerInvoker{
		path:     path,
		cameraID: cameraID,
		logger:   log.WithCamera("handler", cameraID),
	}
}

// runnable reports whether the handler path points at an executable file.
func (h *HandlerInvoker) runnable() bool {
	info, err := os.Stat(h.path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// Invoke runs the handler once for a finished session, waiting for it to
// exit. Exit status is logged, never propagated.
func (h *HandlerInvoker) Invoke(ctx context.Context, s event.Session) {
	if h.path == "" {
		return
	}
	if !h.runnable() {
		h.warnOnce.Do(func() {
			h.logger.Error().Str("path", h.path).Msg("event handler executable is not runnable")
		})
		metrics.HandlerInvocationsTotal.WithLabelValues(h.cameraID, "not_runnable").Inc()
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, h.path, h.cameraID, s.Identifier())
	out, err := cmd.CombinedOutput()
	if err != nil {
		metrics.HandlerInvocationsTotal.WithLabelValues(h.cameraID, "failed").Inc()
		h.logger.Warn().Err(err).Str("identifier", s.Identifier()).Bytes("output", out).Msg("event handler exited with error")
		return
	}
	metrics.HandlerInvocationsTotal.WithLabelValues(h.cameraID, "ok").Inc()
	h.logger.Info().Str("identifier", s.Identifier()).Msg("event handler invoked")
}
