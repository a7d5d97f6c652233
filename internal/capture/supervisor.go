package capture

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/onvifeye/onvifeye/internal/log"
	"github.com/onvifeye/onvifeye/internal/metrics"
)

const (
	// DefaultGrace is added to a task's planned duration to form the hard
	// deadline: the stream open and container flush take a few seconds on
	// top of the clip itself.
	DefaultGrace = 15 * time.Second

	// killDelay is how long a process gets to honour the graceful stop
	// signal before it is killed outright.
	killDelay = 5 * time.Second
)

// Supervisor launches, monitors and terminates one external capture process
// per task. It never propagates process failure as a fatal error; failed
// tasks surface as error returns the session finalizes around.
type Supervisor struct {
	// FFmpegPath overrides the ffmpeg binary, for tests and odd installs.
	FFmpegPath string
	// Grace overrides DefaultGrace when positive.
	Grace time.Duration
}

// NewSupervisor returns a supervisor with defaults.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

func (s *Supervisor) binary() string {
	if s.FFmpegPath != "" {
		return s.FFmpegPath
	}
	return "ffmpeg"
}

func (s *Supervisor) grace() time.Duration {
	if s.Grace > 0 {
		return s.Grace
	}
	return DefaultGrace
}

// Run executes one capture task to completion or deadline. The deadline is
// the planned duration plus a bounded grace margin; a process that has not
// exited by then gets a graceful stop signal, then a kill.
func (s *Supervisor) Run(ctx context.Context, task Task) error {
	args, err := ffmpegArgs(task)
	if err != nil {
		return err
	}
	return s.runProcess(ctx, task, s.binary(), args)
}

// ExtractStill pulls a representative frame out of a captured clip.
func (s *Supervisor) ExtractStill(ctx context.Context, cameraID, videoPath, outPath string) error {
	task := Task{Kind: KindStill, CameraID: cameraID, SourceURI: videoPath, OutPath: outPath}
	return s.runProcess(ctx, task, s.binary(), stillFromVideoArgs(videoPath, outPath))
}

func (s *Supervisor) runProcess(ctx context.Context, task Task, bin string, args []string) error {
	logger := log.WithCamera("capture", task.CameraID)

	if _, err := os.Stat(task.OutPath); err == nil {
		logger.Error().Str("path", task.OutPath).Msg("skipping capture, artifact already exists")
		metrics.CapturesTotal.WithLabelValues(task.CameraID, string(task.Kind), "exists").Inc()
		return ErrArtifactExists
	}
	if err := os.MkdirAll(filepath.Dir(task.OutPath), 0o750); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	deadline := task.Duration + s.grace()

	cmd := exec.Command(bin, args...)
	cmd.Stdout = nil
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.CapturesTotal.WithLabelValues(task.CameraID, string(task.Kind), "spawn_failed").Inc()
		return fmt.Errorf("start %s: %w", bin, err)
	}
	logger.Info().Str("kind", string(task.Kind)).Str("path", task.OutPath).Int("pid", cmd.Process.Pid).Msg("capture process started")

	// Drain continuously so the child can never stall on a full pipe.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for scanner.Scan() {
			logger.Debug().Str("kind", string(task.Kind)).Msg(scanner.Text())
		}
	}()

	// Wait only after the drain has hit EOF; reaping the process first
	// can truncate the tail of its output.
	waitErr := make(chan error, 1)
	go func() {
		<-drained
		waitErr <- cmd.Wait()
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var runErr error
	timedOut := false
	select {
	case err := <-waitErr:
		runErr = err
	case <-timer.C:
		timedOut = true
		runErr = s.terminate(cmd, waitErr)
	case <-ctx.Done():
		logger.Warn().Str("kind", string(task.Kind)).Msg("capture cancelled, stopping process")
		s.terminate(cmd, waitErr)
		runErr = ctx.Err()
	}

	elapsed := time.Since(start)
	switch {
	case timedOut:
		metrics.CapturesTotal.WithLabelValues(task.CameraID, string(task.Kind), "deadline").Inc()
		logger.Error().Str("kind", string(task.Kind)).Dur("elapsed", elapsed).Msg("capture terminated at deadline")
		return fmt.Errorf("%w after %s", ErrDeadlineExceeded, elapsed.Round(time.Second))
	case runErr != nil:
		metrics.CapturesTotal.WithLabelValues(task.CameraID, string(task.Kind), "failed").Inc()
		logger.Error().Err(runErr).Str("kind", string(task.Kind)).Dur("elapsed", elapsed).Msg("capture process failed")
		return fmt.Errorf("capture %s: %w", task.Kind, runErr)
	default:
		metrics.CapturesTotal.WithLabelValues(task.CameraID, string(task.Kind), "ok").Inc()
		logger.Info().Str("kind", string(task.Kind)).Str("path", task.OutPath).Dur("elapsed", elapsed).Msg("capture complete")
		return nil
	}
}

// terminate sends SIGTERM, waits killDelay, then SIGKILLs. Returns the
// process's exit error once it is gone.
func (s *Supervisor) terminate(cmd *exec.Cmd, waitErr chan error) error {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case err := <-waitErr:
		return err
	case <-time.After(killDelay):
		_ = cmd.Process.Kill()
		return <-waitErr
	}
}
