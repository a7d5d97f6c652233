package capture

import (
	"context"
	"errors"
	"time"
)

// Kind distinguishes the two capture task flavours.
type Kind string

const (
	KindVideo Kind = "video"
	KindStill Kind = "still"
)

// Task is one bounded external media-capture operation. Owned by the
// supervisor while running; the artifact path is the session's once the
// task completes.
type Task struct {
	Kind      Kind
	CameraID  string
	SourceURI string
	OutPath   string
	// Duration is the planned clip length for video tasks; zero for stills.
	Duration time.Duration
}

// ErrDeadlineExceeded marks a capture process that had to be terminated
// because it outlived its deadline.
var ErrDeadlineExceeded = errors.New("capture deadline exceeded")

// ErrArtifactExists marks a refusal to overwrite an existing artifact.
// Artifact paths are timestamped, so a collision means a duplicate trigger.
var ErrArtifactExists = errors.New("artifact already exists")

// Runner executes capture tasks. The recording session manager depends on
// this interface so session logic is testable without spawning processes.
type Runner interface {
	Run(ctx context.Context, task Task) error
}
