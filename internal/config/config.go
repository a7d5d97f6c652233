package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/onvifeye/onvifeye/internal/platform/paths"
)

const (
	DefaultOnvifPort       = 2020
	DefaultClipSeconds     = 30
	DefaultDebounceSeconds = 60
	DefaultStreamName      = "majorStream"
	DefaultStillsStream    = "jpegStream"

	// WildcardEvent in a target list matches every asserted detection name.
	WildcardEvent = "*"

	cameraSuffix = ".yaml"
)

// App is the daemon-level configuration.
type App struct {
	ListenAddr  string `yaml:"listen_addr"`
	LogLevel    string `yaml:"log_level"`
	SaveFolder  string `yaml:"save_folder"`
	NatsURL     string `yaml:"nats_url"`
	NatsSubject string `yaml:"nats_subject"`
}

// Camera is the per-camera configuration, one file per camera under the
// cameras/ subdirectory of the config dir. Immutable once loaded; a changed
// file means the owning supervisor is restarted with a fresh copy.
type Camera struct {
	ID              string   `yaml:"camera_id"`
	Model           string   `yaml:"camera_model"`
	Address         string   `yaml:"camera_ip_addr"`
	OnvifPort       int      `yaml:"camera_onvif_port"`
	Username        string   `yaml:"camera_username"`
	Password        string   `yaml:"camera_password"`
	StreamName      string   `yaml:"camera_stream_name"`
	StillsStream    string   `yaml:"camera_stills_stream_name"`
	ClipSeconds     int      `yaml:"camera_clip_seconds"`
	DebounceSeconds int      `yaml:"camera_debounce_seconds"`
	TargetEvents    []string `yaml:"camera_target_events"`
	EventExec       string   `yaml:"camera_event_exec"`
	SaveFolder      string   `yaml:"camera_save_folder"`
}

// ClipDuration returns the configured clip length.
func (c *Camera) ClipDuration() time.Duration {
	return time.Duration(c.ClipSeconds) * time.Second
}

// DebounceWindow returns the silence interval after which an active event
// session is considered finished.
func (c *Camera) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

// IsTargetEvent reports whether a detection name is in the camera's target
// set, honouring the wildcard entry.
func (c *Camera) IsTargetEvent(name string) bool {
	for _, t := range c.TargetEvents {
		if t == WildcardEvent || t == name {
			return true
		}
	}
	return false
}

// LoadApp reads the daemon config file, applying defaults for anything
// missing. A missing file is not an error; defaults apply.
func LoadApp(path string) (*App, error) {
	app := &App{}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, app); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if app.ListenAddr == "" {
		app.ListenAddr = ":8780"
	}
	if app.SaveFolder == "" {
		app.SaveFolder = paths.ResolveDataDir()
	}
	if app.NatsSubject == "" {
		app.NatsSubject = "onvifeye.events"
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		app.NatsURL = v
	}
	return app, nil
}

// LoadCamera reads and validates a single camera config file.
func LoadCamera(path string) (*Camera, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cam := &Camera{}
	if err := yaml.Unmarshal(data, cam); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyCameraDefaults(cam, path)
	if err := validateCamera(cam); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cam, nil
}

// LoadCameraDir reads every camera config file in dir, sorted by filename.
// Individual bad files are reported but do not prevent loading the rest.
func LoadCameraDir(dir string) ([]*Camera, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("read camera config dir %s: %w", dir, err)}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), cameraSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var cams []*Camera
	var errs []error
	seen := map[string]string{}
	for _, name := range names {
		cam, err := LoadCamera(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := seen[cam.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate camera id %q (already defined in %s)", name, cam.ID, prev))
			continue
		}
		seen[cam.ID] = name
		cams = append(cams, cam)
	}
	return cams, errs
}

func applyCameraDefaults(cam *Camera, path string) {
	if cam.ID == "" {
		if cam.Address != "" {
			cam.ID = cam.Address
		} else {
			cam.ID = strings.TrimSuffix(filepath.Base(path), cameraSuffix)
		}
	}
	if cam.OnvifPort == 0 {
		cam.OnvifPort = DefaultOnvifPort
	}
	if cam.StreamName == "" {
		cam.StreamName = DefaultStreamName
	}
	if cam.StillsStream == "" {
		cam.StillsStream = DefaultStillsStream
	}
	if cam.ClipSeconds == 0 {
		cam.ClipSeconds = DefaultClipSeconds
	}
	if cam.DebounceSeconds == 0 {
		cam.DebounceSeconds = DefaultDebounceSeconds
	}
	// SaveFolder is left empty here; the daemon fills in its app-level
	// save folder for cameras that do not override it.
}

func validateCamera(cam *Camera) error {
	if cam.Address == "" {
		return fmt.Errorf("camera_ip_addr is required")
	}
	if strings.ContainsAny(cam.ID, "/\\") {
		return fmt.Errorf("camera_id %q must not contain path separators", cam.ID)
	}
	if cam.ClipSeconds < 0 || cam.DebounceSeconds < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if len(cam.TargetEvents) == 0 {
		return fmt.Errorf("camera_target_events must name at least one event")
	}
	return nil
}
