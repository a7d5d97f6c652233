package camera

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/onvifeye/onvifeye/internal/config"
	"github.com/onvifeye/onvifeye/internal/log"
	"github.com/onvifeye/onvifeye/internal/publish"
	"github.com/onvifeye/onvifeye/internal/record"
)

// stopTimeout bounds how long a fleet reconfiguration waits for one
// supervisor to wind down.
const stopTimeout = 15 * time.Second

// Fleet manages the set of camera supervisors and reconciles it against
// configuration changes: new cameras start, removed cameras stop, changed
// cameras restart with the new settings. Unchanged cameras are left alone
// so their subscriptions and active sessions survive a reload.
type Fleet struct {
	runner record.CaptureRunner
	pub    publish.Publisher
	logger zerolog.Logger

	mu   sync.Mutex
	sups map[string]*Supervisor
	cfgs map[string]*config.Camera
}

// NewFleet builds an empty fleet. Call Apply with the initial camera set.
func NewFleet(runner record.CaptureRunner, pub publish.Publisher) *Fleet {
	return &Fleet{
		runner: runner,
		pub:    pub,
		logger: log.WithComponent("fleet"),
		sups:   make(map[string]*Supervisor),
		cfgs:   make(map[string]*config.Camera),
	}
}

// Apply reconciles the running supervisors against the given camera set.
func (f *Fleet) Apply(cams []*config.Camera) {
	f.mu.Lock()
	defer f.mu.Unlock()

	want := make(map[string]*config.Camera, len(cams))
	for _, cam := range cams {
		want[cam.ID] = cam
	}

	for id, sup := range f.sups {
		cam, keep := want[id]
		if keep && reflect.DeepEqual(cam, f.cfgs[id]) {
			continue
		}
		if keep {
			f.logger.Info().Str("camera_id", id).Msg("camera configuration changed, restarting")
		} else {
			f.logger.Info().Str("camera_id", id).Msg("camera removed, stopping")
		}
		if err := sup.Stop(stopTimeout); err != nil {
			f.logger.Warn().Err(err).Str("camera_id", id).Msg("supervisor did not stop cleanly")
		}
		delete(f.sups, id)
		delete(f.cfgs, id)
	}

	for id, cam := range want {
		if _, running := f.sups[id]; running {
			continue
		}
		f.logger.Info().Str("camera_id", id).Str("address", cam.Address).Msg("starting camera supervisor")
		sup := NewSupervisor(cam, f.runner, f.pub)
		sup.Start()
		f.sups[id] = sup
		f.cfgs[id] = cam
	}
}

// Statuses returns a snapshot of every supervisor, ordered by camera id.
func (f *Fleet) Statuses() []Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Status, 0, len(f.sups))
	for _, sup := range f.sups {
		out = append(out, sup.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// Stop winds down every supervisor.
func (f *Fleet) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, sup := range f.sups {
		if err := sup.Stop(stopTimeout); err != nil {
			f.logger.Warn().Err(err).Str("camera_id", id).Msg("supervisor did not stop cleanly")
		}
	}
	f.sups = make(map[string]*Supervisor)
	f.cfgs = make(map[string]*config.Camera)
}
