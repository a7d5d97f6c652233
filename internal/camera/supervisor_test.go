package camera

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onvifeye/onvifeye/internal/capture"
	"github.com/onvifeye/onvifeye/internal/config"
	"github.com/onvifeye/onvifeye/internal/publish"
)

const envelopeOpen = `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>`
const envelopeClose = `</s:Body></s:Envelope>`

type fakeRunner struct {
	mu       sync.Mutex
	tasks    []capture.Task
	extracts int
}

func (f *fakeRunner) Run(ctx context.Context, task capture.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeRunner) ExtractStill(ctx context.Context, cameraID, videoPath, outPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracts++
	return nil
}

type channelPublisher struct {
	events chan publish.Event
}

func (p *channelPublisher) Publish(e publish.Event) error {
	select {
	case p.events <- e:
	case <-time.After(time.Second):
	}
	return nil
}

// fakeCamera serves just enough of the ONVIF surface for a supervisor to
// connect, subscribe and pull one people detection.
func fakeCamera(t *testing.T) *httptest.Server {
	return fakeCameraItem(t, "IsPeople")
}

// fakeCameraItem is fakeCamera with a configurable detection item name.
func fakeCameraItem(t *testing.T, item string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	var pulls atomic.Int64
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := string(raw)
		var resp string
		switch {
		case strings.Contains(body, "GetDeviceInformation"):
			resp = `<tds:GetDeviceInformationResponse xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
				<tds:Manufacturer>TP-Link</tds:Manufacturer>
				<tds:Model>C225</tds:Model>
			</tds:GetDeviceInformationResponse>`
		case strings.Contains(body, "GetCapabilities"):
			resp = `<tds:GetCapabilitiesResponse xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
				<tds:Capabilities>
					<Media><XAddr>` + srv.URL + `</XAddr></Media>
					<Events><XAddr>` + srv.URL + `</XAddr></Events>
				</tds:Capabilities>
			</tds:GetCapabilitiesResponse>`
		case strings.Contains(body, "CreatePullPointSubscription"):
			resp = `<tev:CreatePullPointSubscriptionResponse xmlns:tev="http://www.onvif.org/ver10/events/wsdl">
				<tev:SubscriptionReference>
					<wsa:Address xmlns:wsa="http://www.w3.org/2005/08/addressing">` + srv.URL + `/sub_0</wsa:Address>
				</tev:SubscriptionReference>
			</tev:CreatePullPointSubscriptionResponse>`
		case strings.Contains(body, "PullMessages"):
			if pulls.Add(1) == 1 {
				resp = `<tev:PullMessagesResponse xmlns:tev="http://www.onvif.org/ver10/events/wsdl" xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2" xmlns:tt="http://www.onvif.org/ver10/schema">
					<wsnt:NotificationMessage>
						<wsnt:Topic>tns1:RuleEngine/CellMotionDetector/People</wsnt:Topic>
						<wsnt:Message>
							<tt:Message UtcTime="2025-03-09T14:30:05Z">
								<tt:Data><tt:SimpleItem Name="` + item + `" Value="true"/></tt:Data>
							</tt:Message>
						</wsnt:Message>
					</wsnt:NotificationMessage>
				</tev:PullMessagesResponse>`
			} else {
				// Idle poll: nothing to report.
				time.Sleep(50 * time.Millisecond)
				resp = `<tev:PullMessagesResponse xmlns:tev="http://www.onvif.org/ver10/events/wsdl"/>`
			}
		case strings.Contains(body, "Renew"):
			resp = `<wsnt:RenewResponse xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"/>`
		case strings.Contains(body, "Unsubscribe"):
			resp = `<wsnt:UnsubscribeResponse xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"/>`
		case strings.Contains(body, "GetProfiles"):
			resp = `<trt:GetProfilesResponse xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
				<trt:Profiles token="profile_1"><tt:Name xmlns:tt="http://www.onvif.org/ver10/schema">majorStream</tt:Name></trt:Profiles>
			</trt:GetProfilesResponse>`
		case strings.Contains(body, "GetStreamUri"):
			resp = `<trt:GetStreamUriResponse xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
				<trt:MediaUri><tt:Uri xmlns:tt="http://www.onvif.org/ver10/schema">rtsp://10.0.0.9:554/stream1</tt:Uri></trt:MediaUri>
			</trt:GetStreamUriResponse>`
		default:
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/soap+xml")
		io.WriteString(w, envelopeOpen+resp+envelopeClose)
	}))
	return srv
}

func cameraFor(t *testing.T, srv *httptest.Server) *config.Camera {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return &config.Camera{
		ID:              "door",
		Model:           "Tapo C225",
		Address:         u.Hostname(),
		OnvifPort:       port,
		Username:        "tapo-admin",
		Password:        "pw",
		StreamName:      "majorStream",
		ClipSeconds:     1,
		DebounceSeconds: 1,
		TargetEvents:    []string{"IsPeople"},
		SaveFolder:      t.TempDir(),
	}
}

func awaitEvent(t *testing.T, events chan publish.Event, eventType string, timeout time.Duration) publish.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", eventType, timeout)
			return publish.Event{}
		}
	}
}

func TestSupervisorDetectionToRecording(t *testing.T) {
	srv := fakeCamera(t)
	defer srv.Close()

	runner := &fakeRunner{}
	pub := &channelPublisher{events: make(chan publish.Event, 16)}
	sup := NewSupervisor(cameraFor(t, srv), runner, pub)
	sup.Start()
	defer sup.Stop(5 * time.Second)

	started := awaitEvent(t, pub.events, "session_started", 5*time.Second)
	assert.Equal(t, "door", started.CameraID)
	assert.Equal(t, "IsPeople", started.EventName)
	assert.True(t, strings.HasPrefix(started.Identifier, "IsPeople/"), "identifier %q", started.Identifier)

	finished := awaitEvent(t, pub.events, "recording_finished", 5*time.Second)
	assert.False(t, finished.Degraded)
	assert.NotEmpty(t, finished.VideoPath)

	runner.mu.Lock()
	require.NotEmpty(t, runner.tasks)
	assert.Equal(t, capture.KindVideo, runner.tasks[0].Kind)
	assert.Equal(t, "rtsp://tapo-admin:pw@10.0.0.9:554/stream1", runner.tasks[0].SourceURI)
	assert.Equal(t, 1, runner.extracts)
	runner.mu.Unlock()

	// One detection with no follow-up: the debounce window expires and the
	// session closes on its own.
	closed := awaitEvent(t, pub.events, "session_closed", 5*time.Second)
	assert.Equal(t, "expired", closed.Reason)
}

func TestSupervisorDiscoversModelForAliases(t *testing.T) {
	// Firmware reports IsPerson; only the C2xx alias table maps that onto
	// the canonical IsPeople name. The model is not configured, so the
	// aliases apply only if it is discovered from the device.
	srv := fakeCameraItem(t, "IsPerson")
	defer srv.Close()

	cam := cameraFor(t, srv)
	cam.Model = ""

	pub := &channelPublisher{events: make(chan publish.Event, 16)}
	sup := NewSupervisor(cam, &fakeRunner{}, pub)
	sup.Start()
	defer sup.Stop(5 * time.Second)

	started := awaitEvent(t, pub.events, "session_started", 5*time.Second)
	assert.Equal(t, "IsPeople", started.EventName)
	assert.Equal(t, "C225", sup.Status().Model)
}

func TestSupervisorStatusTransitions(t *testing.T) {
	srv := fakeCamera(t)
	defer srv.Close()

	sup := NewSupervisor(cameraFor(t, srv), &fakeRunner{}, nil)
	sup.Start()

	require.Eventually(t, func() bool {
		return sup.Status().State == StateConnected
	}, 5*time.Second, 10*time.Millisecond)

	st := sup.Status()
	assert.Equal(t, "door", st.CameraID)
	assert.Empty(t, st.LastError)

	require.NoError(t, sup.Stop(5*time.Second))
	assert.Equal(t, StateStopped, sup.Status().State)
}

func TestSupervisorDegradedWhenUnreachable(t *testing.T) {
	// Grab a port with nothing listening on it.
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	sup := NewSupervisor(cameraFor(t, srv), &fakeRunner{}, nil)
	sup.Start()
	defer sup.Stop(5 * time.Second)

	require.Eventually(t, func() bool {
		st := sup.Status()
		return st.State == StateDegraded && st.LastError != ""
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFleetReconciliation(t *testing.T) {
	srv := fakeCamera(t)
	defer srv.Close()

	fleet := NewFleet(&fakeRunner{}, publish.Noop{})
	defer fleet.Stop()

	camA := cameraFor(t, srv)
	camB := cameraFor(t, srv)
	camB.ID = "garden"

	fleet.Apply([]*config.Camera{camA, camB})
	sts := fleet.Statuses()
	require.Len(t, sts, 2)
	assert.Equal(t, "door", sts[0].CameraID)
	assert.Equal(t, "garden", sts[1].CameraID)

	// Unchanged camera keeps its supervisor; removed one stops.
	fleet.Apply([]*config.Camera{camA})
	sts = fleet.Statuses()
	require.Len(t, sts, 1)
	assert.Equal(t, "door", sts[0].CameraID)

	// A changed clip length forces a restart with the new settings.
	camChanged := *camA
	camChanged.ClipSeconds = 5
	fleet.Apply([]*config.Camera{&camChanged})
	sts = fleet.Statuses()
	require.Len(t, sts, 1)
	assert.NotEqual(t, StateStopped, sts[0].State)
}
