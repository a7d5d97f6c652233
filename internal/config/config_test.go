package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCameraDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "front-door.yaml", `
camera_ip_addr: 192.168.1.50
camera_password: secret
camera_target_events: [IsPeople, IsCar]
`)

	cam, err := LoadCamera(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.50", cam.ID) // falls back to address
	assert.Equal(t, DefaultOnvifPort, cam.OnvifPort)
	assert.Equal(t, DefaultStreamName, cam.StreamName)
	assert.Equal(t, DefaultStillsStream, cam.StillsStream)
	assert.Equal(t, DefaultClipSeconds, cam.ClipSeconds)
	assert.Equal(t, 60*time.Second, cam.DebounceWindow())
	assert.Equal(t, 30*time.Second, cam.ClipDuration())
}

func TestLoadCameraValidation(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		content string
		errSub  string
	}{
		{"missing_addr", "camera_target_events: [IsPeople]", "camera_ip_addr"},
		{"no_targets", "camera_ip_addr: 10.0.0.1", "camera_target_events"},
		{"bad_id", "camera_ip_addr: 10.0.0.1\ncamera_id: a/b\ncamera_target_events: [IsPeople]", "path separators"},
		{"negative", "camera_ip_addr: 10.0.0.1\ncamera_clip_seconds: -5\ncamera_target_events: [IsPeople]", "negative"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, dir, tc.name+".yaml", tc.content)
			_, err := LoadCamera(path)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tc.errSub)
			}
		})
	}
}

func TestIsTargetEvent(t *testing.T) {
	cam := &Camera{TargetEvents: []string{"IsPeople", "IsCar"}}
	assert.True(t, cam.IsTargetEvent("IsPeople"))
	assert.False(t, cam.IsTargetEvent("IsPet"))

	wild := &Camera{TargetEvents: []string{WildcardEvent}}
	assert.True(t, wild.IsTargetEvent("Anything"))
}

func TestLoadCameraDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "camera_ip_addr: 10.0.0.1\ncamera_id: cam-a\ncamera_target_events: [IsPeople]")
	writeFile(t, dir, "b.yaml", "camera_ip_addr: 10.0.0.2\ncamera_id: cam-b\ncamera_target_events: [IsCar]")
	writeFile(t, dir, "broken.yaml", ":::not yaml")
	writeFile(t, dir, "dup.yaml", "camera_ip_addr: 10.0.0.3\ncamera_id: cam-a\ncamera_target_events: [IsPeople]")
	writeFile(t, dir, "ignored.txt", "not a config")

	cams, errs := LoadCameraDir(dir)
	require.Len(t, cams, 2)
	assert.Equal(t, "cam-a", cams[0].ID)
	assert.Equal(t, "cam-b", cams[1].ID)
	assert.Len(t, errs, 2) // broken yaml + duplicate id
}

func TestLoadAppDefaults(t *testing.T) {
	app, err := LoadApp(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8780", app.ListenAddr)
	assert.NotEmpty(t, app.SaveFolder)
	assert.Equal(t, "onvifeye.events", app.NatsSubject)
}

func TestDirSignature(t *testing.T) {
	dir := t.TempDir()
	sig1 := dirSignature(dir)
	writeFile(t, dir, "cam.yaml", "camera_ip_addr: 10.0.0.1")
	sig2 := dirSignature(dir)
	assert.NotEqual(t, sig1, sig2)
}
