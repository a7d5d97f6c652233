// onvifeye-genconf writes a commented starter camera configuration so a
// new install has something concrete to edit.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/onvifeye/onvifeye/internal/platform/paths"
)

const starterTemplate = `# onvifeye camera configuration.
# One file per camera; the filename (without .yaml) is used as the camera
# id when camera_id is omitted.

camera_id: %s
# camera_model helps pick vendor-specific event-name aliases (e.g. Tapo).
camera_model: Tapo C225
camera_ip_addr: 192.168.1.50
# Tapo cameras expose ONVIF on 2020, not the standard 80.
camera_onvif_port: 2020
# The camera-account credentials (Tapo: set in Advanced Settings > Camera
# Account), not your cloud login.
camera_username: tapo-admin
camera_password: changeme

# RTSP profile recorded on detection. Tapo: majorStream is full
# resolution, minorStream is the low-bandwidth substream.
camera_stream_name: majorStream
# Profile for the still image, defaults to jpegStream. A camera without a
# resolvable stills profile finalizes its sessions without the still.
#camera_stills_stream_name: jpegStream

camera_clip_seconds: 30
# A session closes this many seconds after the last matching detection.
camera_debounce_seconds: 60

# Event names that trigger a recording; "*" matches any detection.
camera_target_events:
  - IsPeople
# Optional executable invoked once per finished session with
# "<camera_id> <event>/<YYYYMMDD-HHMMSS>" arguments.
#camera_event_exec: /usr/local/bin/onvifeye-mailer
`

func main() {
	id := flag.String("id", "camera1", "camera id for the generated file")
	stdout := flag.Bool("stdout", false, "print to stdout instead of writing the config file")
	flag.Parse()

	content := fmt.Sprintf(starterTemplate, *id)
	if *stdout {
		fmt.Print(content)
		return
	}

	dir := filepath.Join(paths.ResolveConfigDir(), "cameras")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	path := filepath.Join(dir, *id+".yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "%s already exists, not overwriting\n", path)
		os.Exit(1)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", path)
}
