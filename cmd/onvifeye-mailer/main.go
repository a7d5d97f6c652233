// onvifeye-mailer is an event handler executable for onvifeyed: it is
// invoked as `onvifeye-mailer <camera_id> <event>/<YYYYMMDD-HHMMSS>...`,
// waits briefly for the session's still image to land on disk, and mails a
// notification with the image inlined.
package main

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/onvifeye/onvifeye/internal/log"
	"github.com/onvifeye/onvifeye/internal/platform/paths"
)

// stillWait is how long the mailer waits for the still image to appear.
// The capture usually finishes well inside the clip duration plus grace.
const stillWait = 10 * time.Second

type mailConfig struct {
	From           string   `yaml:"send_from"`
	To             []string `yaml:"send_to"`
	Server         string   `yaml:"server"`
	Port           int      `yaml:"port"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	AddLegalFooter bool     `yaml:"add_legal_footer"`
	// ImagesRoot overrides where still images are looked up; defaults to
	// the daemon's data dir.
	ImagesRoot string `yaml:"images_root"`
}

func loadMailConfig(path string) (*mailConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &mailConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Server == "" {
		cfg.Server = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.ImagesRoot == "" {
		cfg.ImagesRoot = paths.ResolveDataDir()
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("%s: send_from and send_to are required", path)
	}
	return cfg, nil
}

// detection is one `<event>/<stamp>` handler argument, split.
type detection struct {
	Event string
	Stamp string
}

func parseDetections(args []string) ([]detection, error) {
	var out []detection
	for _, a := range args {
		event, stamp, ok := strings.Cut(a, "/")
		if !ok || event == "" || stamp == "" {
			return nil, fmt.Errorf("malformed event identifier %q, want <event>/<stamp>", a)
		}
		out = append(out, detection{Event: event, Stamp: stamp})
	}
	return out, nil
}

// humanName lowercases a detection name and strips the Tapo "Is" prefix:
// IsPeople reads as "people" in a subject line.
func humanName(event string) string {
	return strings.ToLower(strings.TrimPrefix(event, "Is"))
}

func buildSubject(cameraID string, dets []detection) string {
	parts := make([]string, 0, len(dets))
	for _, d := range dets {
		parts = append(parts, fmt.Sprintf("%s at %s", humanName(d.Event), d.Stamp))
	}
	return fmt.Sprintf("Camera %s detected %s", cameraID, strings.Join(parts, ","))
}

func buildBody(cameraID string, dets []detection) string {
	lines := make([]string, 0, len(dets))
	for _, d := range dets {
		lines = append(lines, fmt.Sprintf("%s detected at %s", strings.TrimPrefix(d.Event, "Is"), d.Stamp))
	}
	return fmt.Sprintf("Camera: %s\n\n%s", cameraID, strings.Join(lines, "\n"))
}

// waitForStill polls for the session's still image until it appears or the
// wait elapses. Returns "" when no image showed up; the mail still goes
// out, just without a picture. Camera id and stamp come from argv, so the
// path is constrained to the images root.
func waitForStill(imagesRoot, cameraID, stamp string, wait time.Duration) string {
	p, err := paths.SafeJoin(imagesRoot, "images", cameraID, stamp+".jpg")
	if err != nil {
		return ""
	}
	deadline := time.Now().Add(wait)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		if time.Now().After(deadline) {
			return ""
		}
		time.Sleep(time.Second)
	}
}

func sendMail(cfg *mailConfig, subject, body string, jpeg []byte) error {
	msg := buildMessage(cfg, subject, body, jpeg)

	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Close()

	if err := c.StartTLS(&tls.Config{ServerName: cfg.Server}); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	if cfg.Username != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Server)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, to := range cfg.To {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("rcpt %s: %w", to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return c.Quit()
}

func main() {
	log.Configure(log.Config{})
	logger := log.WithComponent("mailer")

	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <camera_id> <event>/<YYYYMMDD-HHMMSS>...\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}
	cameraID := os.Args[1]

	configPath := filepath.Join(paths.ResolveConfigDir(), "onvifeye-email.yaml")
	cfg, err := loadMailConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load mail configuration")
	}

	dets, err := parseDetections(os.Args[2:])
	if err != nil {
		logger.Fatal().Err(err).Msg("bad arguments")
	}

	var jpeg []byte
	if p := waitForStill(cfg.ImagesRoot, cameraID, dets[0].Stamp, stillWait); p != "" {
		jpeg, err = os.ReadFile(p)
		if err != nil {
			logger.Warn().Err(err).Str("path", p).Msg("still image unreadable, sending without it")
			jpeg = nil
		}
	} else {
		logger.Warn().Str("camera", cameraID).Str("stamp", dets[0].Stamp).Msg("still image never appeared, sending without it")
	}

	subject := buildSubject(cameraID, dets)
	body := buildBody(cameraID, dets)
	if err := sendMail(cfg, subject, body, jpeg); err != nil {
		logger.Fatal().Err(err).Msg("send failed")
	}
	logger.Info().Str("camera", cameraID).Str("subject", subject).Msg("notification mail sent")
}
