package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StampLayout is the timestamp layout used in artifact names and event
// identifiers.
const StampLayout = "20060102-150405"

// ResolveConfigDir returns the directory holding the daemon config and the
// per-camera config files.
func ResolveConfigDir() string {
	if dir := os.Getenv("ONVIFEYE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "onvifeye")
	}
	return filepath.Join(home, ".config", "onvifeye")
}

// ResolveDataDir returns the default save folder root for captured media.
func ResolveDataDir() string {
	if dir := os.Getenv("ONVIFEYE_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "onvifeye")
	}
	return filepath.Join(home, "onvifeye")
}

// VideoPath returns <root>/videos/<cameraID>/<stamp>.ts for a clip started
// at the given time. The timestamped name doubles as the concurrency
// control: no two sessions for one camera share a start second.
func VideoPath(root, cameraID string, startedAt time.Time) string {
	return filepath.Join(root, "videos", cameraID, startedAt.Format(StampLayout)+".ts")
}

// ImagePath returns <root>/images/<cameraID>/<stamp>.jpg.
func ImagePath(root, cameraID string, startedAt time.Time) string {
	return filepath.Join(root, "images", cameraID, startedAt.Format(StampLayout)+".jpg")
}

// EnsureArtifactDirs creates the videos/ and images/ trees for a camera.
func EnsureArtifactDirs(root, cameraID string) error {
	for _, sub := range []string{"videos", "images"} {
		path := filepath.Join(root, sub, cameraID)
		if err := os.MkdirAll(path, 0o750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result stays inside base.
// Camera ids come from user config and end up in filesystem paths, so
// traversal has to be rejected here.
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) {
			return "", fmt.Errorf("path traversal attempt detected: absolute element %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}
	return absJoined, nil
}
