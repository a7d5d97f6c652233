package capture

import (
	"fmt"
	"strconv"
)

// ffmpegArgs builds the argument list for a capture task. The clip is
// written as mpegts so a half-written file can still be previewed while
// the capture is in progress.
func ffmpegArgs(task Task) ([]string, error) {
	switch task.Kind {
	case KindVideo:
		if task.Duration <= 0 {
			return nil, fmt.Errorf("video capture requires a positive duration")
		}
		return []string{
			"-nostdin", "-hide_banner", "-loglevel", "warning",
			"-rtsp_transport", "tcp",
			"-t", strconv.Itoa(int(task.Duration.Seconds())),
			"-i", task.SourceURI,
			"-f", "mpegts",
			"-c:v", "h264", "-c:a", "aac",
			"-preset", "ultrafast", "-tune", "zerolatency",
			task.OutPath,
		}, nil
	case KindStill:
		return []string{
			"-nostdin", "-hide_banner", "-loglevel", "warning",
			"-rtsp_transport", "tcp",
			"-i", task.SourceURI,
			"-frames:v", "1",
			task.OutPath,
		}, nil
	default:
		return nil, fmt.Errorf("unknown capture kind %q", task.Kind)
	}
}

// stillFromVideoArgs extracts one frame from an already-captured clip, used
// when a camera has no dedicated stills stream.
func stillFromVideoArgs(videoPath, outPath string) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-i", videoPath,
		"-frames:v", "1",
		outPath,
	}
}
