package encoder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"hlsvault/logger"
)

// SegmentSeconds is the target duration of each HLS segment.
const SegmentSeconds = 10

// Transcoder turns one source file into a manifest plus segments written next
// to manifestPath. It never returns an error: a failed or unlaunchable
// process is reported as false.
type Transcoder interface {
	Transcode(ctx context.Context, sourcePath, manifestPath string) bool
}

// TranscodeFunc adapts a function to the Transcoder interface.
type TranscodeFunc func(ctx context.Context, sourcePath, manifestPath string) bool

func (f TranscodeFunc) Transcode(ctx context.Context, sourcePath, manifestPath string) bool {
	return f(ctx, sourcePath, manifestPath)
}

// FFmpeg packages media as single-rendition HLS with the ffmpeg binary.
type FFmpeg struct {
	Bin string
}

// NewFFmpeg returns an FFmpeg for bin, logging a warning when the command is
// not on PATH. Jobs will then fail at launch and be marked FAILED.
func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		logger.Warnf("encoder [hls] command '%s' not found in PATH; transcodes will fail", bin)
	} else {
		logger.Debugf("encoder [hls] registered (command: %s)", bin)
	}
	return &FFmpeg{Bin: bin}
}

// hlsArgs is the fixed profile: H.264 video, AAC audio, 10 second segments,
// every segment kept in the playlist.
func hlsArgs(in, out string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", in,
		"-c:v", "h264",
		"-c:a", "aac",
		"-strict", "-2",
		"-start_number", "0",
		"-hls_time", fmt.Sprint(SegmentSeconds),
		"-hls_list_size", "0",
		"-f", "hls",
		out,
	}
}

func (f *FFmpeg) Transcode(ctx context.Context, sourcePath, manifestPath string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("transcoding panic for %s: %v", sourcePath, r)
			ok = false
		}
	}()

	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		logger.Errorf("transcoding error: create output dir: %v", err)
		return false
	}

	cmd := exec.CommandContext(ctx, f.Bin, hlsArgs(sourcePath, manifestPath)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Errorf("transcoding error for %s: %v: %s", sourcePath, err, tail(output, 512))
		return false
	}
	logger.Debugf("transcoded %s -> %s", sourcePath, manifestPath)
	return true
}

// tail keeps the last n bytes of process output for the log line.
func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
