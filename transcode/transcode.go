// Package transcode converts downloaded media files to a different
// container or codec by invoking ffmpeg as an external process.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"downpour/types"
)

// Transcoder converts a local media file to the target container.
type Transcoder interface {
	// Convert produces a sibling file with the target extension and
	// returns its path. A non-zero exit status is a conversion error; the
	// caller decides whether to fall back to the input file.
	Convert(ctx context.Context, inputPath, container string, kind types.MediaKind) (string, error)
}

// FFmpeg invokes the ffmpeg binary.
type FFmpeg struct {
	bin string
	log zerolog.Logger
}

// NewFFmpeg creates a transcoder using the given binary path.
func NewFFmpeg(bin string, log zerolog.Logger) *FFmpeg {
	return &FFmpeg{bin: bin, log: log.With().Str("component", "transcode").Logger()}
}

// Convert runs ffmpeg on inputPath and returns the converted file path.
func (f *FFmpeg) Convert(ctx context.Context, inputPath, container string, kind types.MediaKind) (string, error) {
	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "." + container
	if outputPath == inputPath {
		return inputPath, nil
	}

	args := BuildArgs(inputPath, outputPath, container, kind)
	cmd := exec.CommandContext(ctx, f.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.log.Debug().Str("input", inputPath).Str("container", container).Msg("converting")
	if err := cmd.Run(); err != nil {
		return "", types.Errorf(types.KindConversion, "ffmpeg %s -> %s: %v: %s",
			filepath.Base(inputPath), container, err, lastLine(stderr.String()))
	}
	return outputPath, nil
}

// BuildArgs assembles the ffmpeg argument list. Audio targets re-encode to
// the container's codec; video targets remux streams into the new
// container without re-encoding.
func BuildArgs(inputPath, outputPath, container string, kind types.MediaKind) []string {
	args := []string{"-y", "-i", inputPath}
	if kind == types.MediaAudio {
		args = append(args, "-vn", "-c:a", AudioCodec(container), "-b:a", "192k")
	} else {
		args = append(args, "-c", "copy")
	}
	return append(args, outputPath)
}

// AudioCodec maps a target audio container to its ffmpeg encoder.
func AudioCodec(container string) string {
	switch container {
	case "mp3":
		return "libmp3lame"
	case "m4a", "aac":
		return "aac"
	case "ogg", "opus":
		return "libopus"
	case "wav":
		return "pcm_s16le"
	case "flac":
		return "flac"
	default:
		return "copy"
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf("%.200s", strings.TrimSpace(lines[len(lines)-1]))
}
