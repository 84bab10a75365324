package config

import (
	"os"
	"strings"
	"time"
)

// Environment variable accessors with sensible defaults. Every knob the
// server reads lives here so deployments stay greppable.

// GetPort returns the HTTP listen port.
func GetPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}

// GetDownloadsDir returns the artifact root directory.
func GetDownloadsDir() string {
	if dir := os.Getenv("DOWNPOUR_DOWNLOADS"); dir != "" {
		return dir
	}
	return "./downloads"
}

// GetRetention returns how long finished records and their artifacts are
// kept before the sweeper evicts them.
func GetRetention() time.Duration {
	return getDuration("DOWNPOUR_RETENTION", time.Hour)
}

// GetSweepInterval returns how often the sweeper runs.
func GetSweepInterval() time.Duration {
	return getDuration("DOWNPOUR_SWEEP_INTERVAL", time.Hour)
}

// GetYTDLPPath returns the yt-dlp binary to invoke.
func GetYTDLPPath() string {
	if bin := os.Getenv("YTDLP_PATH"); bin != "" {
		return bin
	}
	return "yt-dlp"
}

// GetFFmpegPath returns the ffmpeg binary to invoke.
func GetFFmpegPath() string {
	if bin := os.Getenv("FFMPEG_PATH"); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// GetCORSOrigins returns the allowed CORS origins.
func GetCORSOrigins() []string {
	raw := os.Getenv("CORS_ORIGINS")
	if raw == "" {
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}
	origins := strings.Split(raw, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
