package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"downpour/types"
)

// progressPrefix tags the machine-readable progress lines we ask yt-dlp to
// emit, so they can be told apart from its other output.
const progressPrefix = "dlprog:"

// YTDLP runs yt-dlp as a subprocess. Retries and timeouts are yt-dlp's own
// (extractor-retries, fragment-retries); the orchestration layer adds none.
type YTDLP struct {
	bin string
	log zerolog.Logger
}

// NewYTDLP creates a runner using the given binary path.
func NewYTDLP(bin string, log zerolog.Logger) *YTDLP {
	return &YTDLP{bin: bin, log: log.With().Str("component", "extractor").Logger()}
}

// probeEntry mirrors the subset of yt-dlp's JSON output we consume.
type probeEntry struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Duration     float64 `json:"duration"`
	Thumbnail    string  `json:"thumbnail"`
	URL          string  `json:"url"`
	WebpageURL   string  `json:"webpage_url"`
	FilesizeAppr int64   `json:"filesize_approx"`
	Type         string  `json:"_type"`
	Entries      []probeEntry
}

// Probe resolves metadata for url without downloading.
func (y *YTDLP) Probe(ctx context.Context, url string) (*types.MediaInfo, error) {
	args := []string{
		"--dump-single-json",
		"--flat-playlist",
		"--skip-download",
		"--no-warnings",
		url,
	}

	cmd := exec.CommandContext(ctx, y.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, types.Errorf(types.KindExtraction, "probe %s: %s", url, firstLine(stderr.String(), err))
	}

	var pe probeEntry
	if err := json.Unmarshal(out, &pe); err != nil {
		return nil, types.Errorf(types.KindExtraction, "probe %s: parse metadata: %v", url, err)
	}
	if pe.Title == "" && len(pe.Entries) == 0 {
		return nil, types.Errorf(types.KindExtraction, "probe %s: no metadata", url)
	}

	info := &types.MediaInfo{
		Title:     pe.Title,
		Duration:  pe.Duration,
		Thumbnail: pe.Thumbnail,
		Size:      pe.FilesizeAppr,
	}
	if pe.Type == "playlist" || len(pe.Entries) > 0 {
		info.IsPlaylist = true
		for _, e := range pe.Entries {
			info.PlaylistItems = append(info.PlaylistItems, types.MediaEntry{
				URL:       entryURL(e),
				Title:     e.Title,
				Duration:  e.Duration,
				Thumbnail: e.Thumbnail,
			})
		}
	}
	return info, nil
}

// Fetch downloads url into opts.Dir and returns the downloaded file path.
func (y *YTDLP) Fetch(ctx context.Context, url string, opts FetchOptions, onProgress func(Progress)) (string, error) {
	args := []string{
		"-f", FormatSelection(opts.Kind, opts.Quality, opts.Container),
		"-o", filepath.Join(opts.Dir, "%(title)s.%(ext)s"),
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--progress-template",
		progressPrefix + "%(progress.status)s:%(progress.downloaded_bytes)s:%(progress.total_bytes)s:%(progress.total_bytes_estimate)s",
		url,
	}

	cmd := exec.CommandContext(ctx, y.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", types.WrapError(types.KindDownload, err)
	}
	if err := cmd.Start(); err != nil {
		return "", types.Errorf(types.KindDownload, "start %s: %v", y.bin, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		p, ok := parseProgressLine(scanner.Text())
		if ok && onProgress != nil {
			onProgress(p)
		}
	}

	if err := cmd.Wait(); err != nil {
		if onProgress != nil {
			onProgress(Progress{Status: ProgressError})
		}
		return "", types.Errorf(types.KindDownload, "fetch %s: %s", url, firstLine(stderr.String(), err))
	}
	if onProgress != nil {
		onProgress(Progress{Status: ProgressFinished})
	}

	path, err := newestFile(opts.Dir)
	if err != nil {
		return "", types.WrapError(types.KindDownload, err)
	}
	y.log.Debug().Str("url", url).Str("file", path).Msg("fetch complete")
	return path, nil
}

// parseProgressLine decodes one progress-template line. Lines that are not
// ours, and fields yt-dlp reports as NA, are skipped over.
func parseProgressLine(line string) (Progress, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, progressPrefix) {
		return Progress{}, false
	}
	fields := strings.Split(strings.TrimPrefix(line, progressPrefix), ":")
	if len(fields) != 4 {
		return Progress{}, false
	}

	p := Progress{Status: ProgressStatus(fields[0])}
	p.DownloadedBytes = parseBytes(fields[1])
	p.TotalBytes = parseBytes(fields[2])
	if p.TotalBytes <= 0 {
		if est := parseBytes(fields[3]); est > 0 {
			p.TotalBytes = est
			p.Estimated = true
		}
	}
	return p, true
}

func parseBytes(s string) int64 {
	// Progress fields come through as integers, floats or "NA".
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

// newestFile returns the most recently modified regular file in dir,
// ignoring the extractor's partial-download leftovers.
func newestFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var newest string
	var newestMod int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".part" || ext == ".ytdl" || ext == ".tmp" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = e.Name()
			newestMod = mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no file produced in %s", dir)
	}
	return filepath.Join(dir, newest), nil
}

func entryURL(e probeEntry) string {
	if e.URL != "" {
		return e.URL
	}
	if e.WebpageURL != "" {
		return e.WebpageURL
	}
	return "https://www.youtube.com/watch?v=" + e.ID
}

func firstLine(stderr string, fallback error) string {
	for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return fallback.Error()
}
