package services

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"downpour/extractor"
	"downpour/registry"
	"downpour/types"
)

// fakeExtractor drives the services without shelling out. The default
// behavior probes a title derived from the URL and fetches a small webm
// file; individual tests override probeFn/fetchFn.
type fakeExtractor struct {
	mu      sync.Mutex
	probeFn func(url string) (*types.MediaInfo, error)
	fetchFn func(url string, opts extractor.FetchOptions, onProgress func(extractor.Progress)) (string, error)
	fetched []string
}

func (f *fakeExtractor) Probe(ctx context.Context, url string) (*types.MediaInfo, error) {
	if f.probeFn != nil {
		return f.probeFn(url)
	}
	return &types.MediaInfo{Title: titleFor(url)}, nil
}

func (f *fakeExtractor) Fetch(ctx context.Context, url string, opts extractor.FetchOptions, onProgress func(extractor.Progress)) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()

	if f.fetchFn != nil {
		return f.fetchFn(url, opts, onProgress)
	}

	if onProgress != nil {
		onProgress(extractor.Progress{Status: extractor.ProgressDownloading, DownloadedBytes: 50, TotalBytes: 100})
		onProgress(extractor.Progress{Status: extractor.ProgressFinished, DownloadedBytes: 100, TotalBytes: 100})
	}
	path := filepath.Join(opts.Dir, titleFor(url)+".webm")
	if err := os.WriteFile(path, []byte("media:"+url), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeExtractor) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// titleFor derives a stable fake title from the URL's last path segment.
func titleFor(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}

// fakeTranscoder copies the input to a sibling file with the target
// extension. convertErr, when set, simulates a failed transcode.
type fakeTranscoder struct {
	convertErr error
	calls      int
}

func (f *fakeTranscoder) Convert(ctx context.Context, inputPath, container string, kind types.MediaKind) (string, error) {
	f.calls++
	if f.convertErr != nil {
		return "", f.convertErr
	}
	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "." + container
	if outputPath == inputPath {
		return inputPath, nil
	}

	src, err := os.Open(inputPath)
	if err != nil {
		return "", err
	}
	defer src.Close()
	dst, err := os.Create(outputPath)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return outputPath, err
}

// recordingSink captures every published progress message.
type recordingSink struct {
	mu   sync.Mutex
	msgs []types.ProgressMessage
}

func (s *recordingSink) Publish(msg types.ProgressMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *recordingSink) messages() []types.ProgressMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ProgressMessage(nil), s.msgs...)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func audioRequest(url string) types.DownloadRequest {
	return types.DownloadRequest{URL: url, Format: types.MediaAudio, Quality: "highest", FileFormat: "mp3"}
}

func videoRequest(url string) types.DownloadRequest {
	return types.DownloadRequest{URL: url, Format: types.MediaVideo, Quality: "highest", FileFormat: "mp4"}
}

func newTestWorker(t *testing.T, ex extractor.Extractor, tc *fakeTranscoder, sink ProgressSink) (*Worker, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	worker := NewWorker(reg, ex, tc, sink, t.TempDir(), testLogger())
	require.NotNil(t, worker)
	return worker, reg
}
