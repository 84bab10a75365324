package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"downpour/extractor"
	"downpour/registry"
	"downpour/services"
	"downpour/types"
)

// fakeExtractor fulfils downloads from canned data so handler tests run
// the real worker and orchestrator without network or subprocesses.
type fakeExtractor struct {
	probeFn func(url string) (*types.MediaInfo, error)
	fetchFn func(url string, opts extractor.FetchOptions) (string, error)
}

func (f *fakeExtractor) Probe(ctx context.Context, url string) (*types.MediaInfo, error) {
	if f.probeFn != nil {
		return f.probeFn(url)
	}
	return &types.MediaInfo{Title: path.Base(url)}, nil
}

func (f *fakeExtractor) Fetch(ctx context.Context, url string, opts extractor.FetchOptions, onProgress func(extractor.Progress)) (string, error) {
	if f.fetchFn != nil {
		return f.fetchFn(url, opts)
	}
	name := path.Base(url) + "." + opts.Container
	p := filepath.Join(opts.Dir, name)
	return p, os.WriteFile(p, []byte("media:"+url), 0o644)
}

// fakeTranscoder pretends every conversion succeeds by copying the input.
type fakeTranscoder struct{}

func (fakeTranscoder) Convert(ctx context.Context, inputPath, container string, kind types.MediaKind) (string, error) {
	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "." + container
	if outputPath == inputPath {
		return inputPath, nil
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", err
	}
	return outputPath, os.WriteFile(outputPath, data, 0o644)
}

type testEnv struct {
	router *gin.Engine
	reg    *registry.Registry
}

func newTestEnv(t *testing.T, ex extractor.Extractor) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zerolog.New(io.Discard)
	reg := registry.New()
	root := t.TempDir()

	worker := services.NewWorker(reg, ex, fakeTranscoder{}, nil, root, log)
	orch := services.NewOrchestrator(reg, worker, nil, root, log)
	sessions := services.NewSessionManager(reg, ex, orch, log)

	downloads := NewDownloadHandler(reg, worker, log)
	batches := NewBatchHandler(reg, orch, log)
	sessionH := NewSessionHandler(sessions, log)

	router := gin.New()
	router.GET("/health", Health(reg))
	router.GET("/video-info", sessionH.VideoInfo)
	router.POST("/start-download", downloads.StartDownload)
	router.GET("/check-status/:id", downloads.CheckStatus)
	router.GET("/download-file/:id", downloads.DownloadFile)
	router.POST("/cleanup/:id", downloads.Cleanup)
	router.POST("/start-batch-download", batches.StartBatch)
	router.GET("/check-batch-status/:id", batches.CheckBatchStatus)
	router.GET("/download-batch/:id", batches.DownloadBatch)
	router.POST("/cleanup-batch/:id", batches.CleanupBatch)
	router.POST("/create-session", sessionH.CreateSession)
	router.GET("/session/:id", sessionH.GetSession)
	router.POST("/start-session/:id", sessionH.StartSession)

	return &testEnv{router: router, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var parsed map[string]any
	if strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	}
	return w, parsed
}

func (e *testEnv) waitJob(t *testing.T, id string) types.DownloadJob {
	t.Helper()
	job, err := e.reg.Jobs.Get(id)
	require.NoError(t, err)
	select {
	case <-job.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}
	job, err = e.reg.Jobs.Get(id)
	require.NoError(t, err)
	return job
}

func (e *testEnv) waitBatch(t *testing.T, id string) types.BatchJob {
	t.Helper()
	batch, err := e.reg.Batches.Get(id)
	require.NoError(t, err)
	select {
	case <-batch.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
	batch, err = e.reg.Batches.Get(id)
	require.NoError(t, err)
	return batch
}

func TestDownloadWorkflow(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})

	w, resp := env.do(t, http.MethodPost, "/start-download", gin.H{
		"url": "https://example.com/song", "format": "audio", "fileFormat": "mp3",
	})
	require.Equal(t, http.StatusOK, w.Code)
	id, _ := resp["download_id"].(string)
	require.NotEmpty(t, id)

	env.waitJob(t, id)

	w, resp = env.do(t, http.MethodGet, "/check-status/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["is_ready"])
	assert.Equal(t, float64(100), resp["progress"])
	assert.Equal(t, "song.mp3", resp["filename"])
	assert.Equal(t, "song", resp["title"])
	assert.NotContains(t, resp, "error")

	w, _ = env.do(t, http.MethodGet, "/download-file/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "song.mp3")
	assert.Equal(t, "media:https://example.com/song", w.Body.String())

	w, resp = env.do(t, http.MethodPost, "/cleanup/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", resp["status"])

	// The id is gone for every endpoint afterwards.
	w, _ = env.do(t, http.MethodGet, "/check-status/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = env.do(t, http.MethodPost, "/cleanup/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartDownloadValidation(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})

	w, _ := env.do(t, http.MethodPost, "/start-download", gin.H{"format": "audio"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckStatusUnknownID(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})

	w, _ := env.do(t, http.MethodGet, "/check-status/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadFileBeforeReady(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})
	env.reg.Jobs.Put("pending", types.DownloadJob{
		ID:     "pending",
		Status: types.JobStatusRunning,
	})

	w, resp := env.do(t, http.MethodGet, "/download-file/pending", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp["error"], "not ready")
}

func TestDownloadFileAfterFailure(t *testing.T) {
	ex := &fakeExtractor{
		probeFn: func(url string) (*types.MediaInfo, error) {
			return nil, types.Errorf(types.KindExtraction, "probe %s: no metadata", url)
		},
	}
	env := newTestEnv(t, ex)

	w, resp := env.do(t, http.MethodPost, "/start-download", gin.H{"url": "https://example.com/gone"})
	require.Equal(t, http.StatusOK, w.Code)
	id := resp["download_id"].(string)

	job := env.waitJob(t, id)
	require.Equal(t, types.JobStatusFailed, job.Status)

	w, resp = env.do(t, http.MethodGet, "/check-status/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["is_ready"])
	assert.Contains(t, resp["error"], "no metadata")

	w, resp = env.do(t, http.MethodGet, "/download-file/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp["error"], "no metadata")
}

func TestBatchWorkflowWithPartialFailure(t *testing.T) {
	ex := &fakeExtractor{}
	ex.fetchFn = func(url string, opts extractor.FetchOptions) (string, error) {
		if strings.Contains(url, "broken") {
			return "", types.Errorf(types.KindDownload, "fetch %s: gone", url)
		}
		name := path.Base(url) + "." + opts.Container
		p := filepath.Join(opts.Dir, name)
		return p, os.WriteFile(p, []byte("media:"+url), 0o644)
	}
	env := newTestEnv(t, ex)

	w, resp := env.do(t, http.MethodPost, "/start-batch-download", gin.H{
		"videos": []gin.H{
			{"url": "https://example.com/one"},
			{"url": "https://example.com/broken"},
			{"url": "https://example.com/three"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	id := resp["batch_id"].(string)

	env.waitBatch(t, id)

	w, resp = env.do(t, http.MethodGet, "/check-batch-status/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["is_ready"])
	assert.Equal(t, true, resp["partial"])
	assert.Equal(t, float64(100), resp["progress"])
	assert.Equal(t, float64(3), resp["total_files"])
	assert.Equal(t, float64(3), resp["current_index"])
	assert.Len(t, resp["completed_files"], 2)
	assert.Len(t, resp["failed_files"], 1)
	assert.Contains(t, resp["error"], "item 2")
	assert.Equal(t, "batch_"+id+".zip", resp["filename"])

	w, _ = env.do(t, http.MethodGet, "/download-batch/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())

	w, resp = env.do(t, http.MethodPost, "/cleanup-batch/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", resp["status"])

	w, _ = env.do(t, http.MethodGet, "/check-batch-status/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartBatchValidation(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})

	w, _ := env.do(t, http.MethodPost, "/start-batch-download", gin.H{"videos": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/start-batch-download", gin.H{
		"videos": []gin.H{{"format": "audio"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchFileBeforeReady(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})
	env.reg.Batches.Put("b", types.BatchJob{ID: "b", TotalCount: 1})

	w, resp := env.do(t, http.MethodGet, "/download-batch/b", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp["error"], "not ready")
}

func TestSessionWorkflow(t *testing.T) {
	ex := &fakeExtractor{
		probeFn: func(url string) (*types.MediaInfo, error) {
			if url != "https://example.com/playlist" {
				return &types.MediaInfo{Title: path.Base(url)}, nil
			}
			return &types.MediaInfo{
				Title:      "mixtape",
				IsPlaylist: true,
				PlaylistItems: []types.MediaEntry{
					{URL: "https://example.com/track1", Title: "track1"},
					{URL: "https://example.com/track2", Title: "track2"},
				},
			}, nil
		},
	}
	env := newTestEnv(t, ex)

	w, resp := env.do(t, http.MethodPost, "/create-session", gin.H{
		"url": "https://example.com/playlist", "format": "audio", "fileFormat": "mp3",
	})
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := resp["session_id"].(string)
	require.NotEmpty(t, sessionID)
	info := resp["video_info"].(map[string]any)
	assert.Equal(t, "mixtape", info["title"])

	w, resp = env.do(t, http.MethodPost, "/start-session/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	batchID := resp["batch_id"].(string)
	require.NotEmpty(t, batchID)

	// Starting again reports the same batch instead of spawning another.
	w, resp = env.do(t, http.MethodPost, "/start-session/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, batchID, resp["batch_id"])

	batch := env.waitBatch(t, batchID)
	assert.Equal(t, 2, batch.TotalCount)
	assert.True(t, batch.Ready)

	w, resp = env.do(t, http.MethodGet, "/session/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sessionID, resp["id"])
}

func TestStartSessionUnknown(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})

	w, _ := env.do(t, http.MethodPost, "/start-session/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVideoInfo(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})

	w, resp := env.do(t, http.MethodGet, "/video-info?url=https://example.com/clip", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "clip", resp["title"])

	w, _ = env.do(t, http.MethodGet, "/video-info", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeExtractor{})

	w, resp := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(0), resp["jobs"])
}
