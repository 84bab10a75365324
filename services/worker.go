package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dhowden/tag"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"downpour/extractor"
	"downpour/registry"
	"downpour/transcode"
	"downpour/types"
)

// ProgressSink receives progress updates for jobs and batches. The
// websocket hub implements it for the server; the CLI attaches a progress
// bar. A nil sink disables publishing.
type ProgressSink interface {
	Publish(msg types.ProgressMessage)
}

// Worker performs one download: extract, track progress, optionally
// transcode, and drive the owning job record through its lifecycle.
// All record mutation goes through the registry.
type Worker struct {
	reg  *registry.Registry
	ex   extractor.Extractor
	tc   transcode.Transcoder
	sink ProgressSink
	root string
	log  zerolog.Logger
}

// NewWorker creates a worker writing under root, one subdirectory per job.
func NewWorker(reg *registry.Registry, ex extractor.Extractor, tc transcode.Transcoder, sink ProgressSink, root string, log zerolog.Logger) *Worker {
	return &Worker{
		reg:  reg,
		ex:   ex,
		tc:   tc,
		sink: sink,
		root: root,
		log:  log.With().Str("component", "worker").Logger(),
	}
}

// CreateJob registers a pending job with its own working directory. The
// directory is exclusive to the job and never reused, even after cleanup.
func (w *Worker) CreateJob(req types.DownloadRequest) (types.DownloadJob, error) {
	job := types.DownloadJob{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    types.JobStatusPending,
		CreatedAt: time.Now(),
		Done:      make(chan struct{}),
	}
	job.Dir = filepath.Join(w.root, job.ID)

	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return types.DownloadJob{}, fmt.Errorf("create job dir: %w", err)
	}

	w.reg.Jobs.Put(job.ID, job)
	return job, nil
}

// Start runs the job in a supervised background goroutine. Panics and
// errors are captured into the job record, never lost.
func (w *Worker) Start(ctx context.Context, jobID string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error().Str("job", jobID).Any("panic", r).Msg("worker panicked")
				w.fail(jobID, types.Errorf(types.KindDownload, "internal error: %v", r))
			}
		}()
		_ = w.Run(ctx, jobID)
	}()
}

// Run executes the job to a terminal state and returns its error, if any.
func (w *Worker) Run(ctx context.Context, jobID string) error {
	job, err := w.reg.Jobs.Get(jobID)
	if err != nil {
		return err
	}
	req := job.Request

	info, err := w.ex.Probe(ctx, req.URL)
	if err != nil {
		w.fail(jobID, err)
		return err
	}

	w.mutate(jobID, func(j *types.DownloadJob) {
		j.Status = types.JobStatusRunning
		j.Title = info.Title
	})
	w.publish(jobID, "status", string(types.JobStatusRunning), 0)

	local, err := w.ex.Fetch(ctx, req.URL, extractor.FetchOptions{
		Kind:      req.Format,
		Quality:   req.Quality,
		Container: req.FileFormat,
		Dir:       job.Dir,
	}, func(p extractor.Progress) {
		if p.Status != extractor.ProgressDownloading && p.Status != extractor.ProgressFinished {
			return
		}
		w.setProgress(jobID, p.Percent())
	})
	if err != nil {
		w.fail(jobID, err)
		return err
	}

	artifact := local
	if needsConversion(req, local) {
		w.mutate(jobID, func(j *types.DownloadJob) { j.Status = types.JobStatusConverting })
		w.publish(jobID, "status", string(types.JobStatusConverting), 99)

		converted, cerr := w.tc.Convert(ctx, local, req.FileFormat, req.Format)
		if cerr != nil {
			// Policy: a failed transcode does not fail the job. The
			// original file is served instead and the fallback is recorded
			// so callers and tests can observe it.
			w.log.Warn().Str("job", jobID).Err(cerr).Msg("conversion fallback")
			w.mutate(jobID, func(j *types.DownloadJob) { j.ConversionFallback = true })
		} else if converted != local {
			artifact = converted
			if rmErr := os.Remove(local); rmErr != nil {
				w.log.Warn().Str("job", jobID).Err(rmErr).Msg("could not remove pre-conversion file")
			}
		}
	}

	fi, err := os.Stat(artifact)
	if err != nil || fi.Size() == 0 {
		err = types.Errorf(types.KindDownload, "no artifact produced for %s", req.URL)
		w.fail(jobID, err)
		return err
	}

	title := info.Title
	if title == "" {
		title = readEmbeddedTitle(artifact)
	}

	w.mutate(jobID, func(j *types.DownloadJob) {
		j.Status = types.JobStatusReady
		j.Progress = 100
		j.Artifact = filepath.Base(artifact)
		if title != "" {
			j.Title = title
		}
		now := time.Now()
		j.FinishedAt = &now
		close(j.Done)
	})
	w.publish(jobID, "complete", string(types.JobStatusReady), 100)
	w.log.Info().Str("job", jobID).Str("artifact", filepath.Base(artifact)).Msg("job ready")
	return nil
}

// needsConversion reports whether the downloaded file has to go through
// the transcoder: always for audio, and for video only when the extractor
// did not already produce the target container.
func needsConversion(req types.DownloadRequest, localPath string) bool {
	if req.Format == types.MediaAudio {
		return true
	}
	return filepath.Ext(localPath) != "."+req.FileFormat
}

// setProgress raises the job's progress, clamped to 99 while in flight so
// a full bar never implies completion before postprocessing runs. The
// value is monotonically non-decreasing.
func (w *Worker) setProgress(jobID string, pct float64) {
	if pct > 99 {
		pct = 99
	}
	var publish float64 = -1
	w.mutate(jobID, func(j *types.DownloadJob) {
		if j.Status != types.JobStatusRunning || pct <= j.Progress {
			return
		}
		j.Progress = pct
		publish = pct
	})
	if publish >= 0 {
		w.publish(jobID, "progress", string(types.JobStatusRunning), publish)
	}
}

func (w *Worker) fail(jobID string, err error) {
	w.mutate(jobID, func(j *types.DownloadJob) {
		j.Status = types.JobStatusFailed
		j.Error = err.Error()
		j.ErrorKind = types.KindOf(err)
		now := time.Now()
		j.FinishedAt = &now
		close(j.Done)
	})
	w.publish(jobID, "error", string(types.JobStatusFailed), 0)
	w.log.Error().Str("job", jobID).Err(err).Msg("job failed")
}

// mutate applies fn unless the job is already terminal, preserving the
// state machine's one-way transitions.
func (w *Worker) mutate(jobID string, fn func(j *types.DownloadJob)) {
	_ = w.reg.Jobs.Update(jobID, func(j *types.DownloadJob) {
		if j.Status.Terminal() {
			return
		}
		fn(j)
	})
}

func (w *Worker) publish(jobID, msgType, status string, progress float64) {
	if w.sink == nil {
		return
	}
	w.sink.Publish(types.ProgressMessage{
		ID:        jobID,
		Type:      msgType,
		Progress:  progress,
		Status:    status,
		Timestamp: time.Now(),
	})
}

// readEmbeddedTitle pulls a title from the file's embedded tags, used as a
// fallback when the extractor reported none.
func readEmbeddedTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return ""
	}
	return meta.Title()
}
