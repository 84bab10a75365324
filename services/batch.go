package services

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"downpour/registry"
	"downpour/types"
)

// Orchestrator runs an ordered list of download requests sequentially,
// aggregates per-item outcomes and assembles the successful artifacts into
// one zip archive. Sequential processing is deliberate: it avoids hammering
// the extractor's hosts with parallel requests and keeps archive assembly
// deterministic.
type Orchestrator struct {
	reg    *registry.Registry
	worker *Worker
	sink   ProgressSink
	root   string
	log    zerolog.Logger
}

// NewOrchestrator creates a batch orchestrator writing archives under root.
func NewOrchestrator(reg *registry.Registry, worker *Worker, sink ProgressSink, root string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		reg:    reg,
		worker: worker,
		sink:   sink,
		root:   root,
		log:    log.With().Str("component", "batch").Logger(),
	}
}

// CreateBatch registers a batch for the given requests with its own
// working directory for the archive.
func (o *Orchestrator) CreateBatch(reqs []types.DownloadRequest) (types.BatchJob, error) {
	batch := types.BatchJob{
		ID:         uuid.New().String(),
		Requests:   reqs,
		TotalCount: len(reqs),
		CreatedAt:  time.Now(),
		Done:       make(chan struct{}),
	}
	batch.Dir = filepath.Join(o.root, batch.ID)

	if err := os.MkdirAll(batch.Dir, 0o755); err != nil {
		return types.BatchJob{}, fmt.Errorf("create batch dir: %w", err)
	}

	o.reg.Batches.Put(batch.ID, batch)
	return batch, nil
}

// Start runs the batch in a supervised background goroutine.
func (o *Orchestrator) Start(ctx context.Context, batchID string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.log.Error().Str("batch", batchID).Any("panic", r).Msg("orchestrator panicked")
				o.finish(batchID, func(b *types.BatchJob) {
					b.Error = fmt.Sprintf("internal error: %v", r)
				})
			}
		}()
		o.Run(ctx, batchID)
	}()
}

// Run processes every item in input order, then attempts archive assembly.
func (o *Orchestrator) Run(ctx context.Context, batchID string) {
	batch, err := o.reg.Batches.Get(batchID)
	if err != nil {
		return
	}

	// Full artifact paths for assembly; Completed entries only expose the
	// bare filenames.
	var artifacts []string

	for i, req := range batch.Requests {
		index := i + 1
		title, artifact, itemErr := o.runItem(ctx, req)

		_ = o.reg.Batches.Update(batchID, func(b *types.BatchJob) {
			b.CurrentIndex = index
			b.Progress = float64(index) / float64(b.TotalCount) * 100
			if itemErr != nil {
				b.Failed = append(b.Failed, types.BatchItemFailure{
					Index:   index,
					Title:   title,
					Kind:    types.KindOf(itemErr),
					Message: itemErr.Error(),
				})
			} else {
				b.Completed = append(b.Completed, types.BatchItemResult{
					Index:    index,
					Title:    title,
					Artifact: filepath.Base(artifact),
				})
			}
		})
		if itemErr == nil {
			artifacts = append(artifacts, artifact)
		} else {
			o.log.Warn().Str("batch", batchID).Int("index", index).Err(itemErr).Msg("batch item failed")
		}
		o.publish(batchID, "progress", float64(index)/float64(batch.TotalCount)*100)
	}

	result, _ := o.reg.Batches.Get(batchID)

	if len(result.Completed) == 0 {
		o.finish(batchID, func(b *types.BatchJob) {
			b.Error = aggregateFailures(b.Failed)
		})
		o.publish(batchID, "error", 100)
		return
	}

	archivePath := filepath.Join(result.Dir, "batch_"+batchID+".zip")
	if err := buildArchive(archivePath, result.Completed, artifacts); err != nil {
		o.log.Error().Str("batch", batchID).Err(err).Msg("archive assembly failed")
		o.finish(batchID, func(b *types.BatchJob) {
			b.Error = err.Error()
		})
		o.publish(batchID, "error", 100)
		return
	}

	o.finish(batchID, func(b *types.BatchJob) {
		b.ArchivePath = archivePath
		b.Ready = true
		if len(b.Failed) > 0 {
			b.Partial = true
			b.Error = aggregateFailures(b.Failed)
		}
	})
	o.publish(batchID, "complete", 100)
	o.log.Info().Str("batch", batchID).
		Int("completed", len(result.Completed)).
		Int("failed", len(result.Failed)).
		Msg("batch finished")
}

// runItem downloads one request through the worker, capturing panics as
// item failures so the remaining items still run.
func (o *Orchestrator) runItem(ctx context.Context, req types.DownloadRequest) (title, artifact string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.Errorf(types.KindDownload, "internal error: %v", r)
		}
	}()

	job, err := o.worker.CreateJob(req)
	if err != nil {
		return "", "", types.WrapError(types.KindDownload, err)
	}

	runErr := o.worker.Run(ctx, job.ID)
	done, getErr := o.reg.Jobs.Get(job.ID)
	if getErr != nil {
		return "", "", types.WrapError(types.KindDownload, getErr)
	}
	if runErr != nil {
		return done.Title, "", runErr
	}
	return done.Title, filepath.Join(done.Dir, done.Artifact), nil
}

// finish marks the batch terminal exactly once.
func (o *Orchestrator) finish(batchID string, fn func(b *types.BatchJob)) {
	_ = o.reg.Batches.Update(batchID, func(b *types.BatchJob) {
		if b.Finished() {
			return
		}
		fn(b)
		now := time.Now()
		b.FinishedAt = &now
		close(b.Done)
	})
}

func (o *Orchestrator) publish(batchID, msgType string, progress float64) {
	if o.sink == nil {
		return
	}
	o.sink.Publish(types.ProgressMessage{
		ID:        batchID,
		Type:      msgType,
		Progress:  progress,
		Timestamp: time.Now(),
	})
}

// buildArchive writes every completed artifact into a zip at archivePath.
// Entry names are the artifact filenames; a name that collides with an
// earlier entry is disambiguated with the item index.
func buildArchive(archivePath string, completed []types.BatchItemResult, artifacts []string) error {
	if len(artifacts) == 0 {
		return types.Errorf(types.KindArchive, "no artifacts to archive")
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return types.WrapError(types.KindArchive, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	used := make(map[string]bool)

	for i, path := range artifacts {
		name := completed[i].Artifact
		if used[name] {
			name = fmt.Sprintf("%02d - %s", completed[i].Index, name)
		}
		used[name] = true

		if err := addArchiveEntry(zw, name, path); err != nil {
			zw.Close()
			return types.Errorf(types.KindArchive, "add %s: %v", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return types.WrapError(types.KindArchive, err)
	}

	fi, err := os.Stat(archivePath)
	if err != nil || fi.Size() == 0 {
		return types.Errorf(types.KindArchive, "archive verification failed for %s", archivePath)
	}
	return nil
}

func addArchiveEntry(zw *zip.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}

// aggregateFailures renders the structured failure list as one message for
// the polling protocol's error field.
func aggregateFailures(failed []types.BatchItemFailure) string {
	parts := make([]string, 0, len(failed))
	for _, f := range failed {
		if f.Title != "" {
			parts = append(parts, fmt.Sprintf("item %d (%s): %s", f.Index, f.Title, f.Message))
		} else {
			parts = append(parts, fmt.Sprintf("item %d: %s", f.Index, f.Message))
		}
	}
	return strings.Join(parts, "; ")
}
