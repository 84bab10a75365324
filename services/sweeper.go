package services

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"downpour/registry"
	"downpour/types"
)

// Sweeper evicts terminal records and their on-disk artifacts once they
// age past the retention window. Deletion is tied to record lifecycle:
// an artifact is removed together with its record, never out from under a
// live one. Directories with no owning record at all are reaped once they
// are older than twice the window, as a backstop against leaks.
type Sweeper struct {
	reg       *registry.Registry
	root      string
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
}

// NewSweeper creates a sweeper over the registry and artifact root.
func NewSweeper(reg *registry.Registry, root string, retention, interval time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		reg:       reg,
		root:      root,
		retention: retention,
		interval:  interval,
		log:       log.With().Str("component", "sweeper").Logger(),
	}
}

// Start runs sweep cycles on the configured interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sweep runs one cycle. Individual I/O failures are logged and skipped so
// one bad file never aborts the rest of the sweep.
func (s *Sweeper) Sweep(now time.Time) {
	cutoff := now.Add(-s.retention)
	live := make(map[string]bool)

	for _, job := range s.reg.Jobs.All() {
		if job.Status.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			s.evictJob(job)
			continue
		}
		live[job.ID] = true
	}

	for _, batch := range s.reg.Batches.All() {
		if batch.Finished() && batch.FinishedAt.Before(cutoff) {
			s.evictBatch(batch)
			continue
		}
		live[batch.ID] = true
	}

	for _, session := range s.reg.Sessions.All() {
		if session.Status.Terminal() && session.CreatedAt.Before(cutoff) {
			_ = s.reg.Sessions.Delete(session.ID)
			s.log.Debug().Str("session", session.ID).Msg("evicted session")
		}
	}

	s.reapOrphans(now, live)
}

func (s *Sweeper) evictJob(job types.DownloadJob) {
	if err := s.reg.Jobs.Delete(job.ID); err != nil {
		return
	}
	if err := os.RemoveAll(job.Dir); err != nil {
		s.log.Warn().Str("job", job.ID).Err(err).Msg("could not remove job dir")
	}
	s.log.Debug().Str("job", job.ID).Msg("evicted job")
}

func (s *Sweeper) evictBatch(batch types.BatchJob) {
	if err := s.reg.Batches.Delete(batch.ID); err != nil {
		return
	}
	if err := os.RemoveAll(batch.Dir); err != nil {
		s.log.Warn().Str("batch", batch.ID).Err(err).Msg("could not remove batch dir")
	}
	s.log.Debug().Str("batch", batch.ID).Msg("evicted batch")
}

// reapOrphans removes artifact directories no record owns anymore.
func (s *Sweeper) reapOrphans(now time.Time, live map[string]bool) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.log.Warn().Err(err).Msg("could not scan artifact root")
		return
	}

	orphanCutoff := now.Add(-2 * s.retention)
	for _, e := range entries {
		if !e.IsDir() || live[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(orphanCutoff) {
			continue
		}
		path := filepath.Join(s.root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			s.log.Warn().Str("path", path).Err(err).Msg("could not remove orphan dir")
			continue
		}
		s.log.Debug().Str("path", path).Msg("reaped orphan dir")
	}
}
