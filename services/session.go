package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"downpour/extractor"
	"downpour/registry"
	"downpour/types"
)

// SessionManager resolves a URL into a list of download requests and hands
// that list to the batch orchestrator when the session is started.
type SessionManager struct {
	reg  *registry.Registry
	ex   extractor.Extractor
	orch *Orchestrator
	log  zerolog.Logger
}

// NewSessionManager creates a session manager.
func NewSessionManager(reg *registry.Registry, ex extractor.Extractor, orch *Orchestrator, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		reg:  reg,
		ex:   ex,
		orch: orch,
		log:  log.With().Str("component", "session").Logger(),
	}
}

// Probe resolves metadata for a URL without creating any record.
func (m *SessionManager) Probe(ctx context.Context, url string) (*types.MediaInfo, error) {
	return m.ex.Probe(ctx, url)
}

// Create resolves the URL and registers a pending session. A playlist
// expands into one item per entry, each carrying the session's chosen
// format parameters; anything else yields a single item.
func (m *SessionManager) Create(ctx context.Context, req types.DownloadRequest) (types.Session, error) {
	info, err := m.ex.Probe(ctx, req.URL)
	if err != nil {
		return types.Session{}, err
	}

	var items []types.DownloadRequest
	if info.IsPlaylist {
		for _, entry := range info.PlaylistItems {
			items = append(items, types.DownloadRequest{
				URL:        entry.URL,
				Format:     req.Format,
				Quality:    req.Quality,
				FileFormat: req.FileFormat,
			})
		}
	} else {
		items = []types.DownloadRequest{req}
	}

	session := types.Session{
		ID:        uuid.New().String(),
		Status:    types.SessionStatusPending,
		Items:     items,
		Info:      info,
		CreatedAt: time.Now(),
	}
	m.reg.Sessions.Put(session.ID, session)

	m.log.Info().Str("session", session.ID).Int("items", len(items)).
		Bool("playlist", info.IsPlaylist).Msg("session created")
	return session, nil
}

// Get returns the session record.
func (m *SessionManager) Get(id string) (types.Session, error) {
	return m.reg.Sessions.Get(id)
}

// Start launches the session's batch. Starting is a one-shot transition
// from pending to downloading: a session that is already past pending
// reports its existing batch instead of launching a duplicate.
func (m *SessionManager) Start(ctx context.Context, id string) (types.Session, error) {
	session, err := m.reg.Sessions.Get(id)
	if err != nil {
		return types.Session{}, err
	}
	if session.Status != types.SessionStatusPending {
		return session, nil
	}

	batch, err := m.orch.CreateBatch(session.Items)
	if err != nil {
		return types.Session{}, err
	}

	launched := false
	_ = m.reg.Sessions.Update(id, func(s *types.Session) {
		if s.Status != types.SessionStatusPending {
			return
		}
		s.Status = types.SessionStatusDownloading
		s.BatchID = batch.ID
		launched = true
	})
	if !launched {
		// Lost the race with a concurrent start; discard the extra batch.
		_ = m.reg.Batches.Delete(batch.ID)
		return m.reg.Sessions.Get(id)
	}

	m.orch.Start(ctx, batch.ID)
	go m.watch(id, batch.ID, batch.Done)

	m.log.Info().Str("session", id).Str("batch", batch.ID).Msg("session started")
	return m.reg.Sessions.Get(id)
}

// watch settles the session once its batch reaches a terminal state.
func (m *SessionManager) watch(sessionID, batchID string, done <-chan struct{}) {
	<-done

	batch, err := m.reg.Batches.Get(batchID)
	status := types.SessionStatusFailed
	if err == nil && batch.Ready {
		status = types.SessionStatusCompleted
	}

	_ = m.reg.Sessions.Update(sessionID, func(s *types.Session) {
		if s.Status == types.SessionStatusDownloading {
			s.Status = status
		}
	})
}
