package types

import "time"

// SessionStatus represents the current status of a session workflow.
type SessionStatus string

const (
	SessionStatusPending     SessionStatus = "pending"
	SessionStatusDownloading SessionStatus = "downloading"
	SessionStatusCompleted   SessionStatus = "completed"
	SessionStatusFailed      SessionStatus = "failed"
)

// Terminal reports whether the session allows no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session wraps URL resolution plus the batch it eventually starts. A
// single-item URL resolves to one item; a playlist expands into one item
// per entry, each carrying the session's chosen format parameters.
type Session struct {
	ID        string            `json:"id"`
	Status    SessionStatus     `json:"status"`
	Items     []DownloadRequest `json:"items"`
	Info      *MediaInfo        `json:"videoInfo,omitempty"`
	BatchID   string            `json:"batchId,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// MediaInfo is the metadata the extractor resolves for a URL.
type MediaInfo struct {
	Title         string       `json:"title"`
	Duration      float64      `json:"duration"`
	Thumbnail     string       `json:"thumbnail,omitempty"`
	Size          int64        `json:"size,omitempty"`
	IsPlaylist    bool         `json:"isPlaylist"`
	PlaylistItems []MediaEntry `json:"playlistItems,omitempty"`
}

// MediaEntry is one entry of a resolved playlist.
type MediaEntry struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Duration  float64 `json:"duration,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}
