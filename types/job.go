package types

import "time"

// MediaKind selects the stream class a request targets.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// JobStatus represents the current status of a download job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusConverting JobStatus = "converting"
	JobStatusReady      JobStatus = "ready"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status allows no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// DownloadRequest carries the caller-chosen parameters for one download.
type DownloadRequest struct {
	URL        string    `json:"url"`
	Format     MediaKind `json:"format"`
	Quality    string    `json:"quality"`
	FileFormat string    `json:"fileFormat"`
}

// DownloadJob is the tracked unit of work for a single download.
// It is owned by the job registry; the worker mutates it only through
// registry updates.
type DownloadJob struct {
	ID      string          `json:"id"`
	Request DownloadRequest `json:"request"`
	Status  JobStatus       `json:"status"`

	// Progress is a percentage in [0,100]. It is non-decreasing while the
	// job is in flight and capped at 99 until postprocessing finishes.
	Progress float64 `json:"progress"`

	Title    string `json:"title,omitempty"`
	Artifact string `json:"filename,omitempty"`
	Dir      string `json:"-"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`

	// ConversionFallback is set when a transcode failed and the job was
	// completed with the untranscoded file instead.
	ConversionFallback bool `json:"conversionFallback,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// Done is closed once the job reaches a terminal status.
	Done chan struct{} `json:"-"`
}

// Ready reports whether the job produced a fetchable artifact.
func (j *DownloadJob) Ready() bool {
	return j.Status == JobStatusReady
}
