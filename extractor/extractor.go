// Package extractor resolves URLs into media metadata and retrievable
// streams. The production implementation shells out to yt-dlp; the rest of
// the system treats the capability as opaque, including its retry policy.
package extractor

import (
	"context"

	"downpour/types"
)

// ProgressStatus labels a progress event from an in-flight fetch.
type ProgressStatus string

const (
	ProgressDownloading ProgressStatus = "downloading"
	ProgressFinished    ProgressStatus = "finished"
	ProgressError       ProgressStatus = "error"
)

// Progress is one incremental progress event delivered during Fetch.
type Progress struct {
	Status          ProgressStatus
	DownloadedBytes int64
	TotalBytes      int64
	// Estimated is set when TotalBytes is the extractor's estimate rather
	// than an exact total.
	Estimated bool
}

// Percent maps the byte counters to [0,100]. Returns 0 when no total is
// known yet.
func (p Progress) Percent() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	pct := float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// FetchOptions carries the request parameters a fetch needs.
type FetchOptions struct {
	Kind      types.MediaKind
	Quality   string
	Container string
	// Dir is the job-scoped output directory. It must not be shared with
	// any other in-flight fetch.
	Dir string
}

// Extractor is the external capability that resolves URLs.
type Extractor interface {
	// Probe resolves metadata without downloading anything.
	Probe(ctx context.Context, url string) (*types.MediaInfo, error)

	// Fetch downloads the media behind url into opts.Dir and returns the
	// local file path. onProgress, when non-nil, receives incremental
	// progress events and a terminal finished or error event.
	Fetch(ctx context.Context, url string, opts FetchOptions, onProgress func(Progress)) (string, error)
}
