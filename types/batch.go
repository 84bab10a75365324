package types

import "time"

// BatchItemResult records one successfully downloaded batch item.
type BatchItemResult struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Artifact string `json:"filename"`
}

// BatchItemFailure records one failed batch item. Failures stay local to
// the item; they never abort the rest of the batch.
type BatchItemFailure struct {
	Index   int       `json:"index"`
	Title   string    `json:"title,omitempty"`
	Kind    ErrorKind `json:"errorKind"`
	Message string    `json:"message"`
}

// BatchJob is an ordered group of download requests processed sequentially
// and assembled into one archive.
//
// Ready answers "is there a downloadable artifact", not "did everything
// succeed": a batch with partial failures is Ready with Partial set and
// Error populated.
type BatchJob struct {
	ID       string            `json:"id"`
	Requests []DownloadRequest `json:"-"`

	TotalCount   int     `json:"totalFiles"`
	CurrentIndex int     `json:"currentIndex"`
	Progress     float64 `json:"progress"`

	Completed []BatchItemResult  `json:"completedFiles"`
	Failed    []BatchItemFailure `json:"failedFiles"`

	ArchivePath string `json:"-"`
	Ready       bool   `json:"isReady"`
	Partial     bool   `json:"partial"`
	Error       string `json:"error,omitempty"`

	Dir        string     `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// Done is closed once archive assembly has been attempted.
	Done chan struct{} `json:"-"`
}

// Finished reports whether the batch has run to its terminal state.
func (b *BatchJob) Finished() bool {
	return b.FinishedAt != nil
}
