package types

import "time"

// ProgressMessage is a progress update pushed to websocket clients and the
// CLI progress display. ID refers to a job or batch.
type ProgressMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "progress", "status", "complete", "error"
	Progress  float64   `json:"progress"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
