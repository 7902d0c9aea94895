package model

import "time"

// RunRecord is a finished tracking run as kept in the history store.
type RunRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Command     string    `json:"command,omitempty"`
	ExitCode    int       `json:"exit_code"`
	StartedAt   time.Time `json:"started_at"`
	StoppedAt   time.Time `json:"stopped_at"`
	ExportPath  string    `json:"export_path,omitempty"`
	Results     Results   `json:"results"`
}
