package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobTypeScan = "scan"
)

type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID         int          `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Type       string       `bun:",nullzero" json:"type"`
	Kind       string       `bun:",nullzero" json:"kind"`
	Status     string       `bun:",nullzero" json:"status"`
	Data       string       `bun:",nullzero" json:"-"`
	DataParsed any          `bun:"-" json:"data"`
	Progress   int          `json:"progress"`
	ProcessID  *string      `json:"process_id,omitempty"`
	LibraryID  *int         `json:"library_id,omitempty"`
	Error      *string      `json:"error,omitempty"`
	Result     *string      `bun:"result" json:"-"`
	Summary    *ScanSummary `bun:"-" json:"summary,omitempty"`
}

func (job *Job) UnmarshalData() error {
	switch job.Type {
	case JobTypeScan:
		job.DataParsed = &JobScanData{}
	}

	if job.Data != "" {
		if err := json.Unmarshal([]byte(job.Data), job.DataParsed); err != nil {
			return errors.WithStack(err)
		}
	}

	if job.Result != nil && *job.Result != "" {
		job.Summary = &ScanSummary{}
		if err := json.Unmarshal([]byte(*job.Result), job.Summary); err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// JobScanData is the payload of a scan job. Force requests a full refresh:
// every file is re-extracted even when its size and mtime are unchanged.
type JobScanData struct {
	Force bool `json:"force"`
}

// ScanSummary is the terminal result of a scan run, persisted on the job row
// and returned from status queries.
type ScanSummary struct {
	TotalFiles int `json:"total_files"`
	NewItems   int `json:"new_items"`
	Updated    int `json:"updated"`
	Removed    int `json:"removed"`
	Skipped    int `json:"skipped"`
	Matched    int `json:"matched"`
	Unmatched  int `json:"unmatched"`
	Errors     int `json:"errors"`
}
