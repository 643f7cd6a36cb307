// Package status is the only channel between a worker process performing
// downloads and the process reporting on them. The worker publishes one
// durable JSON record per job id; an independent poller merges the records
// into a live table, defends against records vanishing mid-flight, and
// garbage collects finished jobs.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultDir          = "/tmp/recommand_download_status"
	DefaultPollInterval = 5 * time.Second
	DefaultRetention    = 5 * time.Minute
)

type State string

const (
	StatePending     State = "pending"
	StateResolving   State = "resolving"
	StateFetching    State = "fetching"
	StateReconciling State = "reconciling"
	StateInProgress  State = "in_progress"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Record is the durable snapshot of one job.
type Record struct {
	Status            State     `json:"status"`
	Message           string    `json:"message"`
	Title             string    `json:"title"`
	CurrentTrackCount int       `json:"current_track_count"`
	TotalTrackCount   int       `json:"total_track_count"`
	Timestamp         time.Time `json:"timestamp"`
}

// Publisher writes a job's durable record. Writes go through a temp file
// and a rename so the poller never observes a half-written record.
type Publisher struct {
	dir   string
	jobID string
	now   func() time.Time
}

func NewPublisher(dir, jobID string) *Publisher {
	if dir == "" {
		dir = DefaultDir
	}
	return &Publisher{dir: dir, jobID: jobID, now: time.Now}
}

func (p *Publisher) Path() string {
	return filepath.Join(p.dir, p.jobID+".json")
}

// Publish overwrites the job's record. Safe to call repeatedly, last write
// wins.
func (p *Publisher) Publish(state State, message, title string, current, total int) error {
	if p.jobID == "" {
		return nil
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}

	record := Record{
		Status:            state,
		Message:           message,
		Title:             title,
		CurrentTrackCount: current,
		TotalTrackCount:   total,
		Timestamp:         p.now(),
	}
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tmp := p.Path() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, p.Path()); err != nil {
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}
