package status

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Job is one entry in the observer's live table.
type Job struct {
	ID string
	Record
	Started time.Time
}

// Store is the observer side. It owns the in-memory job table; the poll
// cycle and any request-handling reader share it through the Store's lock.
type Store struct {
	Dir       string
	Interval  time.Duration
	Retention time.Duration
	Logger    *slog.Logger

	// OnChange is called, outside the lock, for every job the poll cycle
	// inserted or updated.
	OnChange func(Job)

	now func() time.Time

	mu   sync.RWMutex
	jobs map[string]Job
}

func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{
		Dir:       dir,
		Interval:  DefaultPollInterval,
		Retention: DefaultRetention,
		Logger:    slog.Default(),
		now:       time.Now,
		jobs:      map[string]Job{},
	}
}

// Jobs returns a snapshot of the table, oldest job first.
func (s *Store) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	slices.SortFunc(jobs, func(a, b Job) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return jobs
}

func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

// Run polls on a fixed interval until the context is cancelled.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Poll reads every durable record and merges it into the table. A job
// whose record vanished before reaching a terminal state is forced to
// failed rather than left hanging, and a terminal in-memory state is never
// regressed by a stale record. Terminal jobs older than the retention
// window are evicted from memory and their record deleted from disk.
func (s *Store) Poll() {
	entries, err := os.ReadDir(s.Dir)
	if err != nil && !os.IsNotExist(err) {
		s.Logger.Error("read status dir", "dir", s.Dir, "err", err)
		return
	}

	onDisk := map[string]Record{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(s.Dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			s.Logger.Error("read status record", "path", path, "err", err)
			continue
		}
		var record Record
		if err := json.Unmarshal(b, &record); err != nil {
			s.Logger.Error("decode status record", "path", path, "err", err)
			continue
		}
		onDisk[strings.TrimSuffix(name, ".json")] = record
	}

	now := s.now()
	var changed []Job
	var evictFiles []string

	s.mu.Lock()
	for id, record := range onDisk {
		job, ok := s.jobs[id]
		switch {
		case !ok:
			// Present on disk but unknown, e.g. after a restart of this
			// process. Synthesize rather than discard.
			job = Job{ID: id, Record: record, Started: now}
			s.jobs[id] = job
			changed = append(changed, job)
		case job.Status.Terminal() && !record.Status.Terminal():
			// Stale record, keep the terminal state.
		case job.Record != record:
			job.Record = record
			s.jobs[id] = job
			changed = append(changed, job)
		}

		if job.Status.Terminal() && now.Sub(job.Started) > s.Retention {
			delete(s.jobs, id)
			evictFiles = append(evictFiles, filepath.Join(s.Dir, id+".json"))
		}
	}

	for id, job := range s.jobs {
		if _, ok := onDisk[id]; ok {
			continue
		}
		if !job.Status.Terminal() {
			job.Status = StateFailed
			job.Message = "status record disappeared unexpectedly"
			s.jobs[id] = job
			changed = append(changed, job)
			continue
		}
		if now.Sub(job.Started) > s.Retention {
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	for _, path := range evictFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.Logger.Error("remove status record", "path", path, "err", err)
		}
	}
	if s.OnChange != nil {
		for _, job := range changed {
			s.OnChange(job)
		}
	}
}
