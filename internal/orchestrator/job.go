package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auctionintel/leadfinder/internal/lead"
)

// JobStatus is the lifecycle state of one research job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusComplete  JobStatus = "complete"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusError     JobStatus = "error"
)

// Job tracks one submitted batch of identifiers. All mutation goes through
// the methods; Snapshot is safe to call while the job is running.
type Job struct {
	mu sync.Mutex

	ID          string
	Identifiers []string
	Results     []lead.Record
	Status      JobStatus
	Err         string
	Completed   int
	StartedAt   time.Time
	FinishedAt  time.Time
}

func newJob(identifiers []string) *Job {
	return &Job{
		ID:          uuid.NewString(),
		Identifiers: identifiers,
		Results:     make([]lead.Record, len(identifiers)),
		Status:      JobStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
}

func (j *Job) setResult(idx int, rec lead.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Results[idx] = rec
	j.Completed++
}

func (j *Job) finish(status JobStatus, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Err = errMsg
	j.FinishedAt = time.Now().UTC()
}

// JobView is a point-in-time copy of a job's state.
type JobView struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	Error       string        `json:"error,omitempty"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Identifiers []string      `json:"identifiers"`
	Results     []lead.Record `json:"results"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`

	Summary Summary `json:"summary"`
}

// Summary aggregates a job's results for billing and reporting.
type Summary struct {
	ByStatus        map[lead.Status]int `json:"by_status"`
	ByTier          map[lead.Tier]int   `json:"by_tier"`
	TotalPriceCents int                 `json:"total_price_cents"`
	APICalls        int                 `json:"api_calls"`
}

// Snapshot copies the job state under lock. Results for identifiers not
// yet finished are zero records.
func (j *Job) Snapshot() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()

	view := JobView{
		ID:          j.ID,
		Status:      j.Status,
		Error:       j.Err,
		Total:       len(j.Identifiers),
		Completed:   j.Completed,
		Identifiers: append([]string(nil), j.Identifiers...),
		Results:     append([]lead.Record(nil), j.Results...),
		StartedAt:   j.StartedAt,
		Summary: Summary{
			ByStatus: map[lead.Status]int{},
			ByTier:   map[lead.Tier]int{},
		},
	}
	if !j.FinishedAt.IsZero() {
		t := j.FinishedAt
		view.FinishedAt = &t
	}
	for _, rec := range j.Results {
		if rec.Status == "" {
			continue
		}
		view.Summary.ByStatus[rec.Status]++
		view.Summary.ByTier[rec.Tier]++
		view.Summary.TotalPriceCents += rec.PriceCents
		view.Summary.APICalls += rec.APICalls
	}
	return view
}

// terminal reports whether the job has stopped running.
func (j *Job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status != JobStatusRunning
}

// JobStore is an in-memory registry of jobs owned by one orchestrator
// instance. Nothing here is global; independent orchestrators in tests
// never see each other's jobs.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: map[string]*Job{}}
}

func (s *JobStore) put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Get returns the job by ID, or nil.
func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// List returns all jobs in unspecified order.
func (s *JobStore) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Delete removes a job by ID.
func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Cleanup removes terminal jobs that finished before the cutoff and
// returns how many were removed.
func (s *JobStore) Cleanup(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		j.mu.Lock()
		expired := j.Status != JobStatusRunning && !j.FinishedAt.IsZero() && j.FinishedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}
