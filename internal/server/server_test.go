package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/jobs"
)

// memStore is an in-memory jobs.Store so handler tests run without Postgres.
// Like a real pgx pool, every operation fails once its context is cancelled.
type memStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*db.Job
	nextID func() uuid.UUID
}

var _ jobs.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		jobs:   make(map[uuid.UUID]*db.Job),
		nextID: uuid.New,
	}
}

func (m *memStore) CreateJob(ctx context.Context, tenantID uuid.UUID, jobType string, params json.RawMessage) (*db.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.TenantID == tenantID && j.Type == jobType && !db.TerminalStatus(j.Status) {
			return nil, db.ErrActiveJobExists
		}
	}
	job := &db.Job{
		ID:        m.nextID(),
		TenantID:  tenantID,
		Type:      jobType,
		Status:    db.JobStatusPending,
		Params:    params,
		CreatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	dup := *job
	return &dup, nil
}

func (m *memStore) MarkJobRunning(ctx context.Context, jobID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != db.JobStatusPending {
		return false, nil
	}
	j.Status = db.JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
	return true, nil
}

func (m *memStore) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, percent int, stage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != db.JobStatusRunning {
		return nil
	}
	if percent > j.ProgressPercent {
		j.ProgressPercent = percent
	}
	j.CurrentStage = stage
	return nil
}

func (m *memStore) FinalizeJob(ctx context.Context, jobID uuid.UUID, status string, result json.RawMessage, errMsg string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || db.TerminalStatus(j.Status) {
		return false, nil
	}
	j.Status = status
	if status == db.JobStatusCompleted {
		j.ProgressPercent = 100
		j.Result = result
	}
	if errMsg != "" {
		j.ErrorMessage = &errMsg
	}
	now := time.Now()
	j.CompletedAt = &now
	return true, nil
}

func (m *memStore) RequestJobCancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || db.TerminalStatus(j.Status) {
		return false, nil
	}
	j.CancelRequested = true
	return true, nil
}

func (m *memStore) JobCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	return j.CancelRequested, nil
}

func (m *memStore) GetJob(ctx context.Context, jobID uuid.UUID) (*db.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, nil
	}
	dup := *j
	return &dup, nil
}

func (m *memStore) CurrentJob(ctx context.Context, tenantID uuid.UUID, jobType string) (*db.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.TenantID == tenantID && j.Type == jobType && !db.TerminalStatus(j.Status) {
			dup := *j
			return &dup, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListJobs(ctx context.Context, filters db.JobFilters) ([]db.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Job
	for _, j := range m.jobs {
		if filters.TenantID != nil && j.TenantID != *filters.TenantID {
			continue
		}
		if filters.Type != "" && j.Type != filters.Type {
			continue
		}
		if filters.Status != "" && j.Status != filters.Status {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (m *memStore) DeleteJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status == db.JobStatusRunning {
		return false, nil
	}
	delete(m.jobs, jobID)
	return true, nil
}

func (m *memStore) DeleteJobsOlderThan(ctx context.Context, days int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -days)
	var n int64
	for id, j := range m.jobs {
		if db.TerminalStatus(j.Status) && j.CreatedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) FailStaleActive(ctx context.Context, message string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if !db.TerminalStatus(j.Status) {
			j.Status = db.JobStatusFailed
			j.ErrorMessage = &message
			n++
		}
	}
	return n, nil
}

func putJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPut, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// testServer wires a Server over the in-memory store. The curation pipeline
// blocks until release is closed so tests control when the job slot frees up.
type testServer struct {
	*Server
	store   *memStore
	release chan struct{}
}

func newTestServer() *testServer {
	store := newMemStore()
	release := make(chan struct{})

	pipeline := func(ctx context.Context, job *db.Job, progress chan<- jobs.ProgressEvent) (json.RawMessage, error) {
		progress <- jobs.ProgressEvent{Percent: 50, Stage: "working"}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, jobs.ErrCancelled
		}
		return json.RawMessage(`{"curated":2}`), nil
	}

	orch := jobs.NewOrchestrator(store, map[string]jobs.PipelineFunc{
		db.JobTypeCuration: pipeline,
	}, time.Minute)

	s := &Server{
		db:       nil, // database-bound handlers are covered by integration tests
		orch:     orch,
		validate: validator.New(),
	}
	return &testServer{Server: s, store: store, release: release}
}
