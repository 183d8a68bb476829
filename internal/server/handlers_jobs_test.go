package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/newsletter-curator/internal/db"
)

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeJob(t *testing.T, body []byte) db.Job {
	t.Helper()
	var job db.Job
	require.NoError(t, json.Unmarshal(body, &job))
	return job
}

// waitTerminal polls until the launched job leaves the active statuses.
func waitTerminal(t *testing.T, ts *testServer, jobID uuid.UUID) db.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := ts.store.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		require.NotNil(t, job)
		if db.TerminalStatus(job.Status) {
			return *job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal status", jobID)
	return db.Job{}
}

// TestHandleCreateJob_InvalidBody tests job creation with malformed JSON
func TestHandleCreateJob_InvalidBody(t *testing.T) {
	ts := newTestServer()

	w := httptest.NewRecorder()
	ts.handleCreateJob(w, postJSON("/jobs", "{not json"))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "Invalid request body")
}

// TestHandleCreateJob_MissingTenant tests validation of the tenant_id field
func TestHandleCreateJob_MissingTenant(t *testing.T) {
	ts := newTestServer()

	w := httptest.NewRecorder()
	ts.handleCreateJob(w, postJSON("/jobs", `{"type":"curation"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleCreateJob_InvalidType tests rejection of unknown job types
func TestHandleCreateJob_InvalidType(t *testing.T) {
	ts := newTestServer()

	body := `{"tenant_id":"` + uuid.NewString() + `","type":"mining"}`
	w := httptest.NewRecorder()
	ts.handleCreateJob(w, postJSON("/jobs", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "Invalid job type")
}

// TestHandleCreateJob_Accepted tests that a valid request launches a job
func TestHandleCreateJob_Accepted(t *testing.T) {
	ts := newTestServer()

	body := `{"tenant_id":"` + uuid.NewString() + `","type":"curation"}`
	w := httptest.NewRecorder()
	ts.handleCreateJob(w, postJSON("/jobs", body))

	require.Equal(t, http.StatusAccepted, w.Code)
	job := decodeJob(t, w.Body.Bytes())
	assert.Equal(t, db.JobStatusPending, job.Status)
	assert.Equal(t, db.JobTypeCuration, job.Type)

	close(ts.release)
	final := waitTerminal(t, ts, job.ID)
	assert.Equal(t, db.JobStatusCompleted, final.Status)
	assert.JSONEq(t, `{"curated":2}`, string(final.Result))
}

// TestHandleCreateCurationRun_SingleFlight tests that a second run for the
// same tenant is rejected while the first is active
func TestHandleCreateCurationRun_SingleFlight(t *testing.T) {
	ts := newTestServer()
	tenantID := uuid.NewString()
	body := `{"tenant_id":"` + tenantID + `"}`

	w := httptest.NewRecorder()
	ts.handleCreateCurationRun(w, postJSON("/curation/runs", body))
	require.Equal(t, http.StatusAccepted, w.Code)
	first := decodeJob(t, w.Body.Bytes())

	w = httptest.NewRecorder()
	ts.handleCreateCurationRun(w, postJSON("/curation/runs", body))
	assert.Equal(t, http.StatusConflict, w.Code)

	close(ts.release)
	waitTerminal(t, ts, first.ID)

	// Slot frees once the first run finishes.
	ts.release = make(chan struct{})
	close(ts.release)
	w = httptest.NewRecorder()
	ts.handleCreateCurationRun(w, postJSON("/curation/runs", body))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

// TestHandleCreateCurationRun_BadSourceID tests source_ids validation
func TestHandleCreateCurationRun_BadSourceID(t *testing.T) {
	ts := newTestServer()

	body := `{"tenant_id":"` + uuid.NewString() + `","source_ids":["nope"]}`
	w := httptest.NewRecorder()
	ts.handleCreateCurationRun(w, postJSON("/curation/runs", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleGetJob_InvalidID tests get job with a malformed UUID
func TestHandleGetJob_InvalidID(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil)
	req.SetPathValue("id", "not-a-uuid")
	w := httptest.NewRecorder()
	ts.handleGetJob(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "Invalid job ID")
}

// TestHandleGetJob_NotFound tests get job for an unknown ID
func TestHandleGetJob_NotFound(t *testing.T) {
	ts := newTestServer()

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil)
	req.SetPathValue("id", id)
	w := httptest.NewRecorder()
	ts.handleGetJob(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestHandleCancelJob_NotFound tests cancelling an unknown job
func TestHandleCancelJob_NotFound(t *testing.T) {
	ts := newTestServer()

	id := uuid.NewString()
	req := postJSON("/jobs/"+id+"/cancel", "")
	req.SetPathValue("id", id)
	w := httptest.NewRecorder()
	ts.handleCancelJob(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestHandleCancelJob_Terminal tests cancelling an already finished job
func TestHandleCancelJob_Terminal(t *testing.T) {
	ts := newTestServer()
	close(ts.release)

	job, err := ts.orch.Launch(context.Background(), uuid.New(), db.JobTypeCuration, nil, nil)
	require.NoError(t, err)
	waitTerminal(t, ts, job.ID)

	req := postJSON("/jobs/"+job.ID.String()+"/cancel", "")
	req.SetPathValue("id", job.ID.String())
	w := httptest.NewRecorder()
	ts.handleCancelJob(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

// TestHandleCancelJob_Running tests cancelling an in-flight job
func TestHandleCancelJob_Running(t *testing.T) {
	ts := newTestServer()

	job, err := ts.orch.Launch(context.Background(), uuid.New(), db.JobTypeCuration, nil, nil)
	require.NoError(t, err)

	req := postJSON("/jobs/"+job.ID.String()+"/cancel", "")
	req.SetPathValue("id", job.ID.String())
	w := httptest.NewRecorder()
	ts.handleCancelJob(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	final := waitTerminal(t, ts, job.ID)
	assert.Equal(t, db.JobStatusCancelled, final.Status)
}

// TestHandleDeleteJob_Running tests that running jobs cannot be deleted
func TestHandleDeleteJob_Running(t *testing.T) {
	ts := newTestServer()

	job, err := ts.orch.Launch(context.Background(), uuid.New(), db.JobTypeCuration, nil, nil)
	require.NoError(t, err)

	// Wait for the pipeline to claim the job.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		j, _ := ts.store.GetJob(context.Background(), job.ID)
		if j != nil && j.Status == db.JobStatusRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+job.ID.String(), nil)
	req.SetPathValue("id", job.ID.String())
	w := httptest.NewRecorder()
	ts.handleDeleteJob(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	close(ts.release)
	waitTerminal(t, ts, job.ID)

	w = httptest.NewRecorder()
	ts.handleDeleteJob(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestHandleRerunJob_NotTerminal tests rerunning an active job
func TestHandleRerunJob_NotTerminal(t *testing.T) {
	ts := newTestServer()

	job, err := ts.orch.Launch(context.Background(), uuid.New(), db.JobTypeCuration, nil, nil)
	require.NoError(t, err)

	req := postJSON("/jobs/"+job.ID.String()+"/rerun", "")
	req.SetPathValue("id", job.ID.String())
	w := httptest.NewRecorder()
	ts.handleRerunJob(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	close(ts.release)
}

// TestHandleRerunJob_Terminal tests rerunning a finished job
func TestHandleRerunJob_Terminal(t *testing.T) {
	ts := newTestServer()
	close(ts.release)

	job, err := ts.orch.Launch(context.Background(), uuid.New(), db.JobTypeCuration, nil, nil)
	require.NoError(t, err)
	waitTerminal(t, ts, job.ID)

	req := postJSON("/jobs/"+job.ID.String()+"/rerun", "")
	req.SetPathValue("id", job.ID.String())
	w := httptest.NewRecorder()
	ts.handleRerunJob(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	clone := decodeJob(t, w.Body.Bytes())
	assert.NotEqual(t, job.ID, clone.ID)
	waitTerminal(t, ts, clone.ID)
}

// TestHandleCleanupJobs_Validation tests the days field bounds
func TestHandleCleanupJobs_Validation(t *testing.T) {
	ts := newTestServer()

	w := httptest.NewRecorder()
	ts.handleCleanupJobs(w, postJSON("/jobs/cleanup", `{"days":0}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleCleanupJobs tests cleanup of old terminal jobs
func TestHandleCleanupJobs(t *testing.T) {
	ts := newTestServer()
	close(ts.release)

	job, err := ts.orch.Launch(context.Background(), uuid.New(), db.JobTypeCuration, nil, nil)
	require.NoError(t, err)
	waitTerminal(t, ts, job.ID)

	// Age the job past the cutoff.
	ts.store.mu.Lock()
	ts.store.jobs[job.ID].CreatedAt = time.Now().AddDate(0, 0, -10)
	ts.store.mu.Unlock()

	w := httptest.NewRecorder()
	ts.handleCleanupJobs(w, postJSON("/jobs/cleanup", `{"days":7}`))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp["deleted"])
}

// TestHandleListJobs_InvalidTenant tests tenant_id query validation
func TestHandleListJobs_InvalidTenant(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/jobs?tenant_id=nope", nil)
	w := httptest.NewRecorder()
	ts.handleListJobs(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleListJobs_Empty tests that an empty result is a JSON array
func TestHandleListJobs_Empty(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w := httptest.NewRecorder()
	ts.handleListJobs(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"jobs":[]}`, w.Body.String())
}

// TestHandleGetCurrentJob tests the per-tenant active job lookup
func TestHandleGetCurrentJob(t *testing.T) {
	ts := newTestServer()
	tenantID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/tenants/"+tenantID.String()+"/jobs/current", nil)
	req.SetPathValue("id", tenantID.String())
	w := httptest.NewRecorder()
	ts.handleGetCurrentJob(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	job, err := ts.orch.Launch(context.Background(), tenantID, db.JobTypeCuration, nil, nil)
	require.NoError(t, err)

	w = httptest.NewRecorder()
	ts.handleGetCurrentJob(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	current := decodeJob(t, w.Body.Bytes())
	assert.Equal(t, job.ID, current.ID)

	close(ts.release)
	waitTerminal(t, ts, job.ID)
}

// TestHandleGetCurrentJob_InvalidType tests the type query parameter
func TestHandleGetCurrentJob_InvalidType(t *testing.T) {
	ts := newTestServer()
	tenantID := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/tenants/"+tenantID+"/jobs/current?type=bogus", nil)
	req.SetPathValue("id", tenantID)
	w := httptest.NewRecorder()
	ts.handleGetCurrentJob(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestHandleStreamCurationRun tests the SSE event stream end to end
func TestHandleStreamCurationRun(t *testing.T) {
	ts := newTestServer()
	close(ts.release)

	body := `{"tenant_id":"` + uuid.NewString() + `"}`
	w := httptest.NewRecorder()
	ts.handleStreamCurationRun(w, postJSON("/curation/runs/stream", body))

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	out := w.Body.String()
	assert.Contains(t, out, "event: start")
	assert.Contains(t, out, "event: progress")
	assert.Contains(t, out, "event: complete")
	assert.Contains(t, out, `"curated":2`)
}

// TestHandleStreamCurationRun_ClientDisconnect tests that dropping the stream
// mid-run neither aborts the pipeline nor leaves the tenant's slot occupied
func TestHandleStreamCurationRun_ClientDisconnect(t *testing.T) {
	ts := newTestServer()
	tenantID := uuid.New()

	reqCtx, cancel := context.WithCancel(context.Background())
	req := postJSON("/curation/runs/stream", `{"tenant_id":"`+tenantID.String()+`"}`).WithContext(reqCtx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.handleStreamCurationRun(httptest.NewRecorder(), req)
	}()

	// Wait for the run to start, then drop the client mid-stream.
	var jobID uuid.UUID
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := ts.store.CurrentJob(context.Background(), tenantID, db.JobTypeCuration)
		require.NoError(t, err)
		if job != nil && job.Status == db.JobStatusRunning {
			jobID = job.ID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEqual(t, uuid.Nil, jobID, "run never started")

	cancel()
	close(ts.release)
	<-done

	job := waitTerminal(t, ts, jobID)
	assert.Equal(t, db.JobStatusCompleted, job.Status)

	// The slot must be free for the next run.
	_, err := ts.orch.CreateJob(context.Background(), tenantID, db.JobTypeCuration, nil)
	assert.NoError(t, err)
}

// TestHandleStreamCurationRun_Conflict tests streaming while a run is active
func TestHandleStreamCurationRun_Conflict(t *testing.T) {
	ts := newTestServer()
	tenantID := uuid.NewString()
	body := `{"tenant_id":"` + tenantID + `"}`

	w := httptest.NewRecorder()
	ts.handleCreateCurationRun(w, postJSON("/curation/runs", body))
	require.Equal(t, http.StatusAccepted, w.Code)
	first := decodeJob(t, w.Body.Bytes())

	w = httptest.NewRecorder()
	ts.handleStreamCurationRun(w, postJSON("/curation/runs/stream", body))
	assert.Equal(t, http.StatusConflict, w.Code)

	close(ts.release)
	waitTerminal(t, ts, first.ID)
}
