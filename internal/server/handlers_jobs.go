package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/newsletter-curator/internal/db"
	"github.com/jonathan/newsletter-curator/internal/jobs"
)

// CreateJobRequest represents the request body for POST /jobs
type CreateJobRequest struct {
	TenantID string          `json:"tenant_id" validate:"required,uuid4"`
	Type     string          `json:"type" validate:"required"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// CurationRunRequest represents the request body for POST /curation/runs
type CurationRunRequest struct {
	TenantID  string   `json:"tenant_id" validate:"required,uuid4"`
	SourceIDs []string `json:"source_ids,omitempty" validate:"omitempty,dive,uuid4"`
}

// CleanupRequest represents the request body for POST /jobs/cleanup
type CleanupRequest struct {
	Days int `json:"days" validate:"required,min=1"`
}

// handleCreateJob creates and launches a background job of any type.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.validationResponse(w, err)
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid tenant_id")
		return
	}
	if !db.ValidJobType(req.Type) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid job type: "+req.Type)
		return
	}

	job, err := s.orch.Launch(r.Context(), tenantID, req.Type, req.Params, nil)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusAccepted, job)
}

// handleCreateCurationRun launches a curation job for a tenant.
func (s *Server) handleCreateCurationRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCurationRun(w, r)
	if !ok {
		return
	}

	tenantID, _ := uuid.Parse(req.TenantID)
	params, err := curationParams(req)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.orch.Launch(r.Context(), tenantID, db.JobTypeCuration, params, nil)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	log.Printf("Started curation job %s for tenant %s", job.ID, tenantID)
	s.jsonResponse(w, http.StatusAccepted, job)
}

// handleStreamCurationRun launches a curation job and streams its events
// over SSE until the job reaches a terminal state.
func (s *Server) handleStreamCurationRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCurationRun(w, r)
	if !ok {
		return
	}

	tenantID, _ := uuid.Parse(req.TenantID)
	params, err := curationParams(req)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.orch.CreateJob(r.Context(), tenantID, db.JobTypeCuration, params)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	sink := func(ev jobs.Event) {
		if err := sse.WriteJobEvent(ev); err != nil {
			log.Printf("SSE write failed for job %s: %v", ev.JobID, err)
		}
	}

	// Only the sink is bound to the connection. The run itself uses a
	// request-detached context so a dropped client cannot abort the pipeline
	// or, worse, the finalize write, which would strand the job in running
	// and hold the tenant's slot until a restart.
	runCtx := context.WithoutCancel(r.Context())
	if err := s.orch.RunJob(runCtx, job.ID, sink); err != nil {
		log.Printf("Curation job %s finished with error: %v", job.ID, err)
	}
}

func (s *Server) decodeCurationRun(w http.ResponseWriter, r *http.Request) (CurationRunRequest, bool) {
	var req CurationRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return req, false
	}
	if err := s.validate.Struct(req); err != nil {
		s.validationResponse(w, err)
		return req, false
	}
	return req, true
}

func curationParams(req CurationRunRequest) (json.RawMessage, error) {
	ids := make([]uuid.UUID, 0, len(req.SourceIDs))
	for _, raw := range req.SourceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return json.Marshal(map[string]any{"source_ids": ids})
}

// handleListJobs lists jobs with optional tenant/type/status filters.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filters := db.JobFilters{
		Type:   r.URL.Query().Get("type"),
		Status: r.URL.Query().Get("status"),
	}

	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid tenant_id")
			return
		}
		filters.TenantID = &tenantID
	}
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid page")
			return
		}
		filters.Page = page
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 200 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filters.Limit = limit
	}

	list, err := s.orch.ListJobs(r.Context(), filters)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if list == nil {
		list = []db.Job{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"jobs": list})
}

// handleGetJob returns one job by ID.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "id", "job ID")
	if !ok {
		return
	}

	job, err := s.orch.GetJob(r.Context(), jobID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if job == nil {
		s.errorResponse(w, http.StatusNotFound, "Job not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

// handleCancelJob requests cooperative cancellation of an active job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "id", "job ID")
	if !ok {
		return
	}

	if err := s.orch.CancelJob(r.Context(), jobID); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

// handleRerunJob clones a finished job into a fresh pending one and runs it.
func (s *Server) handleRerunJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "id", "job ID")
	if !ok {
		return
	}

	clone, err := s.orch.RerunJob(r.Context(), jobID)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	go func() {
		if err := s.orch.RunJob(context.Background(), clone.ID, nil); err != nil {
			log.Printf("Rerun job %s finished with error: %v", clone.ID, err)
		}
	}()

	s.jsonResponse(w, http.StatusAccepted, clone)
}

// handleDeleteJob removes a non-running job.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.pathUUID(w, r, "id", "job ID")
	if !ok {
		return
	}

	if err := s.orch.DeleteJob(r.Context(), jobID); err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleCleanupJobs removes terminal jobs older than the requested age.
func (s *Server) handleCleanupJobs(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.validationResponse(w, err)
		return
	}

	deleted, err := s.orch.DeleteJobsOlderThan(r.Context(), req.Days)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// handleGetCurrentJob returns the tenant's active job of the given type.
func (s *Server) handleGetCurrentJob(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.pathUUID(w, r, "id", "tenant ID")
	if !ok {
		return
	}

	jobType := r.URL.Query().Get("type")
	if jobType == "" {
		jobType = db.JobTypeCuration
	}

	job, err := s.orch.GetCurrentJob(r.Context(), tenantID, jobType)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if job == nil {
		s.errorResponse(w, http.StatusNotFound, "No active job")
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

// pathUUID parses a UUID path parameter, writing the error response itself.
func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	raw := r.PathValue(name)
	if raw == "" {
		s.errorResponse(w, http.StatusBadRequest, label+" is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid "+label+" format")
		return uuid.Nil, false
	}
	return id, true
}

// validationResponse converts validator errors into a 400 with field messages.
func (s *Server) validationResponse(w http.ResponseWriter, err error) {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		messages := make([]string, 0, len(validationErrors))
		for _, fe := range validationErrors {
			messages = append(messages, fe.Field()+" failed on "+fe.Tag())
		}
		s.jsonResponse(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": messages})
		return
	}
	s.errorResponse(w, http.StatusBadRequest, err.Error())
}
