package server

import (
	"encoding/json"
	"net/http"

	"github.com/jonathan/newsletter-curator/internal/db"
)

// CreateSourceRequest represents the request body for POST /tenants/{id}/sources
type CreateSourceRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	FeedURL string `json:"feed_url" validate:"required,url"`
}

// TenantSettingsRequest represents the request body for PUT /tenants/{id}/settings
type TenantSettingsRequest struct {
	RelevanceThreshold  float64 `json:"relevance_threshold" validate:"min=0,max=10"`
	SimilarityThreshold float64 `json:"similarity_threshold" validate:"min=0,max=1"`
	MaxAgeDays          int     `json:"max_age_days" validate:"min=0,max=365"`
	RecentWindow        int     `json:"recent_window" validate:"min=0,max=1000"`
}

// handleListSources lists all sources configured for a tenant.
func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.pathUUID(w, r, "id", "tenant ID")
	if !ok {
		return
	}

	sources, err := s.db.ListSources(r.Context(), tenantID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if sources == nil {
		sources = []db.Source{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"sources": sources})
}

// handleCreateSource registers a new feed source for a tenant.
func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.pathUUID(w, r, "id", "tenant ID")
	if !ok {
		return
	}

	var req CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.validationResponse(w, err)
		return
	}

	source, err := s.db.CreateSource(r.Context(), tenantID, req.Name, req.FeedURL)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusCreated, source)
}

// handleActivateSource enables a source for curation runs.
func (s *Server) handleActivateSource(w http.ResponseWriter, r *http.Request) {
	s.setSourceActive(w, r, true)
}

// handleDeactivateSource excludes a source from curation runs.
func (s *Server) handleDeactivateSource(w http.ResponseWriter, r *http.Request) {
	s.setSourceActive(w, r, false)
}

func (s *Server) setSourceActive(w http.ResponseWriter, r *http.Request, active bool) {
	sourceID, ok := s.pathUUID(w, r, "id", "source ID")
	if !ok {
		return
	}

	updated, err := s.db.SetSourceActive(r.Context(), sourceID, active)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if !updated {
		s.errorResponse(w, http.StatusNotFound, "Source not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"active": active})
}

// handleDeleteSource removes a source. Articles it produced are kept.
func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID, ok := s.pathUUID(w, r, "id", "source ID")
	if !ok {
		return
	}

	deleted, err := s.db.DeleteSource(r.Context(), sourceID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if !deleted {
		s.errorResponse(w, http.StatusNotFound, "Source not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleGetTenantSettings returns the tenant's curation overrides. Tenants
// without saved settings get the zero value, meaning service defaults apply.
func (s *Server) handleGetTenantSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.pathUUID(w, r, "id", "tenant ID")
	if !ok {
		return
	}

	settings, err := s.db.GetTenantSettings(r.Context(), tenantID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if settings == nil {
		settings = &db.TenantSettings{TenantID: tenantID}
	}
	s.jsonResponse(w, http.StatusOK, settings)
}

// handlePutTenantSettings upserts the tenant's curation overrides.
func (s *Server) handlePutTenantSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.pathUUID(w, r, "id", "tenant ID")
	if !ok {
		return
	}

	var req TenantSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.validationResponse(w, err)
		return
	}

	settings := &db.TenantSettings{
		TenantID:            tenantID,
		RelevanceThreshold:  req.RelevanceThreshold,
		SimilarityThreshold: req.SimilarityThreshold,
		MaxAgeDays:          req.MaxAgeDays,
		RecentWindow:        req.RecentWindow,
	}
	if err := s.db.UpsertTenantSettings(r.Context(), settings); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, settings)
}
