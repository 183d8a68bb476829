package server

import (
	"net/http"
	"strconv"

	"github.com/jonathan/newsletter-curator/internal/db"
)

// handleListArticles lists a tenant's articles, optionally filtered by status.
func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.pathUUID(w, r, "id", "tenant ID")
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !db.ValidArticleStatus(status) {
		s.errorResponse(w, http.StatusBadRequest, "Invalid status: "+status)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	articles, err := s.db.ListArticles(r.Context(), tenantID, status, limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if articles == nil {
		articles = []db.Article{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"articles": articles})
}

// handleGetArticle returns one article by ID.
func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	articleID, ok := s.pathUUID(w, r, "id", "article ID")
	if !ok {
		return
	}

	article, err := s.db.GetArticle(r.Context(), articleID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if article == nil {
		s.errorResponse(w, http.StatusNotFound, "Article not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, article)
}

// handleApproveArticle marks an article approved for publication.
func (s *Server) handleApproveArticle(w http.ResponseWriter, r *http.Request) {
	s.setArticleStatus(w, r, db.ArticleStatusApproved)
}

// handleRejectArticle marks an article rejected.
func (s *Server) handleRejectArticle(w http.ResponseWriter, r *http.Request) {
	s.setArticleStatus(w, r, db.ArticleStatusRejected)
}

func (s *Server) setArticleStatus(w http.ResponseWriter, r *http.Request, status string) {
	articleID, ok := s.pathUUID(w, r, "id", "article ID")
	if !ok {
		return
	}

	updated, err := s.db.UpdateArticleStatus(r.Context(), articleID, status)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if !updated {
		s.errorResponse(w, http.StatusNotFound, "Article not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": status})
}
