package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/newsletter-curator/internal/jobs"
)

// HTTPStatus returns the appropriate HTTP status code for an orchestrator error
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotActive), errors.Is(err, jobs.ErrNotTerminal), errors.Is(err, jobs.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrUnknownJobType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
