package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType constants: the closed set of background workflows.
const (
	JobTypeCuration   = "curation"
	JobTypeGeneration = "generation"
	JobTypeSearch     = "search"
	JobTypeEmailSend  = "email_send"
)

// JobStatus constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// ValidJobType reports whether t is one of the known job types.
func ValidJobType(t string) bool {
	switch t {
	case JobTypeCuration, JobTypeGeneration, JobTypeSearch, JobTypeEmailSend:
		return true
	}
	return false
}

// TerminalStatus reports whether s is a terminal job status.
// Terminal jobs are immutable except for administrative deletion.
func TerminalStatus(s string) bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job represents one background workflow execution for a tenant.
type Job struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	CurrentStage    string          `json:"current_stage,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// JobFilters narrows ListJobs results. Zero values mean "no filter".
type JobFilters struct {
	TenantID *uuid.UUID
	Type     string
	Status   string
	Page     int // 1-based; 0 means first page
	Limit    int // 0 means default page size
}
