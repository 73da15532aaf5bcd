package models

import (
	"context"
	"errors"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ScanRun is the audit record of one persisted sweep
type ScanRun struct {
	ID              int64      `json:"id" db:"id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	Trigger         string     `json:"trigger" db:"triggered_by"` // cli, cron, api
	Total           int        `json:"total" db:"total"`
	Scanned         int        `json:"scanned" db:"scanned"`
	DuplicatesFound int        `json:"duplicates_found" db:"duplicates_found"`
	FailedCount     int        `json:"failed_count" db:"failed_count"`
	SkippedCount    int        `json:"skipped_count" db:"skipped_count"`
	ErrorMessage    string     `json:"error_message" db:"error_message"`
}

// Finish copies sweep totals onto the run and closes it
func (r *ScanRun) Finish(res *ScanResult, err error) {
	now := time.Now()
	r.FinishedAt = &now
	r.Status = RunStatusCompleted
	if res != nil {
		r.Total = res.Total
		r.Scanned = res.Scanned
		r.DuplicatesFound = res.DuplicatesFound
		r.FailedCount = len(res.Failed)
		r.SkippedCount = len(res.Skipped)
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.Status = RunStatusCancelled
		r.ErrorMessage = err.Error()
	default:
		r.Status = RunStatusFailed
		r.ErrorMessage = err.Error()
	}
}
