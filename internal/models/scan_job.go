package models

import (
	"time"
)

// ScanStatus represents the lifecycle state of a scan job.
//
// Transitions: Queued -> Processing -> {Completed, Failed}.
// A process shutdown leaves the job in Processing so it can be resumed from
// its checkpoint on the next startup; only a scan-duration timeout or a
// caller-initiated cancellation moves a Processing job to Failed.
type ScanStatus string

const (
	ScanStatusQueued     ScanStatus = "queued"
	ScanStatusProcessing ScanStatus = "processing"
	ScanStatusCompleted  ScanStatus = "completed"
	ScanStatusFailed     ScanStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed
}

// ScanJob represents one website scan through its whole lifecycle.
// The job is owned exclusively by the scheduler/orchestrator until it reaches
// a terminal state; only the component currently responsible for its status
// mutates it.
type ScanJob struct {
	ID          string     `json:"id"`
	TargetURL   string     `json:"target_url"`
	NotifyEmail string     `json:"notify_email,omitempty"`
	Status      ScanStatus `json:"status"`

	// QueuePosition is the 1-based position among queued jobs, recomputed by
	// the aging pass. Zero once the job leaves the queue.
	QueuePosition int `json:"queue_position"`
	// Priority is the fairness score; lower dequeues sooner.
	// score = submissionCount * fairnessSlotTicks + createdAtTicks - agingReduction
	Priority int64 `json:"priority"`
	// SubmitterIP is the address the scan was submitted from, used for
	// fairness slots and the post-completion cooldown window.
	SubmitterIP string `json:"submitter_ip"`
	// SubmissionCount is the number of scans this IP had submitted before
	// this one, snapshot at submission time.
	SubmissionCount int `json:"submission_count"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains a concise, user-friendly description of why the job
	// failed. Only populated when status is failed.
	Error string `json:"error,omitempty"`

	PagesScanned        int  `json:"pages_scanned"`
	PagesDiscovered     int  `json:"pages_discovered"`
	NonConformingImages int  `json:"non_conforming_images"`
	ReachedPageLimit    bool `json:"reached_page_limit"`
}

// ScanResult is the finalized outcome handed to reporting and notification
// collaborators. They never see crawl internals.
type ScanResult struct {
	ScanID              string             `json:"scan_id"`
	TargetURL           string             `json:"target_url"`
	PagesScanned        int                `json:"pages_scanned"`
	PagesDiscovered     int                `json:"pages_discovered"`
	Images              []*DiscoveredImage `json:"images"`
	NonConformingImages int                `json:"non_conforming_images"`
	TotalBytes          int64              `json:"total_bytes"`
	EstimatedSavings    int64              `json:"estimated_savings"`
	Duration            time.Duration      `json:"duration"`
	ReachedPageLimit    bool               `json:"reached_page_limit"`
}
