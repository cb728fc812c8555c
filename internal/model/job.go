package model

import "time"

// JobStatus is the lifecycle state of a scan job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Active reports whether the job counts against the one-job-per-user rule.
func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobRunning
}

// JobPhase is the sub-state of a running job.
type JobPhase string

const (
	PhaseNone      JobPhase = ""
	PhaseContacts  JobPhase = "contacts"
	PhaseEmails    JobPhase = "emails"
	PhaseThemes    JobPhase = "themes"
	PhaseVault     JobPhase = "vault"
	PhaseCompleted JobPhase = "completed"
)

var phaseRank = map[JobPhase]int{
	PhaseNone:      0,
	PhaseContacts:  1,
	PhaseEmails:    2,
	PhaseThemes:    3,
	PhaseVault:     4,
	PhaseCompleted: 5,
}

// Rank orders phases; later phases rank higher.
func (p JobPhase) Rank() int {
	return phaseRank[p]
}

// Job is one run of the pipeline for a user.
type Job struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Status            JobStatus      `json:"status"`
	Phase             JobPhase       `json:"phase,omitempty"`
	ProgressPct       int            `json:"progress_pct"`
	EmailsProcessed   int            `json:"emails_processed"`
	EmailsTotal       *int           `json:"emails_total,omitempty"`
	ContactsProcessed int            `json:"contacts_processed"`
	AccountLabels     []AccountLabel `json:"account_labels"`
	QueueID           string         `json:"queue_id,omitempty"`
	RetryCount        int            `json:"retry_count"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// JobProgress is a progress checkpoint committed while a job runs.
type JobProgress struct {
	Phase             JobPhase
	ProgressPct       int
	EmailsProcessed   int
	EmailsTotal       *int
	ContactsProcessed int
}

// JobResults summarizes what a finished job produced.
type JobResults struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	ContactCount int       `json:"contacts"`
	MessageCount int       `json:"emails"`
	TagCount     int       `json:"tags"`
	VaultPath    string    `json:"vault_path"`
}
