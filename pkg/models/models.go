// Package models defines the domain models for the document approval service
package models

import (
	"time"
)

// DocumentStatus represents the lifecycle state of a document
type DocumentStatus string

const (
	DocumentStatusDraft    DocumentStatus = "draft"
	DocumentStatusInReview DocumentStatus = "in_review"
	DocumentStatusApproved DocumentStatus = "approved"
	DocumentStatusRejected DocumentStatus = "rejected"
	DocumentStatusArchived DocumentStatus = "archived"
)

// Terminal reports whether a document in this status has finished review.
// Archived documents are terminal by definition.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentStatusApproved || s == DocumentStatusRejected || s == DocumentStatusArchived
}

// StepStatus represents the state of a single approval step
type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusApproved StepStatus = "approved"
	StepStatusRejected StepStatus = "rejected"
	StepStatusSkipped  StepStatus = "skipped"
)

// AuditAction represents the kind of action recorded in a document's history
type AuditAction string

const (
	AuditActionApproved  AuditAction = "approved"
	AuditActionRejected  AuditAction = "rejected"
	AuditActionCommented AuditAction = "commented"
	AuditActionDelegated AuditAction = "delegated"
	AuditActionArchived  AuditAction = "archived"
)

// Document represents one logical file lineage. Its status is mutated
// exclusively by the workflow engine.
type Document struct {
	ID               string         `json:"id" db:"id"`
	Title            string         `json:"title" db:"title"`
	Kind             string         `json:"kind" db:"kind"`
	Status           DocumentStatus `json:"status" db:"status"`
	OwnerID          string         `json:"owner_id" db:"owner_id"`
	CurrentVersionID *string        `json:"current_version_id,omitempty" db:"current_version_id"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// DocumentVersion represents one uploaded revision of a document
type DocumentVersion struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	FileID     string    `json:"file_id" db:"file_id"`
	VersionNo  int       `json:"version_no" db:"version_no"`
	AuthorID   string    `json:"author_id" db:"author_id"`
	Note       *string   `json:"note,omitempty" db:"note"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// FileRef is a content-addressed reference to a stored blob. The workflow
// engine never inspects the blob itself.
type FileRef struct {
	ID         string    `json:"id" db:"id"`
	StorageKey string    `json:"storage_key" db:"storage_key"`
	SHA256     string    `json:"sha256" db:"sha256"`
	MIME       string    `json:"mime" db:"mime"`
	Ext        string    `json:"ext" db:"ext"`
	SizeBytes  int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// WorkflowStep is one approval gate within a document's chain. Step orders
// form a contiguous 1-based sequence per document; steps are never deleted,
// only transitioned to a terminal status.
type WorkflowStep struct {
	ID          string     `json:"id" db:"id"`
	DocumentID  string     `json:"document_id" db:"document_id"`
	StepOrder   int        `json:"step_order" db:"step_order"`
	ApproverID  string     `json:"approver_id" db:"approver_id"`
	Status      StepStatus `json:"status" db:"status"`
	Deadline    *time.Time `json:"deadline,omitempty" db:"deadline"`
	Comment     *string    `json:"comment,omitempty" db:"comment"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// AuditEntry is a write-once record of an action taken on a document
type AuditEntry struct {
	ID         string      `json:"id" db:"id"`
	DocumentID string      `json:"document_id" db:"document_id"`
	ActorID    string      `json:"actor_id" db:"actor_id"`
	ActorName  string      `json:"actor_name,omitempty" db:"-"`
	Action     AuditAction `json:"action" db:"action"`
	Comment    *string     `json:"comment,omitempty" db:"comment"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// PendingApproval is a pending step joined with its document, as surfaced to
// an approver's work queue
type PendingApproval struct {
	StepID     string     `json:"step_id"`
	StepOrder  int        `json:"step_order"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	DocumentID string     `json:"document_id"`
	Title      string     `json:"title"`
	Kind       string     `json:"kind"`
	OwnerID    string     `json:"owner_id"`
	OwnerName  string     `json:"owner_name,omitempty"`
}

// DeadlineAlert is a pending step that is overdue or approaching its deadline
type DeadlineAlert struct {
	StepID     string    `json:"step_id"`
	StepOrder  int       `json:"step_order"`
	ApproverID string    `json:"approver_id"`
	Deadline   time.Time `json:"deadline"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	OwnerID    string    `json:"owner_id"`
}

// DocumentStats aggregates per-corpus document counters
type DocumentStats struct {
	TotalDocuments int            `json:"total_documents"`
	ByStatus       map[string]int `json:"by_status"`
	ByKind         map[string]int `json:"by_kind"`
}

// WorkflowStats aggregates approval-chain counters
type WorkflowStats struct {
	TotalWorkflows      int            `json:"total_workflows"`
	StepsByStatus       map[string]int `json:"steps_by_status"`
	AvgApprovalTimeSecs float64        `json:"avg_approval_time_secs"`
	OverdueSteps        int            `json:"overdue_steps"`
}

// StorageStats aggregates blob store usage
type StorageStats struct {
	TotalFiles     int   `json:"total_files"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
