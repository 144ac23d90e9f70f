// Package repository defines the persistent store contract for the approval
// service and its Postgres and in-memory implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/em1l4k/docflow/pkg/models"
)

var (
	// ErrNotFound is returned when a document, step, version or file does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoMatch is returned by conditional updates that matched no row:
	// the target exists but is not in the required state. This is an
	// expected race outcome, not a failure of the store.
	ErrNoMatch = errors.New("no matching row")

	// ErrStoreUnavailable wraps transport failures to the persistent
	// store; the operation did not commit and is safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// StepTransition describes one atomic approve/reject of a workflow step. The
// store executes the conditional step update, the audit insert and any
// document status change in a single transaction.
type StepTransition struct {
	StepID     string
	ApproverID string
	To         models.StepStatus // StepStatusApproved or StepStatusRejected
	Comment    *string
}

// StepOutcome reports what a committed StepTransition changed.
type StepOutcome struct {
	DocumentID     string
	StepOrder      int
	DocumentStatus models.DocumentStatus
	Final          bool // the transition settled the whole document
}

// Store is the system of record for documents, workflow steps and the audit
// trail. Every method maps to at most one transaction.
type Store interface {
	// EnsureSchema creates the tables if they do not exist.
	EnsureSchema(ctx context.Context) error

	// Documents.
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Document, error)
	SearchDocuments(ctx context.Context, query string, limit int) ([]*models.Document, error)

	// Files and versions.
	EnsureFile(ctx context.Context, file *models.FileRef) (string, error)
	GetFile(ctx context.Context, id string) (*models.FileRef, error)
	AddVersion(ctx context.Context, version *models.DocumentVersion) (int, error)

	// BeginWorkflow inserts the step chain and moves the document from
	// draft to in_review in one transaction. An empty chain self-approves
	// the document immediately, recording selfAudit. Returns ErrNoMatch
	// when the document is not in draft.
	BeginWorkflow(ctx context.Context, documentID string, steps []models.WorkflowStep, selfAudit *models.AuditEntry) error

	// CompleteStep performs the atomic conditional step transition. The
	// step must be pending, assigned to ApproverID, and actionable: every
	// lower-order step of the same document already approved. Exactly one
	// of two concurrent calls for the same step succeeds; the other gets
	// ErrNoMatch. Approving the highest-order step or rejecting any step
	// also settles the document and, for rejection, skips the remaining
	// pending steps. The audit entry commits with the transition.
	CompleteStep(ctx context.Context, tr StepTransition, audit *models.AuditEntry) (*StepOutcome, error)

	// ReassignStep moves a still-pending step to a new approver, recording
	// the audit entry in the same transaction. Returns ErrNoMatch when the
	// step is no longer pending or not assigned to fromApprover.
	ReassignStep(ctx context.Context, stepID, fromApprover, toApprover string, audit *models.AuditEntry) error

	// ArchiveDocument moves an approved or rejected document to archived,
	// recording the audit entry in the same transaction. Returns
	// ErrNoMatch when the document is in any other state.
	ArchiveDocument(ctx context.Context, documentID string, audit *models.AuditEntry) error

	// AppendAudit records a standalone audit entry (comments).
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error

	// Queries.
	GetStep(ctx context.Context, id string) (*models.WorkflowStep, error)
	ListSteps(ctx context.Context, documentID string) ([]*models.WorkflowStep, error)
	PendingFor(ctx context.Context, approverID string) ([]*models.PendingApproval, error)
	History(ctx context.Context, documentID string) ([]*models.AuditEntry, error)
	Overdue(ctx context.Context, now time.Time) ([]*models.DeadlineAlert, error)
	Approaching(ctx context.Context, now time.Time, window time.Duration) ([]*models.DeadlineAlert, error)

	// Aggregates for the statistics surface.
	DocumentStats(ctx context.Context) (*models.DocumentStats, error)
	WorkflowStats(ctx context.Context, now time.Time) (*models.WorkflowStats, error)
	StorageStats(ctx context.Context) (*models.StorageStats, error)
}
