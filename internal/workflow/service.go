// Package workflow implements the document approval state machine. It is the
// only component that mutates document and step status; the permission
// directory gates every mutating operation, the store serializes concurrent
// transitions, and notifications are dispatched only after commit.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/em1l4k/docflow/internal/logging"
	"github.com/em1l4k/docflow/internal/rbac"
	"github.com/em1l4k/docflow/internal/repository"
	"github.com/em1l4k/docflow/pkg/models"
)

// Notifier delivers a best-effort push message to one actor. Failures are
// logged and swallowed, never surfaced to the caller.
type Notifier interface {
	Notify(ctx context.Context, identity, message string) error
}

// Effect is a notification produced by a committed transition and executed
// afterwards by the dispatcher.
type Effect struct {
	Recipient string
	Message   string
}

// Outcome reports the result of a committed approve/reject.
type Outcome struct {
	StepID         string                `json:"step_id"`
	DocumentID     string                `json:"document_id"`
	StepOrder      int                   `json:"step_order"`
	DocumentStatus models.DocumentStatus `json:"document_status"`
	Final          bool                  `json:"final"`
}

// Service is the approval workflow engine.
type Service struct {
	store    repository.Store
	dir      *rbac.Directory
	notifier Notifier
	logger   *logging.Logger
}

// NewService creates a workflow Service. notifier may be nil, in which case
// no notifications are sent.
func NewService(store repository.Store, dir *rbac.Directory, notifier Notifier, logger *logging.Logger) *Service {
	return &Service{
		store:    store,
		dir:      dir,
		notifier: notifier,
		logger:   logger,
	}
}

func newAudit(documentID, actorID string, action models.AuditAction, comment *string) *models.AuditEntry {
	return &models.AuditEntry{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		ActorID:    actorID,
		Action:     action,
		Comment:    comment,
	}
}

// dispatch executes notification effects after the transaction has
// committed. Delivery is fire-and-forget.
func (s *Service) dispatch(ctx context.Context, effects []Effect) {
	if s.notifier == nil {
		return
	}
	for _, e := range effects {
		if err := s.notifier.Notify(ctx, e.Recipient, e.Message); err != nil {
			s.logger.Warn("notification failed", "recipient", e.Recipient, "error", err)
		}
	}
}

// authorize resolves the actor and checks a single permission.
func (s *Service) authorize(actorID string, perm rbac.Permission) (*rbac.ActorEntry, error) {
	entry, ok := s.dir.Resolve(actorID)
	if !ok {
		s.logger.Debug("actor not in roster or inactive", "actor", actorID)
		return nil, ErrPermissionDenied
	}
	if !rbac.HasPermission(entry, perm) {
		s.logger.Debug("actor lacks permission", "actor", actorID, "permission", perm)
		return nil, ErrPermissionDenied
	}
	return entry, nil
}

// CreateDocument registers a new document in draft status.
func (s *Service) CreateDocument(ctx context.Context, title, kind, ownerID string) (*models.Document, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if _, err := s.authorize(ownerID, rbac.PermUploadDocuments); err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:      uuid.New().String(),
		Title:   title,
		Kind:    kind,
		Status:  models.DocumentStatusDraft,
		OwnerID: ownerID,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("document created", "document", doc.ID, "owner", ownerID)
	return doc, nil
}

// AddVersion attaches an uploaded file as the next version of a document.
// Documents whose review has settled no longer accept versions.
func (s *Service) AddVersion(ctx context.Context, documentID, fileID, authorID string, note *string) (*models.DocumentVersion, error) {
	if _, err := s.authorize(authorID, rbac.PermUploadDocuments); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status.Terminal() {
		return nil, fmt.Errorf("%w: document review is settled", ErrInvalidTransition)
	}
	if _, err := s.store.GetFile(ctx, fileID); err != nil {
		return nil, err
	}

	version := &models.DocumentVersion{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		FileID:     fileID,
		AuthorID:   authorID,
		Note:       note,
	}
	if _, err := s.store.AddVersion(ctx, version); err != nil {
		return nil, err
	}
	return version, nil
}

// CreateWorkflow submits a draft document for review with an ordered approver
// chain and optional per-step deadlines (deadlines may be shorter than the
// chain; missing entries mean no deadline). An empty chain self-approves the
// document and requires the manage_workflows permission.
func (s *Service) CreateWorkflow(ctx context.Context, documentID, actorID string, approvers []string, deadlines []*time.Time) ([]*models.WorkflowStep, error) {
	entry, ok := s.dir.Resolve(actorID)
	if !ok {
		return nil, ErrPermissionDenied
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != actorID && !rbac.HasPermission(entry, rbac.PermManageWorkflows) {
		s.logger.Debug("actor is neither owner nor workflow manager", "actor", actorID, "document", documentID)
		return nil, ErrPermissionDenied
	}

	if len(approvers) == 0 {
		if !rbac.HasPermission(entry, rbac.PermManageWorkflows) {
			s.logger.Debug("self-approval requires manage_workflows", "actor", actorID)
			return nil, ErrPermissionDenied
		}
		audit := newAudit(documentID, actorID, models.AuditActionApproved, nil)
		if err := s.store.BeginWorkflow(ctx, documentID, nil, audit); err != nil {
			if errors.Is(err, repository.ErrNoMatch) {
				return nil, fmt.Errorf("%w: document not in draft", ErrInvalidTransition)
			}
			return nil, err
		}
		s.logger.Info("document self-approved", "document", documentID, "actor", actorID)
		s.dispatch(ctx, []Effect{{
			Recipient: doc.OwnerID,
			Message:   fmt.Sprintf("Document %q approved without review", doc.Title),
		}})
		// non-nil so the transport renders an empty JSON array, not null
		return []*models.WorkflowStep{}, nil
	}

	steps := make([]models.WorkflowStep, 0, len(approvers))
	for i, approverID := range approvers {
		if approverID == "" {
			return nil, fmt.Errorf("%w: empty approver identity at position %d", ErrInvalidInput, i+1)
		}
		approver, ok := s.dir.Resolve(approverID)
		if !ok || !rbac.HasPermission(approver, rbac.PermApproveDocuments) {
			return nil, fmt.Errorf("%w: %s cannot approve documents", ErrInvalidInput, approverID)
		}
		step := models.WorkflowStep{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			StepOrder:  i + 1,
			ApproverID: approverID,
			Status:     models.StepStatusPending,
		}
		if i < len(deadlines) && deadlines[i] != nil {
			d := *deadlines[i]
			step.Deadline = &d
		}
		steps = append(steps, step)
	}

	if err := s.store.BeginWorkflow(ctx, documentID, steps, nil); err != nil {
		if errors.Is(err, repository.ErrNoMatch) {
			return nil, fmt.Errorf("%w: document not in draft", ErrInvalidTransition)
		}
		return nil, err
	}

	s.logger.Info("workflow created", "document", documentID, "steps", len(steps))

	out := make([]*models.WorkflowStep, len(steps))
	for i := range steps {
		st := steps[i]
		out[i] = &st
	}
	return out, nil
}

// completeStep is the shared approve/reject path: authorize, fetch the step,
// run the conditional transition, then compute post-commit effects.
func (s *Service) completeStep(ctx context.Context, stepID, actorID string, to models.StepStatus, perm rbac.Permission, action models.AuditAction, comment *string) (*Outcome, error) {
	if _, err := s.authorize(actorID, perm); err != nil {
		return nil, err
	}

	step, err := s.store.GetStep(ctx, stepID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("actor targeted nonexistent step", "actor", actorID, "step", stepID)
		return nil, fmt.Errorf("%w: cannot act on this step", ErrPermissionDenied)
	}
	if err != nil {
		return nil, err
	}
	if step.ApproverID != actorID {
		s.logger.Info("actor is not the assigned approver", "actor", actorID, "step", stepID, "assignee", step.ApproverID)
		return nil, fmt.Errorf("%w: cannot act on this step", ErrPermissionDenied)
	}

	audit := newAudit(step.DocumentID, actorID, action, comment)
	result, err := s.store.CompleteStep(ctx, repository.StepTransition{
		StepID:     stepID,
		ApproverID: actorID,
		To:         to,
		Comment:    comment,
	}, audit)
	if errors.Is(err, repository.ErrNoMatch) {
		return nil, fmt.Errorf("%w: step not actionable", ErrInvalidTransition)
	}
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		StepID:         stepID,
		DocumentID:     result.DocumentID,
		StepOrder:      result.StepOrder,
		DocumentStatus: result.DocumentStatus,
		Final:          result.Final,
	}
	s.logger.Info("step completed",
		"step", stepID, "document", result.DocumentID, "action", action,
		"actor", actorID, "document_status", result.DocumentStatus)

	s.dispatch(ctx, s.settlementEffects(ctx, outcome, actorID, to, comment))
	return outcome, nil
}

// settlementEffects builds the owner notifications for a committed
// transition: approval notifies only when the document settles, rejection
// notifies unconditionally.
func (s *Service) settlementEffects(ctx context.Context, outcome *Outcome, actorID string, to models.StepStatus, comment *string) []Effect {
	if to == models.StepStatusApproved && !outcome.Final {
		return nil
	}

	doc, err := s.store.GetDocument(ctx, outcome.DocumentID)
	if err != nil {
		s.logger.Warn("cannot load document for notification", "document", outcome.DocumentID, "error", err)
		return nil
	}
	actorName := s.dir.DisplayName(actorID)

	var message string
	if to == models.StepStatusApproved {
		message = fmt.Sprintf("Document %q fully approved (last sign-off by %s)", doc.Title, actorName)
	} else {
		message = fmt.Sprintf("Document %q rejected by %s", doc.Title, actorName)
		if comment != nil && *comment != "" {
			message += ": " + *comment
		}
	}
	return []Effect{{Recipient: doc.OwnerID, Message: message}}
}

// Approve transitions the identified pending step to approved. The actor
// must hold the approve permission and be the step's assigned approver.
func (s *Service) Approve(ctx context.Context, stepID, actorID string, comment *string) (*Outcome, error) {
	return s.completeStep(ctx, stepID, actorID,
		models.StepStatusApproved, rbac.PermApproveDocuments, models.AuditActionApproved, comment)
}

// Reject transitions the identified pending step to rejected, terminating
// the whole chain. A comment is mandatory.
func (s *Service) Reject(ctx context.Context, stepID, actorID, comment string) (*Outcome, error) {
	if comment == "" {
		return nil, fmt.Errorf("%w: rejection requires a comment", ErrInvalidInput)
	}
	return s.completeStep(ctx, stepID, actorID,
		models.StepStatusRejected, rbac.PermRejectDocuments, models.AuditActionRejected, &comment)
}

// Delegate reassigns a still-pending step from its current approver to
// another actor who must be able to approve documents.
func (s *Service) Delegate(ctx context.Context, stepID, fromID, toID string, comment *string) error {
	if _, err := s.authorize(fromID, rbac.PermDelegateApproval); err != nil {
		return err
	}

	target, ok := s.dir.Resolve(toID)
	if !ok || !rbac.HasPermission(target, rbac.PermApproveDocuments) {
		return fmt.Errorf("%w: %s cannot approve documents", ErrInvalidInput, toID)
	}

	step, err := s.store.GetStep(ctx, stepID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("actor targeted nonexistent step", "actor", fromID, "step", stepID)
		return fmt.Errorf("%w: cannot act on this step", ErrPermissionDenied)
	}
	if err != nil {
		return err
	}
	if step.ApproverID != fromID {
		s.logger.Info("actor is not the assigned approver", "actor", fromID, "step", stepID, "assignee", step.ApproverID)
		return fmt.Errorf("%w: cannot act on this step", ErrPermissionDenied)
	}

	audit := newAudit(step.DocumentID, fromID, models.AuditActionDelegated, comment)
	err = s.store.ReassignStep(ctx, stepID, fromID, toID, audit)
	if errors.Is(err, repository.ErrNoMatch) {
		return fmt.Errorf("%w: step not actionable", ErrInvalidTransition)
	}
	if err != nil {
		return err
	}

	s.logger.Info("step delegated", "step", stepID, "from", fromID, "to", toID)

	doc, err := s.store.GetDocument(ctx, step.DocumentID)
	if err == nil {
		s.dispatch(ctx, []Effect{{
			Recipient: toID,
			Message:   fmt.Sprintf("Approval of %q was delegated to you by %s", doc.Title, s.dir.DisplayName(fromID)),
		}})
	}
	return nil
}

// Archive soft-deletes a settled document. Only the owner or a workflow
// manager may archive; documents are never physically removed.
func (s *Service) Archive(ctx context.Context, documentID, actorID string) error {
	entry, ok := s.dir.Resolve(actorID)
	if !ok {
		return ErrPermissionDenied
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID != actorID && !rbac.HasPermission(entry, rbac.PermManageWorkflows) {
		s.logger.Debug("actor may not archive", "actor", actorID, "document", documentID)
		return ErrPermissionDenied
	}

	audit := newAudit(documentID, actorID, models.AuditActionArchived, nil)
	err = s.store.ArchiveDocument(ctx, documentID, audit)
	if errors.Is(err, repository.ErrNoMatch) {
		return fmt.Errorf("%w: document not settled", ErrInvalidTransition)
	}
	if err != nil {
		return err
	}
	s.logger.Info("document archived", "document", documentID, "actor", actorID)
	return nil
}

// Comment appends a commented audit entry without changing any status.
func (s *Service) Comment(ctx context.Context, documentID, actorID, text string) error {
	if text == "" {
		return fmt.Errorf("%w: comment text required", ErrInvalidInput)
	}
	if _, err := s.authorize(actorID, rbac.PermViewDocuments); err != nil {
		return err
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return err
	}
	return s.store.AppendAudit(ctx, newAudit(documentID, actorID, models.AuditActionCommented, &text))
}

// PendingFor returns the actor's approval queue, deadline ascending with
// undeadlined steps last, owner names resolved via the directory.
func (s *Service) PendingFor(ctx context.Context, actorID string) ([]*models.PendingApproval, error) {
	pending, err := s.store.PendingFor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		p.OwnerName = s.dir.DisplayName(p.OwnerID)
	}
	return pending, nil
}

// History returns the full ordered audit trail for a document with actor
// identities resolved to display names.
func (s *Service) History(ctx context.Context, documentID string) ([]*models.AuditEntry, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	entries, err := s.store.History(ctx, documentID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		e.ActorName = s.dir.DisplayName(e.ActorID)
	}
	return entries, nil
}

// Overdue returns pending steps whose deadline has passed.
func (s *Service) Overdue(ctx context.Context, now time.Time) ([]*models.DeadlineAlert, error) {
	return s.store.Overdue(ctx, now)
}

// Approaching returns pending steps whose deadline falls within the window.
func (s *Service) Approaching(ctx context.Context, now time.Time, window time.Duration) ([]*models.DeadlineAlert, error) {
	return s.store.Approaching(ctx, now, window)
}

// Steps returns a document's full step chain in order.
func (s *Service) Steps(ctx context.Context, documentID string) ([]*models.WorkflowStep, error) {
	return s.store.ListSteps(ctx, documentID)
}

// Document returns one document.
func (s *Service) Document(ctx context.Context, documentID string) (*models.Document, error) {
	return s.store.GetDocument(ctx, documentID)
}
