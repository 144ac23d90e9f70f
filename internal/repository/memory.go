package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/em1l4k/docflow/pkg/models"
)

// Memory implements Store entirely in memory. It has no native transaction
// isolation, so a single mutex serializes every mutation; this subsumes the
// per-step locking the conditional transitions require. All reads return
// copies so callers cannot mutate shared state.
type Memory struct {
	mux       sync.Mutex
	documents map[string]*models.Document
	steps     map[string]*models.WorkflowStep
	versions  map[string]*models.DocumentVersion
	files     map[string]*models.FileRef
	fileBySHA map[string]string
	audits    []*models.AuditEntry
	now       func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]*models.Document),
		steps:     make(map[string]*models.WorkflowStep),
		versions:  make(map[string]*models.DocumentVersion),
		files:     make(map[string]*models.FileRef),
		fileBySHA: make(map[string]string),
		now:       time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (s *Memory) EnsureSchema(ctx context.Context) error {
	return nil
}

func cloneDocument(d *models.Document) *models.Document {
	cp := *d
	if d.CurrentVersionID != nil {
		v := *d.CurrentVersionID
		cp.CurrentVersionID = &v
	}
	return &cp
}

func cloneStep(st *models.WorkflowStep) *models.WorkflowStep {
	cp := *st
	if st.Deadline != nil {
		d := *st.Deadline
		cp.Deadline = &d
	}
	if st.Comment != nil {
		c := *st.Comment
		cp.Comment = &c
	}
	if st.CompletedAt != nil {
		t := *st.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneAudit(e *models.AuditEntry) *models.AuditEntry {
	cp := *e
	if e.Comment != nil {
		c := *e.Comment
		cp.Comment = &c
	}
	return &cp
}

func (s *Memory) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	now := s.now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.documents[doc.ID] = cloneDocument(doc)
	return nil
}

func (s *Memory) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *Memory) ListDocumentsByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Document, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var out []*models.Document
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) SearchDocuments(ctx context.Context, query string, limit int) ([]*models.Document, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	needle := strings.ToLower(query)
	var out []*models.Document
	for _, doc := range s.documents {
		if strings.Contains(strings.ToLower(doc.Title), needle) {
			out = append(out, cloneDocument(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) EnsureFile(ctx context.Context, file *models.FileRef) (string, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if id, ok := s.fileBySHA[file.SHA256]; ok {
		return id, nil
	}
	cp := *file
	cp.CreatedAt = s.now()
	s.files[cp.ID] = &cp
	s.fileBySHA[cp.SHA256] = cp.ID
	return cp.ID, nil
}

func (s *Memory) GetFile(ctx context.Context, id string) (*models.FileRef, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	f, ok := s.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *Memory) AddVersion(ctx context.Context, version *models.DocumentVersion) (int, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	doc, ok := s.documents[version.DocumentID]
	if !ok {
		return 0, ErrNotFound
	}

	next := 1
	for _, v := range s.versions {
		if v.DocumentID == version.DocumentID && v.VersionNo >= next {
			next = v.VersionNo + 1
		}
	}

	cp := *version
	cp.VersionNo = next
	cp.CreatedAt = s.now()
	s.versions[cp.ID] = &cp

	id := cp.ID
	doc.CurrentVersionID = &id
	doc.UpdatedAt = s.now()

	version.VersionNo = next
	return next, nil
}

func (s *Memory) BeginWorkflow(ctx context.Context, documentID string, steps []models.WorkflowStep, selfAudit *models.AuditEntry) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	doc, ok := s.documents[documentID]
	if !ok || doc.Status != models.DocumentStatusDraft {
		return ErrNoMatch
	}

	now := s.now()
	if len(steps) == 0 {
		doc.Status = models.DocumentStatusApproved
		doc.UpdatedAt = now
		if selfAudit != nil {
			s.appendAuditLocked(selfAudit)
		}
		return nil
	}

	doc.Status = models.DocumentStatusInReview
	doc.UpdatedAt = now
	for i := range steps {
		st := steps[i]
		st.DocumentID = documentID
		st.Status = models.StepStatusPending
		st.CreatedAt = now
		s.steps[st.ID] = cloneStep(&st)
	}
	return nil
}

func (s *Memory) appendAuditLocked(entry *models.AuditEntry) {
	entry.CreatedAt = s.now()
	s.audits = append(s.audits, cloneAudit(entry))
}

// priorStepsApprovedLocked implements the sequential gating predicate.
func (s *Memory) priorStepsApprovedLocked(st *models.WorkflowStep) bool {
	for _, other := range s.steps {
		if other.DocumentID == st.DocumentID &&
			other.StepOrder < st.StepOrder &&
			other.Status != models.StepStatusApproved {
			return false
		}
	}
	return true
}

func (s *Memory) CompleteStep(ctx context.Context, tr StepTransition, audit *models.AuditEntry) (*StepOutcome, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	st, ok := s.steps[tr.StepID]
	if !ok || st.ApproverID != tr.ApproverID || st.Status != models.StepStatusPending ||
		!s.priorStepsApprovedLocked(st) {
		return nil, ErrNoMatch
	}

	now := s.now()
	st.Status = tr.To
	st.Comment = tr.Comment
	st.CompletedAt = &now

	outcome := &StepOutcome{DocumentID: st.DocumentID, StepOrder: st.StepOrder}
	audit.DocumentID = st.DocumentID
	s.appendAuditLocked(audit)

	doc := s.documents[st.DocumentID]

	switch tr.To {
	case models.StepStatusApproved:
		hasLater := false
		for _, other := range s.steps {
			if other.DocumentID == st.DocumentID && other.StepOrder > st.StepOrder {
				hasLater = true
				break
			}
		}
		if hasLater {
			outcome.DocumentStatus = models.DocumentStatusInReview
		} else {
			doc.Status = models.DocumentStatusApproved
			doc.UpdatedAt = now
			outcome.DocumentStatus = models.DocumentStatusApproved
			outcome.Final = true
		}

	case models.StepStatusRejected:
		for _, other := range s.steps {
			if other.DocumentID == st.DocumentID && other.Status == models.StepStatusPending {
				other.Status = models.StepStatusSkipped
				completed := now
				other.CompletedAt = &completed
			}
		}
		doc.Status = models.DocumentStatusRejected
		doc.UpdatedAt = now
		outcome.DocumentStatus = models.DocumentStatusRejected
		outcome.Final = true
	}

	return outcome, nil
}

func (s *Memory) ReassignStep(ctx context.Context, stepID, fromApprover, toApprover string, audit *models.AuditEntry) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	st, ok := s.steps[stepID]
	if !ok || st.ApproverID != fromApprover || st.Status != models.StepStatusPending {
		return ErrNoMatch
	}
	st.ApproverID = toApprover
	s.appendAuditLocked(audit)
	return nil
}

func (s *Memory) ArchiveDocument(ctx context.Context, documentID string, audit *models.AuditEntry) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return ErrNoMatch
	}
	if doc.Status != models.DocumentStatusApproved && doc.Status != models.DocumentStatusRejected {
		return ErrNoMatch
	}
	doc.Status = models.DocumentStatusArchived
	doc.UpdatedAt = s.now()
	s.appendAuditLocked(audit)
	return nil
}

func (s *Memory) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.appendAuditLocked(entry)
	return nil
}

func (s *Memory) GetStep(ctx context.Context, id string) (*models.WorkflowStep, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	st, ok := s.steps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneStep(st), nil
}

func (s *Memory) ListSteps(ctx context.Context, documentID string) ([]*models.WorkflowStep, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var out []*models.WorkflowStep
	for _, st := range s.steps {
		if st.DocumentID == documentID {
			out = append(out, cloneStep(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (s *Memory) PendingFor(ctx context.Context, approverID string) ([]*models.PendingApproval, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var out []*models.PendingApproval
	for _, st := range s.steps {
		if st.ApproverID != approverID || st.Status != models.StepStatusPending {
			continue
		}
		doc, ok := s.documents[st.DocumentID]
		if !ok {
			continue
		}
		p := &models.PendingApproval{
			StepID:     st.ID,
			StepOrder:  st.StepOrder,
			CreatedAt:  st.CreatedAt,
			DocumentID: doc.ID,
			Title:      doc.Title,
			Kind:       doc.Kind,
			OwnerID:    doc.OwnerID,
		}
		if st.Deadline != nil {
			d := *st.Deadline
			p.Deadline = &d
		}
		out = append(out, p)
	}

	// deadline ascending, steps without a deadline last, then creation time
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Deadline == nil && b.Deadline == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.Deadline == nil:
			return false
		case b.Deadline == nil:
			return true
		case !a.Deadline.Equal(*b.Deadline):
			return a.Deadline.Before(*b.Deadline)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

func (s *Memory) History(ctx context.Context, documentID string) ([]*models.AuditEntry, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	var out []*models.AuditEntry
	for _, e := range s.audits {
		if e.DocumentID == documentID {
			out = append(out, cloneAudit(e))
		}
	}
	return out, nil
}

func (s *Memory) deadlineAlertsLocked(match func(deadline time.Time) bool) []*models.DeadlineAlert {
	var out []*models.DeadlineAlert
	for _, st := range s.steps {
		if st.Status != models.StepStatusPending || st.Deadline == nil || !match(*st.Deadline) {
			continue
		}
		doc, ok := s.documents[st.DocumentID]
		if !ok {
			continue
		}
		out = append(out, &models.DeadlineAlert{
			StepID:     st.ID,
			StepOrder:  st.StepOrder,
			ApproverID: st.ApproverID,
			Deadline:   *st.Deadline,
			DocumentID: doc.ID,
			Title:      doc.Title,
			OwnerID:    doc.OwnerID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out
}

func (s *Memory) Overdue(ctx context.Context, now time.Time) ([]*models.DeadlineAlert, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.deadlineAlertsLocked(func(d time.Time) bool { return d.Before(now) }), nil
}

func (s *Memory) Approaching(ctx context.Context, now time.Time, window time.Duration) ([]*models.DeadlineAlert, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	end := now.Add(window)
	return s.deadlineAlertsLocked(func(d time.Time) bool {
		return !d.Before(now) && !d.After(end)
	}), nil
}

func (s *Memory) DocumentStats(ctx context.Context) (*models.DocumentStats, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	stats := &models.DocumentStats{
		ByStatus: make(map[string]int),
		ByKind:   make(map[string]int),
	}
	for _, doc := range s.documents {
		stats.TotalDocuments++
		stats.ByStatus[string(doc.Status)]++
		stats.ByKind[doc.Kind]++
	}
	return stats, nil
}

func (s *Memory) WorkflowStats(ctx context.Context, now time.Time) (*models.WorkflowStats, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	stats := &models.WorkflowStats{StepsByStatus: make(map[string]int)}
	docs := make(map[string]struct{})
	var completed int
	var totalSecs float64
	for _, st := range s.steps {
		docs[st.DocumentID] = struct{}{}
		stats.StepsByStatus[string(st.Status)]++
		if st.CompletedAt != nil {
			completed++
			totalSecs += st.CompletedAt.Sub(st.CreatedAt).Seconds()
		}
		if st.Status == models.StepStatusPending && st.Deadline != nil && st.Deadline.Before(now) {
			stats.OverdueSteps++
		}
	}
	stats.TotalWorkflows = len(docs)
	if completed > 0 {
		stats.AvgApprovalTimeSecs = totalSecs / float64(completed)
	}
	return stats, nil
}

func (s *Memory) StorageStats(ctx context.Context) (*models.StorageStats, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	stats := &models.StorageStats{}
	for _, f := range s.files {
		stats.TotalFiles++
		stats.TotalSizeBytes += f.SizeBytes
	}
	return stats, nil
}
