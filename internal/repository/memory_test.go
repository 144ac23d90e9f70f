package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/em1l4k/docflow/pkg/models"
)

func newTestDocument(id, owner string) *models.Document {
	return &models.Document{
		ID:      id,
		Title:   "title-" + id,
		Kind:    "report",
		Status:  models.DocumentStatusDraft,
		OwnerID: owner,
	}
}

func seedWorkflow(t *testing.T, s *Memory, docID string, approvers ...string) []models.WorkflowStep {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, newTestDocument(docID, "owner")))

	steps := make([]models.WorkflowStep, len(approvers))
	for i, a := range approvers {
		steps[i] = models.WorkflowStep{
			ID:         fmt.Sprintf("%s-step-%d", docID, i+1),
			StepOrder:  i + 1,
			ApproverID: a,
		}
	}
	require.NoError(t, s.BeginWorkflow(ctx, docID, steps, nil))
	return steps
}

func TestBeginWorkflowOnlyFromDraft(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedWorkflow(t, s, "doc", "ana")

	err := s.BeginWorkflow(ctx, "doc", []models.WorkflowStep{{ID: "again", StepOrder: 1, ApproverID: "ben"}}, nil)
	assert.ErrorIs(t, err, ErrNoMatch)

	err = s.BeginWorkflow(ctx, "ghost", nil, nil)
	assert.ErrorIs(t, err, ErrNoMatch)

	doc, err := s.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusInReview, doc.Status)
}

func TestBeginWorkflowEmptyChainApproves(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, newTestDocument("doc", "owner")))

	audit := &models.AuditEntry{ID: "a1", DocumentID: "doc", ActorID: "owner", Action: models.AuditActionApproved}
	require.NoError(t, s.BeginWorkflow(ctx, "doc", nil, audit))

	doc, err := s.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusApproved, doc.Status)

	history, err := s.History(ctx, "doc")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestCompleteStepConditions(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	steps := seedWorkflow(t, s, "doc", "ana", "ben")
	audit := func() *models.AuditEntry {
		return &models.AuditEntry{ID: "a", ActorID: "ana", Action: models.AuditActionApproved}
	}

	// wrong approver
	_, err := s.CompleteStep(ctx, StepTransition{StepID: steps[0].ID, ApproverID: "ben", To: models.StepStatusApproved}, audit())
	assert.ErrorIs(t, err, ErrNoMatch)

	// step 2 gated behind step 1
	_, err = s.CompleteStep(ctx, StepTransition{StepID: steps[1].ID, ApproverID: "ben", To: models.StepStatusApproved}, audit())
	assert.ErrorIs(t, err, ErrNoMatch)

	outcome, err := s.CompleteStep(ctx, StepTransition{StepID: steps[0].ID, ApproverID: "ana", To: models.StepStatusApproved}, audit())
	require.NoError(t, err)
	assert.False(t, outcome.Final)
	assert.Equal(t, models.DocumentStatusInReview, outcome.DocumentStatus)

	// already settled step cannot be completed twice
	_, err = s.CompleteStep(ctx, StepTransition{StepID: steps[0].ID, ApproverID: "ana", To: models.StepStatusApproved}, audit())
	assert.ErrorIs(t, err, ErrNoMatch)

	outcome, err = s.CompleteStep(ctx, StepTransition{StepID: steps[1].ID, ApproverID: "ben", To: models.StepStatusApproved}, audit())
	require.NoError(t, err)
	assert.True(t, outcome.Final)
	assert.Equal(t, models.DocumentStatusApproved, outcome.DocumentStatus)
}

func TestCompleteStepRejectSkipsPending(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	steps := seedWorkflow(t, s, "doc", "ana", "ben", "cleo")

	comment := "not this quarter"
	outcome, err := s.CompleteStep(ctx, StepTransition{
		StepID: steps[0].ID, ApproverID: "ana", To: models.StepStatusRejected, Comment: &comment,
	}, &models.AuditEntry{ID: "a", ActorID: "ana", Action: models.AuditActionRejected, Comment: &comment})
	require.NoError(t, err)
	assert.True(t, outcome.Final)
	assert.Equal(t, models.DocumentStatusRejected, outcome.DocumentStatus)

	chain, err := s.ListSteps(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRejected, chain[0].Status)
	assert.Equal(t, models.StepStatusSkipped, chain[1].Status)
	assert.Equal(t, models.StepStatusSkipped, chain[2].Status)
	require.NotNil(t, chain[1].CompletedAt)
}

func TestReadsReturnCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	steps := seedWorkflow(t, s, "doc", "ana")

	doc, err := s.GetDocument(ctx, "doc")
	require.NoError(t, err)
	doc.Status = models.DocumentStatusArchived

	again, err := s.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusInReview, again.Status)

	st, err := s.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	st.ApproverID = "mallory"

	again2, err := s.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", again2.ApproverID)
}

func TestReassignStep(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	steps := seedWorkflow(t, s, "doc", "ana")
	audit := &models.AuditEntry{ID: "a", DocumentID: "doc", ActorID: "ana", Action: models.AuditActionDelegated}

	err := s.ReassignStep(ctx, steps[0].ID, "ben", "cleo", audit)
	assert.ErrorIs(t, err, ErrNoMatch)

	require.NoError(t, s.ReassignStep(ctx, steps[0].ID, "ana", "ben", audit))

	st, err := s.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ben", st.ApproverID)

	// settle the step, then reassignment is off the table
	_, err = s.CompleteStep(ctx, StepTransition{StepID: steps[0].ID, ApproverID: "ben", To: models.StepStatusApproved},
		&models.AuditEntry{ID: "b", ActorID: "ben", Action: models.AuditActionApproved})
	require.NoError(t, err)

	err = s.ReassignStep(ctx, steps[0].ID, "ben", "cleo", audit)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestArchiveDocumentRequiresSettled(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	steps := seedWorkflow(t, s, "doc", "ana")
	audit := &models.AuditEntry{ID: "a", DocumentID: "doc", ActorID: "owner", Action: models.AuditActionArchived}

	err := s.ArchiveDocument(ctx, "doc", audit)
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = s.CompleteStep(ctx, StepTransition{StepID: steps[0].ID, ApproverID: "ana", To: models.StepStatusApproved},
		&models.AuditEntry{ID: "b", ActorID: "ana", Action: models.AuditActionApproved})
	require.NoError(t, err)

	require.NoError(t, s.ArchiveDocument(ctx, "doc", audit))

	doc, err := s.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusArchived, doc.Status)

	// archiving twice fails, archived is terminal
	err = s.ArchiveDocument(ctx, "doc", audit)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestEnsureFileDeduplicatesBySHA(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	first, err := s.EnsureFile(ctx, &models.FileRef{ID: "f1", SHA256: "abc", StorageKey: "k1", SizeBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, "f1", first)

	second, err := s.EnsureFile(ctx, &models.FileRef{ID: "f2", SHA256: "abc", StorageKey: "k1", SizeBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, "f1", second)

	other, err := s.EnsureFile(ctx, &models.FileRef{ID: "f3", SHA256: "def", StorageKey: "k2", SizeBytes: 20})
	require.NoError(t, err)
	assert.Equal(t, "f3", other)

	stats, err := s.StorageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, int64(30), stats.TotalSizeBytes)
}

func TestAddVersionNumbersSequentially(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateDocument(ctx, newTestDocument("doc", "owner")))
	_, err := s.EnsureFile(ctx, &models.FileRef{ID: "f1", SHA256: "abc"})
	require.NoError(t, err)

	no, err := s.AddVersion(ctx, &models.DocumentVersion{ID: "v1", DocumentID: "doc", FileID: "f1", AuthorID: "owner"})
	require.NoError(t, err)
	assert.Equal(t, 1, no)

	no, err = s.AddVersion(ctx, &models.DocumentVersion{ID: "v2", DocumentID: "doc", FileID: "f1", AuthorID: "owner"})
	require.NoError(t, err)
	assert.Equal(t, 2, no)

	doc, err := s.GetDocument(ctx, "doc")
	require.NoError(t, err)
	require.NotNil(t, doc.CurrentVersionID)
	assert.Equal(t, "v2", *doc.CurrentVersionID)

	_, err = s.AddVersion(ctx, &models.DocumentVersion{ID: "v3", DocumentID: "ghost", FileID: "f1", AuthorID: "owner"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchDocuments(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	for i, title := range []string{"Annual budget", "Budget addendum", "Travel policy"} {
		doc := newTestDocument(fmt.Sprintf("doc-%d", i), "owner")
		doc.Title = title
		require.NoError(t, s.CreateDocument(ctx, doc))
	}

	found, err := s.SearchDocuments(ctx, "budget", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.SearchDocuments(ctx, "budget", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestDeadlineWindows(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-2 * time.Hour)
	within := now.Add(6 * time.Hour)
	beyond := now.Add(48 * time.Hour)

	require.NoError(t, s.CreateDocument(ctx, newTestDocument("doc", "owner")))
	require.NoError(t, s.BeginWorkflow(ctx, "doc", []models.WorkflowStep{
		{ID: "s1", StepOrder: 1, ApproverID: "ana", Deadline: &past},
		{ID: "s2", StepOrder: 2, ApproverID: "ben", Deadline: &within},
		{ID: "s3", StepOrder: 3, ApproverID: "cleo", Deadline: &beyond},
	}, nil))

	overdue, err := s.Overdue(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "s1", overdue[0].StepID)

	approaching, err := s.Approaching(ctx, now, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, approaching, 1)
	assert.Equal(t, "s2", approaching[0].StepID)
}

func TestWorkflowStats(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	steps := seedWorkflow(t, s, "doc", "ana", "ben")

	_, err := s.CompleteStep(ctx, StepTransition{StepID: steps[0].ID, ApproverID: "ana", To: models.StepStatusApproved},
		&models.AuditEntry{ID: "a", ActorID: "ana", Action: models.AuditActionApproved})
	require.NoError(t, err)

	stats, err := s.WorkflowStats(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalWorkflows)
	assert.Equal(t, 1, stats.StepsByStatus[string(models.StepStatusApproved)])
	assert.Equal(t, 1, stats.StepsByStatus[string(models.StepStatusPending)])
}
