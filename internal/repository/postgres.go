package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/em1l4k/docflow/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is the PostgreSQL implementation of Store. Database transactions
// are the serialization point for concurrent approve/reject calls; no
// in-process locking is used.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a Postgres store over the given pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

// EnsureSchema creates the tables if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return storeErr("ensure schema", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

func (s *Postgres) CreateDocument(ctx context.Context, doc *models.Document) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO documents (id, title, kind, status, owner_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		doc.ID, doc.Title, doc.Kind, doc.Status, doc.OwnerID,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return storeErr("create document", err)
	}
	return nil
}

const documentColumns = `id, title, kind, status, owner_id, current_version_id, created_at, updated_at`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	err := row.Scan(&doc.ID, &doc.Title, &doc.Kind, &doc.Status, &doc.OwnerID,
		&doc.CurrentVersionID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Postgres) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get document", err)
	}
	return doc, nil
}

func (s *Postgres) listDocuments(ctx context.Context, op, query string, args ...any) ([]*models.Document, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return docs, nil
}

func (s *Postgres) ListDocumentsByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Document, error) {
	return s.listDocuments(ctx, "list documents",
		`SELECT `+documentColumns+` FROM documents
		 WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
}

func (s *Postgres) SearchDocuments(ctx context.Context, query string, limit int) ([]*models.Document, error) {
	return s.listDocuments(ctx, "search documents",
		`SELECT `+documentColumns+` FROM documents
		 WHERE title ILIKE '%' || $1 || '%' ORDER BY created_at DESC LIMIT $2`, query, limit)
}

// EnsureFile records a content-addressed file row, deduplicating on sha256.
func (s *Postgres) EnsureFile(ctx context.Context, file *models.FileRef) (string, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO files (id, storage_key, sha256, mime, ext, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (sha256) DO NOTHING`,
		file.ID, file.StorageKey, file.SHA256, file.MIME, file.Ext, file.SizeBytes)
	if err != nil {
		return "", storeErr("ensure file", err)
	}

	var id string
	err = s.db.QueryRow(ctx, `SELECT id FROM files WHERE sha256 = $1`, file.SHA256).Scan(&id)
	if err != nil {
		return "", storeErr("ensure file", err)
	}
	return id, nil
}

func (s *Postgres) GetFile(ctx context.Context, id string) (*models.FileRef, error) {
	var f models.FileRef
	err := s.db.QueryRow(ctx,
		`SELECT id, storage_key, sha256, mime, ext, size_bytes, created_at
		 FROM files WHERE id = $1`, id,
	).Scan(&f.ID, &f.StorageKey, &f.SHA256, &f.MIME, &f.Ext, &f.SizeBytes, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get file", err)
	}
	return &f, nil
}

// AddVersion inserts the next version of a document and advances the
// current-version pointer in the same transaction.
func (s *Postgres) AddVersion(ctx context.Context, version *models.DocumentVersion) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, storeErr("add version", err)
	}
	defer tx.Rollback(ctx)

	var next int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_no), 0) + 1 FROM document_versions WHERE document_id = $1`,
		version.DocumentID).Scan(&next)
	if err != nil {
		return 0, storeErr("add version", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO document_versions (id, document_id, file_id, version_no, author_id, note)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		version.ID, version.DocumentID, version.FileID, next, version.AuthorID, version.Note)
	if err != nil {
		return 0, storeErr("add version", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET current_version_id = $1, updated_at = now() WHERE id = $2`,
		version.ID, version.DocumentID)
	if err != nil {
		return 0, storeErr("add version", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr("add version", err)
	}
	version.VersionNo = next
	return next, nil
}

// BeginWorkflow moves the document from draft to review and inserts the step
// chain in one transaction. An empty chain self-approves immediately.
func (s *Postgres) BeginWorkflow(ctx context.Context, documentID string, steps []models.WorkflowStep, selfAudit *models.AuditEntry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storeErr("begin workflow", err)
	}
	defer tx.Rollback(ctx)

	target := models.DocumentStatusInReview
	if len(steps) == 0 {
		target = models.DocumentStatusApproved
	}

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = 'draft'`, target, documentID)
	if err != nil {
		return storeErr("begin workflow", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoMatch
	}

	for _, step := range steps {
		_, err = tx.Exec(ctx,
			`INSERT INTO workflow_steps (id, document_id, step_order, approver_id, status, deadline)
			 VALUES ($1, $2, $3, $4, 'pending', $5)`,
			step.ID, documentID, step.StepOrder, step.ApproverID, step.Deadline)
		if err != nil {
			return storeErr("begin workflow", err)
		}
	}

	if len(steps) == 0 && selfAudit != nil {
		if err := insertAudit(ctx, tx, selfAudit); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("begin workflow", err)
	}
	return nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, entry *models.AuditEntry) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO audit_entries (id, document_id, actor_id, action, comment)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		entry.ID, entry.DocumentID, entry.ActorID, entry.Action, entry.Comment,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return storeErr("append audit", err)
	}
	return nil
}

// CompleteStep executes the conditional step transition. The WHERE clause is
// the race guard: the step must still be pending, assigned to the approver,
// and have no unapproved prior step. Exactly one of N concurrent calls wins.
func (s *Postgres) CompleteStep(ctx context.Context, tr StepTransition, audit *models.AuditEntry) (*StepOutcome, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, storeErr("complete step", err)
	}
	defer tx.Rollback(ctx)

	var outcome StepOutcome
	err = tx.QueryRow(ctx,
		`UPDATE workflow_steps SET status = $1, comment = $2, completed_at = now()
		 WHERE id = $3
		   AND approver_id = $4
		   AND status = 'pending'
		   AND NOT EXISTS (
		       SELECT 1 FROM workflow_steps prior
		       WHERE prior.document_id = workflow_steps.document_id
		         AND prior.step_order < workflow_steps.step_order
		         AND prior.status <> 'approved')
		 RETURNING document_id, step_order`,
		tr.To, tr.Comment, tr.StepID, tr.ApproverID,
	).Scan(&outcome.DocumentID, &outcome.StepOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, storeErr("complete step", err)
	}

	audit.DocumentID = outcome.DocumentID
	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}

	switch tr.To {
	case models.StepStatusApproved:
		var hasLater bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_steps
			 WHERE document_id = $1 AND step_order > $2)`,
			outcome.DocumentID, outcome.StepOrder).Scan(&hasLater)
		if err != nil {
			return nil, storeErr("complete step", err)
		}
		if hasLater {
			outcome.DocumentStatus = models.DocumentStatusInReview
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE documents SET status = 'approved', updated_at = now() WHERE id = $1`,
				outcome.DocumentID)
			if err != nil {
				return nil, storeErr("complete step", err)
			}
			outcome.DocumentStatus = models.DocumentStatusApproved
			outcome.Final = true
		}

	case models.StepStatusRejected:
		// no later step can resume the chain
		_, err = tx.Exec(ctx,
			`UPDATE workflow_steps SET status = 'skipped', completed_at = now()
			 WHERE document_id = $1 AND status = 'pending'`, outcome.DocumentID)
		if err != nil {
			return nil, storeErr("complete step", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE documents SET status = 'rejected', updated_at = now() WHERE id = $1`,
			outcome.DocumentID)
		if err != nil {
			return nil, storeErr("complete step", err)
		}
		outcome.DocumentStatus = models.DocumentStatusRejected
		outcome.Final = true

	default:
		return nil, fmt.Errorf("complete step: invalid target status %q", tr.To)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("complete step", err)
	}
	return &outcome, nil
}

// ReassignStep moves a pending step to a new approver.
func (s *Postgres) ReassignStep(ctx context.Context, stepID, fromApprover, toApprover string, audit *models.AuditEntry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storeErr("reassign step", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE workflow_steps SET approver_id = $1
		 WHERE id = $2 AND approver_id = $3 AND status = 'pending'`,
		toApprover, stepID, fromApprover)
	if err != nil {
		return storeErr("reassign step", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoMatch
	}

	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("reassign step", err)
	}
	return nil
}

// ArchiveDocument soft-deletes a settled document.
func (s *Postgres) ArchiveDocument(ctx context.Context, documentID string, audit *models.AuditEntry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storeErr("archive document", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET status = 'archived', updated_at = now()
		 WHERE id = $1 AND status IN ('approved', 'rejected')`, documentID)
	if err != nil {
		return storeErr("archive document", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoMatch
	}

	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("archive document", err)
	}
	return nil
}

func (s *Postgres) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO audit_entries (id, document_id, actor_id, action, comment)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		entry.ID, entry.DocumentID, entry.ActorID, entry.Action, entry.Comment,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return storeErr("append audit", err)
	}
	return nil
}

const stepColumns = `id, document_id, step_order, approver_id, status, deadline, comment, created_at, completed_at`

func scanStep(row pgx.Row) (*models.WorkflowStep, error) {
	var st models.WorkflowStep
	err := row.Scan(&st.ID, &st.DocumentID, &st.StepOrder, &st.ApproverID, &st.Status,
		&st.Deadline, &st.Comment, &st.CreatedAt, &st.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Postgres) GetStep(ctx context.Context, id string) (*models.WorkflowStep, error) {
	st, err := scanStep(s.db.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get step", err)
	}
	return st, nil
}

func (s *Postgres) ListSteps(ctx context.Context, documentID string) ([]*models.WorkflowStep, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps
		 WHERE document_id = $1 ORDER BY step_order`, documentID)
	if err != nil {
		return nil, storeErr("list steps", err)
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, storeErr("list steps", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list steps", err)
	}
	return steps, nil
}

func (s *Postgres) PendingFor(ctx context.Context, approverID string) ([]*models.PendingApproval, error) {
	rows, err := s.db.Query(ctx,
		`SELECT w.id, w.step_order, w.deadline, w.created_at,
		        d.id, d.title, d.kind, d.owner_id
		 FROM workflow_steps w
		 JOIN documents d ON d.id = w.document_id
		 WHERE w.approver_id = $1 AND w.status = 'pending'
		 ORDER BY w.deadline ASC NULLS LAST, w.created_at ASC`, approverID)
	if err != nil {
		return nil, storeErr("pending for", err)
	}
	defer rows.Close()

	var out []*models.PendingApproval
	for rows.Next() {
		var p models.PendingApproval
		err := rows.Scan(&p.StepID, &p.StepOrder, &p.Deadline, &p.CreatedAt,
			&p.DocumentID, &p.Title, &p.Kind, &p.OwnerID)
		if err != nil {
			return nil, storeErr("pending for", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("pending for", err)
	}
	return out, nil
}

func (s *Postgres) History(ctx context.Context, documentID string) ([]*models.AuditEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, document_id, actor_id, action, comment, created_at
		 FROM audit_entries WHERE document_id = $1 ORDER BY created_at ASC`, documentID)
	if err != nil {
		return nil, storeErr("history", err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		err := rows.Scan(&e.ID, &e.DocumentID, &e.ActorID, &e.Action, &e.Comment, &e.CreatedAt)
		if err != nil {
			return nil, storeErr("history", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("history", err)
	}
	return out, nil
}

func (s *Postgres) deadlineAlerts(ctx context.Context, op, query string, args ...any) ([]*models.DeadlineAlert, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []*models.DeadlineAlert
	for rows.Next() {
		var a models.DeadlineAlert
		err := rows.Scan(&a.StepID, &a.StepOrder, &a.ApproverID, &a.Deadline,
			&a.DocumentID, &a.Title, &a.OwnerID)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

func (s *Postgres) Overdue(ctx context.Context, now time.Time) ([]*models.DeadlineAlert, error) {
	return s.deadlineAlerts(ctx, "overdue",
		`SELECT w.id, w.step_order, w.approver_id, w.deadline,
		        d.id, d.title, d.owner_id
		 FROM workflow_steps w
		 JOIN documents d ON d.id = w.document_id
		 WHERE w.status = 'pending' AND w.deadline < $1
		 ORDER BY w.deadline ASC`, now)
}

func (s *Postgres) Approaching(ctx context.Context, now time.Time, window time.Duration) ([]*models.DeadlineAlert, error) {
	return s.deadlineAlerts(ctx, "approaching",
		`SELECT w.id, w.step_order, w.approver_id, w.deadline,
		        d.id, d.title, d.owner_id
		 FROM workflow_steps w
		 JOIN documents d ON d.id = w.document_id
		 WHERE w.status = 'pending' AND w.deadline >= $1 AND w.deadline <= $2
		 ORDER BY w.deadline ASC`, now, now.Add(window))
}

func (s *Postgres) DocumentStats(ctx context.Context) (*models.DocumentStats, error) {
	stats := &models.DocumentStats{
		ByStatus: make(map[string]int),
		ByKind:   make(map[string]int),
	}

	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, storeErr("document stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storeErr("document stats", err)
		}
		stats.ByStatus[status] = count
		stats.TotalDocuments += count
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("document stats", err)
	}

	kindRows, err := s.db.Query(ctx, `SELECT kind, COUNT(*) FROM documents GROUP BY kind`)
	if err != nil {
		return nil, storeErr("document stats", err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var kind string
		var count int
		if err := kindRows.Scan(&kind, &count); err != nil {
			return nil, storeErr("document stats", err)
		}
		stats.ByKind[kind] = count
	}
	if err := kindRows.Err(); err != nil {
		return nil, storeErr("document stats", err)
	}
	return stats, nil
}

func (s *Postgres) WorkflowStats(ctx context.Context, now time.Time) (*models.WorkflowStats, error) {
	stats := &models.WorkflowStats{StepsByStatus: make(map[string]int)}

	err := s.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT document_id) FROM workflow_steps`).Scan(&stats.TotalWorkflows)
	if err != nil {
		return nil, storeErr("workflow stats", err)
	}

	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM workflow_steps GROUP BY status`)
	if err != nil {
		return nil, storeErr("workflow stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storeErr("workflow stats", err)
		}
		stats.StepsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("workflow stats", err)
	}

	var avg *float64
	err = s.db.QueryRow(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM (completed_at - created_at)))
		 FROM workflow_steps WHERE completed_at IS NOT NULL`).Scan(&avg)
	if err != nil {
		return nil, storeErr("workflow stats", err)
	}
	if avg != nil {
		stats.AvgApprovalTimeSecs = *avg
	}

	err = s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM workflow_steps WHERE status = 'pending' AND deadline < $1`,
		now).Scan(&stats.OverdueSteps)
	if err != nil {
		return nil, storeErr("workflow stats", err)
	}
	return stats, nil
}

func (s *Postgres) StorageStats(ctx context.Context) (*models.StorageStats, error) {
	var stats models.StorageStats
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM files`,
	).Scan(&stats.TotalFiles, &stats.TotalSizeBytes)
	if err != nil {
		return nil, storeErr("storage stats", err)
	}
	return &stats, nil
}
