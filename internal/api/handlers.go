package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/em1l4k/docflow/internal/rbac"
	"github.com/em1l4k/docflow/pkg/models"
)

// authorize resolves the actor and checks one permission at the HTTP layer,
// for endpoints that read the store directly instead of going through the
// workflow engine.
func (s *Server) authorize(c echo.Context, perm rbac.Permission) (string, error) {
	actor := actorID(c)
	entry, ok := s.Dir.Resolve(actor)
	if !ok || !rbac.HasPermission(entry, perm) {
		return "", problem(c, http.StatusForbidden, "Permission Denied", "actor may not perform this operation")
	}
	return actor, nil
}

type createDocumentRequest struct {
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

// CreateDocument registers a new draft document owned by the caller.
// (POST /api/v1/documents)
func (s *Server) CreateDocument(c echo.Context) error {
	var req createDocumentRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Input", "invalid request body")
	}

	doc, err := s.Workflow.CreateDocument(c.Request().Context(), req.Title, req.Kind, actorID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, doc)
}

// ListDocuments returns the caller's own documents, newest first.
// (GET /api/v1/documents)
func (s *Server) ListDocuments(c echo.Context) error {
	actor, err := s.authorize(c, rbac.PermViewDocuments)
	if err != nil {
		return err
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	docs, err := s.Store.ListDocumentsByOwner(c.Request().Context(), actor, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, docs)
}

// SearchDocuments returns documents whose title matches the query.
// (GET /api/v1/documents/search?q=...)
func (s *Server) SearchDocuments(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermViewDocuments); err != nil {
		return err
	}

	query := c.QueryParam("q")
	if query == "" {
		return problem(c, http.StatusBadRequest, "Invalid Input", "query parameter q is required")
	}

	docs, err := s.Store.SearchDocuments(c.Request().Context(), query, 50)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, docs)
}

// GetDocument returns one document.
// (GET /api/v1/documents/:id)
func (s *Server) GetDocument(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermViewDocuments); err != nil {
		return err
	}

	doc, err := s.Workflow.Document(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// ListSteps returns a document's approval chain in order.
// (GET /api/v1/documents/:id/steps)
func (s *Server) ListSteps(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermViewDocuments); err != nil {
		return err
	}

	steps, err := s.Workflow.Steps(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, steps)
}

// History returns a document's audit trail with actor names resolved.
// (GET /api/v1/documents/:id/history)
func (s *Server) History(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermViewDocuments); err != nil {
		return err
	}

	entries, err := s.Workflow.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

type submitRequest struct {
	Approvers []string     `json:"approvers"`
	Deadlines []*time.Time `json:"deadlines,omitempty"`
}

// SubmitDocument starts the approval workflow for a draft document.
// (POST /api/v1/documents/:id/submit)
func (s *Server) SubmitDocument(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Input", "invalid request body")
	}

	steps, err := s.Workflow.CreateWorkflow(c.Request().Context(), c.Param("id"), actorID(c), req.Approvers, req.Deadlines)
	if err != nil {
		return s.fail(c, err)
	}
	s.Stats.Invalidate()
	return c.JSON(http.StatusCreated, steps)
}

// ArchiveDocument soft-deletes a settled document.
// (POST /api/v1/documents/:id/archive)
func (s *Server) ArchiveDocument(c echo.Context) error {
	if err := s.Workflow.Archive(c.Request().Context(), c.Param("id"), actorID(c)); err != nil {
		return s.fail(c, err)
	}
	s.Stats.Invalidate()
	return c.NoContent(http.StatusNoContent)
}

type commentRequest struct {
	Text string `json:"text"`
}

// CommentDocument appends a comment to a document's audit trail.
// (POST /api/v1/documents/:id/comments)
func (s *Server) CommentDocument(c echo.Context) error {
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Input", "invalid request body")
	}

	if err := s.Workflow.Comment(c.Request().Context(), c.Param("id"), actorID(c), req.Text); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

// UploadVersion stores an uploaded payload in the blob store and attaches it
// as the next version of the document. Identical payloads are deduplicated on
// their digest.
// (POST /api/v1/documents/:id/versions)
func (s *Server) UploadVersion(c echo.Context) error {
	if s.Blobs == nil {
		return problem(c, http.StatusServiceUnavailable, "Service Unavailable", "object store not configured")
	}
	if _, err := s.authorize(c, rbac.PermUploadDocuments); err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Input", "multipart field file is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Input", "cannot read upload")
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Input", "cannot read upload")
	}

	ctx := c.Request().Context()
	contentType := fileHeader.Header.Get("Content-Type")
	result, err := s.Blobs.Put(ctx, data, contentType)
	if err != nil {
		s.Logger.Error("blob upload failed", "error", err)
		return problem(c, http.StatusServiceUnavailable, "Service Unavailable", "object store unavailable")
	}

	fileID, err := s.Store.EnsureFile(ctx, &models.FileRef{
		ID:         uuid.New().String(),
		StorageKey: result.Key,
		SHA256:     result.SHA256,
		MIME:       contentType,
		Ext:        filepath.Ext(fileHeader.Filename),
		SizeBytes:  result.SizeBytes,
	})
	if err != nil {
		return s.fail(c, err)
	}

	var note *string
	if v := c.FormValue("note"); v != "" {
		note = &v
	}
	version, err := s.Workflow.AddVersion(ctx, c.Param("id"), fileID, actorID(c), note)
	if err != nil {
		return s.fail(c, err)
	}
	s.Stats.Invalidate()
	return c.JSON(http.StatusCreated, version)
}

// DownloadFile streams a stored payload back through the service.
// (GET /api/v1/files/:id)
func (s *Server) DownloadFile(c echo.Context) error {
	if s.Blobs == nil {
		return problem(c, http.StatusServiceUnavailable, "Service Unavailable", "object store not configured")
	}
	if _, err := s.authorize(c, rbac.PermDownloadDocuments); err != nil {
		return err
	}

	ctx := c.Request().Context()
	file, err := s.Store.GetFile(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	data, err := s.Blobs.Get(ctx, file.StorageKey)
	if err != nil {
		s.Logger.Error("blob download failed", "file", file.ID, "error", err)
		return problem(c, http.StatusServiceUnavailable, "Service Unavailable", "object store unavailable")
	}

	mime := file.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	return c.Blob(http.StatusOK, mime, data)
}

// FileURL returns a time-limited download URL for a stored file.
// (GET /api/v1/files/:id/url)
func (s *Server) FileURL(c echo.Context) error {
	if s.Blobs == nil {
		return problem(c, http.StatusServiceUnavailable, "Service Unavailable", "object store not configured")
	}
	if _, err := s.authorize(c, rbac.PermDownloadDocuments); err != nil {
		return err
	}

	ctx := c.Request().Context()
	file, err := s.Store.GetFile(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}

	url, err := s.Blobs.PresignedGet(ctx, file.StorageKey)
	if err != nil {
		s.Logger.Error("presign failed", "file", file.ID, "error", err)
		return problem(c, http.StatusServiceUnavailable, "Service Unavailable", "object store unavailable")
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

type decisionRequest struct {
	Comment *string `json:"comment,omitempty"`
}

// ApproveStep approves a pending workflow step assigned to the caller.
// (POST /api/v1/steps/:id/approve)
func (s *Server) ApproveStep(c echo.Context) error {
	var req decisionRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Input", "invalid request body")
	}

	outcome, err := s.Workflow.Approve(c.Request().Context(), c.Param("id"), actorID(c), req.Comment)
	if err != nil {
		return s.fail(c, err)
	}
	s.Stats.Invalidate()
	return c.JSON(http.StatusOK, outcome)
}

type rejectRequest struct {
	Comment string `json:"comment"`
}

// RejectStep rejects a pending workflow step, terminating the chain.
// (POST /api/v1/steps/:id/reject)
func (s *Server) RejectStep(c echo.Context) error {
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Input", "invalid request body")
	}

	outcome, err := s.Workflow.Reject(c.Request().Context(), c.Param("id"), actorID(c), req.Comment)
	if err != nil {
		return s.fail(c, err)
	}
	s.Stats.Invalidate()
	return c.JSON(http.StatusOK, outcome)
}

type delegateRequest struct {
	To      string  `json:"to"`
	Comment *string `json:"comment,omitempty"`
}

// DelegateStep hands a pending step over to another approver.
// (POST /api/v1/steps/:id/delegate)
func (s *Server) DelegateStep(c echo.Context) error {
	var req delegateRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid Input", "invalid request body")
	}

	if err := s.Workflow.Delegate(c.Request().Context(), c.Param("id"), actorID(c), req.To, req.Comment); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PendingApprovals returns the caller's approval queue.
// (GET /api/v1/approvals/pending)
func (s *Server) PendingApprovals(c echo.Context) error {
	actor, err := s.authorize(c, rbac.PermApproveDocuments)
	if err != nil {
		return err
	}

	pending, err := s.Workflow.PendingFor(c.Request().Context(), actor)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, pending)
}

// OverdueApprovals returns all pending steps past their deadline.
// (GET /api/v1/approvals/overdue)
func (s *Server) OverdueApprovals(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermViewStatistics); err != nil {
		return err
	}

	alerts, err := s.Workflow.Overdue(c.Request().Context(), time.Now())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, alerts)
}

// ApproachingApprovals returns pending steps whose deadline falls within the
// window (default 24h).
// (GET /api/v1/approvals/approaching?window=24h)
func (s *Server) ApproachingApprovals(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermViewStatistics); err != nil {
		return err
	}

	window := 24 * time.Hour
	if v := c.QueryParam("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return problem(c, http.StatusBadRequest, "Invalid Input", "window must be a positive duration")
		}
		window = d
	}

	alerts, err := s.Workflow.Approaching(c.Request().Context(), time.Now(), window)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, alerts)
}

// DocumentStats returns document counters by status and kind.
// (GET /api/v1/stats/documents)
func (s *Server) DocumentStats(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermViewStatistics); err != nil {
		return err
	}

	stats, err := s.Stats.Documents(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// WorkflowStats returns approval-chain counters.
// (GET /api/v1/stats/workflows)
func (s *Server) WorkflowStats(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermViewStatistics); err != nil {
		return err
	}

	stats, err := s.Stats.Workflows(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// StorageStats returns blob store usage counters.
// (GET /api/v1/stats/storage)
func (s *Server) StorageStats(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermViewStatistics); err != nil {
		return err
	}

	stats, err := s.Stats.Storage(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// ListRoster returns every active roster entry.
// (GET /api/v1/roster)
func (s *Server) ListRoster(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermManageUsers); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Dir.Snapshot())
}

// WhoAmI returns the caller's roster entry.
// (GET /api/v1/roster/me)
func (s *Server) WhoAmI(c echo.Context) error {
	entry, ok := s.Dir.Resolve(actorID(c))
	if !ok {
		return problem(c, http.StatusForbidden, "Permission Denied", "actor not in roster")
	}
	return c.JSON(http.StatusOK, entry)
}

// ReloadRoster re-reads the roster source and swaps the permission snapshot.
// (POST /api/v1/roster/reload)
func (s *Server) ReloadRoster(c echo.Context) error {
	if _, err := s.authorize(c, rbac.PermManageUsers); err != nil {
		return err
	}

	active, err := s.Dir.Reload(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"active": active})
}
