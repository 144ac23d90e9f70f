// Package api contains the HTTP handlers for the document workflow service.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/em1l4k/docflow/internal/logging"
	"github.com/em1l4k/docflow/internal/rbac"
	"github.com/em1l4k/docflow/internal/repository"
	"github.com/em1l4k/docflow/internal/stats"
	"github.com/em1l4k/docflow/internal/storage"
	"github.com/em1l4k/docflow/internal/workflow"
	"github.com/em1l4k/docflow/pkg/models"
)

const actorHeader = "X-Actor-ID"

// Server holds the dependencies for the API server.
type Server struct {
	Workflow *workflow.Service
	Stats    *stats.Service
	Dir      *rbac.Directory
	Store    repository.Store
	Blobs    *storage.BlobStore
	Logger   *logging.Logger
	Version  string
}

// NewServer creates a new Server. Blobs may be nil, in which case the upload
// and download endpoints report the object store as unavailable.
func NewServer(wf *workflow.Service, st *stats.Service, dir *rbac.Directory, store repository.Store, blobs *storage.BlobStore, logger *logging.Logger, version string) *Server {
	return &Server{
		Workflow: wf,
		Stats:    st,
		Dir:      dir,
		Store:    store,
		Blobs:    blobs,
		Logger:   logger,
		Version:  version,
	}
}

// RegisterHandlers mounts all routes on the given group.
func (s *Server) RegisterHandlers(g *echo.Group) {
	g.POST("/documents", s.CreateDocument)
	g.GET("/documents", s.ListDocuments)
	g.GET("/documents/search", s.SearchDocuments)
	g.GET("/documents/:id", s.GetDocument)
	g.GET("/documents/:id/steps", s.ListSteps)
	g.GET("/documents/:id/history", s.History)
	g.POST("/documents/:id/submit", s.SubmitDocument)
	g.POST("/documents/:id/archive", s.ArchiveDocument)
	g.POST("/documents/:id/comments", s.CommentDocument)
	g.POST("/documents/:id/versions", s.UploadVersion)

	g.GET("/files/:id", s.DownloadFile)
	g.GET("/files/:id/url", s.FileURL)

	g.POST("/steps/:id/approve", s.ApproveStep)
	g.POST("/steps/:id/reject", s.RejectStep)
	g.POST("/steps/:id/delegate", s.DelegateStep)

	g.GET("/approvals/pending", s.PendingApprovals)
	g.GET("/approvals/overdue", s.OverdueApprovals)
	g.GET("/approvals/approaching", s.ApproachingApprovals)

	g.GET("/stats/documents", s.DocumentStats)
	g.GET("/stats/workflows", s.WorkflowStats)
	g.GET("/stats/storage", s.StorageStats)

	g.GET("/roster", s.ListRoster)
	g.GET("/roster/me", s.WhoAmI)
	g.POST("/roster/reload", s.ReloadRoster)
}

// RequireActor rejects requests without an X-Actor-ID header. Routes behind
// this middleware read the actor via actorID.
func RequireActor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get(actorHeader) == "" {
			return problem(c, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header is required")
		}
		return next(c)
	}
}

func actorID(c echo.Context) string {
	return c.Request().Header.Get(actorHeader)
}

// HandleHealth returns basic health status (always returns 200 OK).
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Service:   "docflow",
		Version:   s.Version,
		Timestamp: time.Now(),
	})
}

// problem writes an RFC 7807 Problem Details response.
func problem(c echo.Context, status int, title, detail string) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, models.ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// fail maps the service error taxonomy onto problem responses.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, workflow.ErrInvalidInput):
		return problem(c, http.StatusBadRequest, "Invalid Input", err.Error())
	case errors.Is(err, workflow.ErrPermissionDenied):
		return problem(c, http.StatusForbidden, "Permission Denied", err.Error())
	case errors.Is(err, repository.ErrNotFound):
		return problem(c, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition):
		return problem(c, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, repository.ErrStoreUnavailable), errors.Is(err, rbac.ErrRosterUnavailable):
		s.Logger.Error("backend unavailable", "error", err)
		return problem(c, http.StatusServiceUnavailable, "Service Unavailable", "backend store unavailable")
	default:
		s.Logger.Error("unhandled error", "error", err)
		return problem(c, http.StatusInternalServerError, "Internal Error", "unexpected error")
	}
}
