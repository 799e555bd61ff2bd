package main

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projectbrain/backend/internal/constants"
	"projectbrain/backend/internal/domain"
	"projectbrain/backend/internal/graph"
	"projectbrain/backend/internal/ingest"
	"projectbrain/backend/internal/processing"
	"projectbrain/backend/internal/services"
	"projectbrain/backend/internal/store"
	apperrors "projectbrain/backend/pkg/errors"
)

// server holds the wired components the HTTP handlers call into
type server struct {
	repo      *store.Repository
	pipeline  *ingest.Pipeline
	syncer    *graph.SyncEngine
	graphs    *graph.Manager
	runner    *processing.Runner
	scheduler *services.Scheduler
	log       *zap.Logger
}

func newRouter(s *server) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(s.log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", s.health)

	api := router.Group("/api")
	{
		api.GET("/projects", s.listProjects)
		api.POST("/projects", s.createProject)
		api.GET("/projects/:id", s.getProject)
		api.DELETE("/projects/:id", s.deleteProject)
		api.POST("/projects/:id/switch", s.switchProject)

		api.POST("/projects/:id/messages", s.ingestMessage)
		api.POST("/projects/:id/messages/upload", s.uploadMessage)
		api.GET("/projects/:id/messages", s.listMessages)
		api.DELETE("/messages/:id", s.deleteMessage)

		api.GET("/projects/:id/graph/status", s.syncStatus)
		api.POST("/projects/:id/graph/sync", s.fullSync)
		api.GET("/projects/:id/graph/connections", s.projectConnections)
		api.GET("/projects/:id/graph/influence", s.influenceMap)
		api.GET("/projects/:id/graph/team", s.teamDynamics)
		api.POST("/projects/:id/graph/query", s.queryGraph)

		api.GET("/graphs", s.listGraphs)
		api.POST("/graphs/cleanup", s.cleanupGraphs)
		api.GET("/people/cross-project", s.crossProjectPeople)
		api.GET("/people/:person/projects", s.personProjects)

		api.POST("/projects/:id/processing", s.startProcessing)
		api.GET("/processing/status", s.processingStatus)
		api.GET("/processing/stream", s.processingStream)
	}
	return router
}

// writeError maps the error taxonomy onto HTTP status codes
func (s *server) writeError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	body := gin.H{"error": msg}

	switch {
	case apperrors.IsErrorType(err, apperrors.ErrorTypeValidation):
		status = http.StatusBadRequest
		body["error"] = err.Error()
		if ve, ok := apperrors.AsValidation(err); ok {
			body["field"] = ve.Field
		}
	case apperrors.IsErrorType(err, apperrors.ErrorTypeDuplicate):
		status = http.StatusConflict
		body["error"] = "duplicate message"
		if dup, ok := apperrors.AsDuplicate(err); ok {
			body["existing_id"] = dup.ExistingID
		}
	case apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound):
		status = http.StatusNotFound
		body["error"] = err.Error()
	case errors.Is(err, apperrors.ErrGraphNotConnected):
		status = http.StatusServiceUnavailable
		body["error"] = "graph store not connected"
	case errors.Is(err, processing.ErrBusy):
		status = http.StatusConflict
		body["error"] = err.Error()
	default:
		s.log.Error(msg, zap.Error(err), zap.String("path", c.Request.URL.Path))
	}
	c.JSON(status, body)
}

func (s *server) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "graph_connected": s.syncer.Connected()}
	if err := s.repo.Ping(c.Request.Context()); err != nil {
		resp["status"] = "degraded"
		resp["database_error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ============================================================================
// Project Handlers
// ============================================================================

func (s *server) listProjects(c *gin.Context) {
	projects, err := s.repo.ListProjects(c.Request.Context())
	if err != nil {
		s.writeError(c, err, "Failed to list projects")
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "active": s.graphs.ActiveProject()})
}

func (s *server) createProject(c *gin.Context) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := &domain.Project{ID: strings.TrimSpace(req.ID), Name: req.Name}
	if err := s.repo.CreateProject(c.Request.Context(), p); err != nil {
		s.writeError(c, err, "Failed to create project")
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *server) getProject(c *gin.Context) {
	p, err := s.repo.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, "Failed to get project")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *server) deleteProject(c *gin.Context) {
	id := c.Param("id")
	if id == s.graphs.ActiveProject() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete the active project"})
		return
	}
	if err := s.repo.DeleteProject(c.Request.Context(), id); err != nil {
		s.writeError(c, err, "Failed to delete project")
		return
	}
	// A graph left behind is removed by the next orphan cleanup
	graphDropped := true
	if err := s.graphs.DropProjectGraph(c.Request.Context(), id); err != nil {
		graphDropped = false
		s.log.Warn("Failed to drop project graph", zap.String("project_id", id), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "graph_dropped": graphDropped})
}

func (s *server) switchProject(c *gin.Context) {
	id := c.Param("id")
	if err := s.graphs.SwitchProject(c.Request.Context(), id); err != nil {
		s.writeError(c, err, "Failed to switch project")
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": id, "graph": s.graphs.Naming().GraphName(id)})
}

// ============================================================================
// Message Handlers
// ============================================================================

func (s *server) ingestMessage(c *gin.Context) {
	var req struct {
		ingest.MessageFields
		Text       string `json:"text"`
		SourceType string `json:"source_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw := ingest.RawInput{Fields: &req.MessageFields}
	sourceType := domain.SourceAPI
	switch {
	case strings.TrimSpace(req.Text) != "":
		raw = ingest.RawInput{Text: req.Text}
		sourceType = domain.SourcePaste
	case req.SourceType == string(domain.SourceOutbound):
		sourceType = domain.SourceOutbound
	case req.SourceType != "" && req.SourceType != string(domain.SourceAPI):
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported source_type %q", req.SourceType)})
		return
	}
	s.ingest(c, raw, sourceType)
}

func (s *server) uploadMessage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a file field is required"})
		return
	}
	raw, err := readUpload(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.ingest(c, raw, domain.SourceUpload)
}

func (s *server) ingest(c *gin.Context, raw ingest.RawInput, sourceType domain.SourceType) {
	res, err := s.pipeline.Ingest(c.Request.Context(), raw, sourceType, c.Param("id"))
	if err != nil {
		if res != nil && res.Duplicate {
			c.JSON(http.StatusConflict, res)
			return
		}
		s.writeError(c, err, "Failed to ingest message")
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *server) listMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := s.repo.ListMessages(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.writeError(c, err, "Failed to list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *server) deleteMessage(c *gin.Context) {
	if err := s.pipeline.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err, "Failed to delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func readUpload(fh *multipart.FileHeader) (ingest.RawInput, error) {
	if fh.Size > constants.MaxUploadBytes {
		return ingest.RawInput{}, fmt.Errorf("%s exceeds the upload limit", fh.Filename)
	}
	f, err := fh.Open()
	if err != nil {
		return ingest.RawInput{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return ingest.RawInput{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return ingest.RawInput{Filename: fh.Filename, Data: data}, nil
}

// ============================================================================
// Graph Handlers
// ============================================================================

func (s *server) syncStatus(c *gin.Context) {
	status, err := s.syncer.GetSyncStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, "Failed to get sync status")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *server) fullSync(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.repo.GetProject(c.Request.Context(), id); err != nil {
		s.writeError(c, err, "Failed to sync project")
		return
	}
	res, err := s.syncer.FullSync(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err, "Failed to sync project")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) projectConnections(c *gin.Context) {
	conns, err := s.graphs.FindProjectConnections(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, "Failed to find project connections")
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns})
}

func (s *server) influenceMap(c *gin.Context) {
	people, err := s.graphs.InfluenceMap(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, "Failed to compute influence map")
		return
	}
	c.JSON(http.StatusOK, gin.H{"people": people})
}

func (s *server) teamDynamics(c *gin.Context) {
	pairs, err := s.graphs.TeamDynamics(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, "Failed to compute team dynamics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"collaborations": pairs})
}

type graphQueryRequest struct {
	Statement string                 `json:"statement"`
	Params    map[string]interface{} `json:"params"`
}

func (s *server) queryGraph(c *gin.Context) {
	id := c.Param("id")
	var req graphQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if _, err := s.repo.GetProject(c.Request.Context(), id); err != nil {
		s.writeError(c, err, "Failed to query graph")
		return
	}
	rows, err := s.graphs.QueryProject(c.Request.Context(), id, req.Statement, req.Params)
	if err != nil {
		s.writeError(c, err, "Failed to query graph")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows, "count": len(rows)})
}

func (s *server) listGraphs(c *gin.Context) {
	graphs, err := s.graphs.ListProjectGraphs(c.Request.Context())
	if err != nil {
		s.writeError(c, err, "Failed to list graphs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"graphs": graphs, "connected": s.syncer.Connected()})
}

func (s *server) cleanupGraphs(c *gin.Context) {
	res, err := s.scheduler.RunOrphanCleanup(c.Request.Context())
	if err != nil {
		s.writeError(c, err, "Failed to clean up orphan graphs")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) crossProjectPeople(c *gin.Context) {
	minProjects, err := strconv.Atoi(c.DefaultQuery("min_projects", strconv.Itoa(constants.DefaultMinSharedProjects)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_projects must be a number"})
		return
	}
	people, err := s.graphs.FindCrossProjectPeople(c.Request.Context(), minProjects)
	if err != nil {
		s.writeError(c, err, "Failed to find cross-project people")
		return
	}
	c.JSON(http.StatusOK, gin.H{"people": people})
}

func (s *server) personProjects(c *gin.Context) {
	projects, err := s.graphs.FindPersonProjects(c.Request.Context(), c.Param("person"))
	if err != nil {
		s.writeError(c, err, "Failed to find person projects")
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// ============================================================================
// Processing Handlers
// ============================================================================

// startProcessing accepts either a multipart form of "files" or a JSON body
// of pasted texts.
func (s *server) startProcessing(c *gin.Context) {
	projectID := c.Param("id")
	if _, err := s.repo.GetProject(c.Request.Context(), projectID); err != nil {
		s.writeError(c, err, "Failed to start processing")
		return
	}

	var docs []ingest.RawInput
	sourceType := domain.SourceUpload
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxRequestBytes)
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, fh := range form.File["files"] {
			raw, err := readUpload(fh)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			docs = append(docs, raw)
		}
	} else if c.Request.ContentLength != 0 {
		var req struct {
			Texts []string `json:"texts"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, t := range req.Texts {
			docs = append(docs, ingest.RawInput{Text: t})
		}
		sourceType = domain.SourcePaste
	}
	if len(docs) > constants.MaxBatchDocuments {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d documents per run", constants.MaxBatchDocuments)})
		return
	}

	runID, err := s.runner.Start(projectID, docs, sourceType)
	if err != nil {
		s.writeError(c, err, "Failed to start processing")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "documents": len(docs)})
}

func (s *server) processingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.runner.Status())
}

// processingStream pushes status snapshots as server-sent events until the
// client goes away or the run finishes.
func (s *server) processingStream(c *gin.Context) {
	updates, unsubscribe := s.runner.Subscribe()
	defer unsubscribe()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-keepAlive.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case st, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("status", st)
			return st.Running || st.Phase == processing.PhaseIdle
		}
	})
}
