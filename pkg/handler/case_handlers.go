// Case API handlers
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/limitless/limitless/pkg/db"
	"github.com/limitless/limitless/pkg/service"
)

// CaseHandler handles case lifecycle and ingestion requests.
type CaseHandler struct {
	caseService  *service.CaseService
	queryService *service.QueryService
}

// NewCaseHandler creates a new case handler.
func NewCaseHandler(caseService *service.CaseService, queryService *service.QueryService) *CaseHandler {
	return &CaseHandler{caseService: caseService, queryService: queryService}
}

// RegisterRoutes registers case routes.
func (h *CaseHandler) RegisterRoutes(r *gin.RouterGroup) {
	cases := r.Group("/cases")
	{
		cases.GET("", h.List)
		cases.POST("", h.Create)
		cases.GET("/:id", h.Get)
		cases.POST("/:id/close", h.Close)
		cases.DELETE("/:id", h.Delete)

		cases.POST("/:id/ingest", h.Ingest)
		cases.GET("/:id/documents", h.ListDocuments)
		cases.GET("/:id/statistics", h.Statistics)
	}
}

type createCaseRequest struct {
	Title       string `json:"title" binding:"required"`
	CaseType    string `json:"case_type"`
	Description string `json:"description"`
}

// Create opens a new case.
// POST /api/cases
func (h *CaseHandler) Create(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": KindInvalidInput})
		return
	}

	created, err := h.caseService.CreateCase(c.Request.Context(), req.Title, db.CaseType(req.CaseType), req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// List lists cases, optionally filtered by status.
// GET /api/cases?status=active
func (h *CaseHandler) List(c *gin.Context) {
	cases, err := h.caseService.ListCases(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": cases, "total": len(cases)})
}

// Get fetches one case.
// GET /api/cases/:id
func (h *CaseHandler) Get(c *gin.Context) {
	found, err := h.caseService.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// Close archives a case.
// POST /api/cases/:id/close
func (h *CaseHandler) Close(c *gin.Context) {
	closed, err := h.caseService.CloseCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, closed)
}

// Delete removes a case and all derived data.
// DELETE /api/cases/:id
func (h *CaseHandler) Delete(c *gin.Context) {
	if err := h.caseService.DeleteCase(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "case deleted"})
}

type ingestRequest struct {
	Content string `json:"content" binding:"required"`
	DocType string `json:"doc_type"`
	Source  string `json:"source"`
}

// Ingest adds a document to a case.
// POST /api/cases/:id/ingest
func (h *CaseHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": KindInvalidInput})
		return
	}

	started := time.Now()
	doc, err := h.caseService.IngestText(c.Request.Context(), c.Param("id"), req.DocType, req.Source, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	// The analysis and cross-case discovery enrich the response; a failure in
	// either does not fail the completed ingestion.
	analysis, err := h.queryService.AnalyzeDocument(c.Request.Context(), doc)
	if err != nil {
		analysis = ""
	}
	similar, err := h.queryService.SimilarCases(c.Request.Context(), doc.CaseID, req.Content)
	if err != nil {
		similar = nil
	}

	c.JSON(http.StatusCreated, gin.H{
		"document": doc,
		"rag_analysis": gin.H{
			"llm_response":  analysis,
			"similar_cases": similar,
		},
		"processing_time": time.Since(started).Seconds(),
	})
}

// ListDocuments lists a case's documents.
// GET /api/cases/:id/documents
func (h *CaseHandler) ListDocuments(c *gin.Context) {
	docs, err := h.caseService.ListDocuments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "total": len(docs)})
}

// Statistics returns the aggregate view of a case.
// GET /api/cases/:id/statistics
func (h *CaseHandler) Statistics(c *gin.Context) {
	stats, err := h.caseService.Statistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
