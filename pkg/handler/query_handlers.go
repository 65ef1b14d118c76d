// Query and summary API handlers
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/limitless/limitless/pkg/service"
)

// QueryHandler handles retrieval-augmented query requests.
type QueryHandler struct {
	queryService *service.QueryService
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(queryService *service.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// RegisterRoutes registers query routes.
func (h *QueryHandler) RegisterRoutes(r *gin.RouterGroup) {
	cases := r.Group("/cases")
	{
		cases.POST("/:id/query", h.Query)
		cases.GET("/:id/summary", h.Summary)
		cases.POST("/:id/similar", h.SimilarCases)
	}
}

type queryRequest struct {
	Question      string   `json:"question" binding:"required"`
	SessionID     string   `json:"session_id"`
	TopK          int      `json:"top_k"`
	MinSimilarity *float64 `json:"min_similarity"`
	// Accepted for client compatibility; retrieval is always case-scoped.
	QueryType string `json:"query_type"`
}

// Query answers a question within a case's scope.
// POST /api/cases/:id/query
func (h *QueryHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": KindInvalidInput})
		return
	}

	result, err := h.queryService.Query(c.Request.Context(), service.QueryRequest{
		CaseID:        c.Param("id"),
		SessionID:     req.SessionID,
		Question:      req.Question,
		TopK:          req.TopK,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Summary returns the aggregate statistics and an analyst-style briefing.
// GET /api/cases/:id/summary
func (h *QueryHandler) Summary(c *gin.Context) {
	summary, err := h.queryService.Summarize(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type similarCasesRequest struct {
	Text string `json:"text" binding:"required"`
}

// SimilarCases finds other active cases resembling the given text.
// POST /api/cases/:id/similar
func (h *QueryHandler) SimilarCases(c *gin.Context) {
	var req similarCasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": KindInvalidInput})
		return
	}

	matches, err := h.queryService.SimilarCases(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches, "total": len(matches)})
}
