// Chat session API handlers
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/limitless/limitless/pkg/service"
)

// ChatHandler handles conversational sessions bound to an active case.
type ChatHandler struct {
	queryService *service.QueryService
	convService  *service.ConversationService
	caseService  *service.CaseService
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(queryService *service.QueryService, convService *service.ConversationService, caseService *service.CaseService) *ChatHandler {
	return &ChatHandler{
		queryService: queryService,
		convService:  convService,
		caseService:  caseService,
	}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	chat := r.Group("/chat")
	{
		chat.POST("", h.Send)
		chat.POST("/clear", h.Clear)
		chat.GET("/history", h.History)
	}
	r.POST("/cases/:id/activate", h.Activate)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

// Send answers a chat message against the session's active case. A missing
// session_id starts a fresh session; the minted id is echoed back so the
// client can keep the conversation going.
// POST /api/chat
func (h *ChatHandler) Send(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": KindInvalidInput})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := h.queryService.Chat(c.Request.Context(), sessionID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}

	turns, err := h.convService.History(c.Request.Context(), sessionID, result.CaseID, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":          sessionID,
		"case_id":             result.CaseID,
		"answer":              result.Answer,
		"sources":             result.Sources,
		"similar_cases":       result.SimilarCases,
		"conversation_length": len(turns),
		"processing_time":     result.ProcessingTime,
	})
}

type sessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// Clear drops the retained history of a session.
// POST /api/chat/clear
func (h *ChatHandler) Clear(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": KindInvalidInput})
		return
	}

	if err := h.convService.ClearSession(c.Request.Context(), req.SessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "history cleared"})
}

// History returns the retained window for a (session, case) pair.
// GET /api/chat/history?session_id=...&case_id=...
func (h *ChatHandler) History(c *gin.Context) {
	sessionID := c.Query("session_id")
	caseID := c.Query("case_id")
	if sessionID == "" || caseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and case_id are required", "kind": KindInvalidInput})
		return
	}

	turns, err := h.convService.History(c.Request.Context(), sessionID, caseID, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns, "total": len(turns)})
}

// Activate points a chat session at a case.
// POST /api/cases/:id/activate
func (h *ChatHandler) Activate(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": KindInvalidInput})
		return
	}

	caseID := c.Param("id")
	found, err := h.caseService.GetCase(c.Request.Context(), caseID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.convService.ActivateCase(req.SessionID, found.ID)
	c.JSON(http.StatusOK, gin.H{"session_id": req.SessionID, "case_id": found.ID, "title": found.Title})
}
