package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"

	"github.com/limitless/limitless/pkg/config"
	"github.com/limitless/limitless/pkg/db"
	"github.com/limitless/limitless/pkg/service"
	"github.com/limitless/limitless/pkg/vectorindex"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, []*schema.Message) (string, error) {
	return "stub answer", nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *service.CaseService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	index, err := vectorindex.New("")
	if err != nil {
		t.Fatalf("vectorindex.New() error = %v", err)
	}
	cfg := &config.AppConfig{}

	caseService := service.NewCaseService(database, index, stubEmbedder{}, cfg)
	convService := service.NewConversationService(database, cfg)
	caseService.SetOnCaseDeleted(convService.DeactivateCase)
	queryService := service.NewQueryService(caseService, convService, index, stubEmbedder{}, stubGenerator{}, cfg)

	r := gin.New()
	api := r.Group("/api")
	NewCaseHandler(caseService, queryService).RegisterRoutes(api)
	NewQueryHandler(queryService).RegisterRoutes(api)
	NewChatHandler(queryService, convService, caseService).RegisterRoutes(api)
	return r, caseService
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatEndpoint_MintsSessionIDWhenOmitted(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postJSON(t, r, "/api/chat", gin.H{"message": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	var resp struct {
		SessionID          string `json:"session_id"`
		Answer             string `json:"answer"`
		ConversationLength int    `json:"conversation_length"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("response carries no session_id")
	}
	if resp.Answer != "stub answer" {
		t.Fatalf("answer = %q, want generator output", resp.Answer)
	}
	if resp.ConversationLength != 2 {
		t.Fatalf("conversation_length = %d, want 2", resp.ConversationLength)
	}

	// Reusing the minted id continues the same session.
	w = postJSON(t, r, "/api/chat", gin.H{"session_id": resp.SessionID, "message": "and again"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var second struct {
		SessionID          string `json:"session_id"`
		ConversationLength int    `json:"conversation_length"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if second.SessionID != resp.SessionID {
		t.Fatalf("session_id = %q, want echoed %q", second.SessionID, resp.SessionID)
	}
	if second.ConversationLength != 4 {
		t.Fatalf("conversation_length = %d, want 4", second.ConversationLength)
	}
}

func TestChatEndpoint_RequiresMessage(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postJSON(t, r, "/api/chat", gin.H{"session_id": "sess-1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestIngestEndpoint_ReturnsAnalysis(t *testing.T) {
	r, caseService := newTestRouter(t)
	c, err := caseService.CreateCase(context.Background(), "Op Nightfall", db.CaseTypeInvestigation, "")
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	w := postJSON(t, r, "/api/cases/"+c.ID+"/ingest", gin.H{
		"content":  "The command server at 8.8.8.8 went dark overnight.",
		"doc_type": "report",
		"source":   "a.txt",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}

	var resp struct {
		RAGAnalysis struct {
			LLMResponse  string `json:"llm_response"`
			SimilarCases []any  `json:"similar_cases"`
		} `json:"rag_analysis"`
		ProcessingTime float64 `json:"processing_time"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.RAGAnalysis.LLMResponse != "stub answer" {
		t.Fatalf("llm_response = %q, want generator output", resp.RAGAnalysis.LLMResponse)
	}
	if len(resp.RAGAnalysis.SimilarCases) != 0 {
		t.Fatalf("similar_cases = %v, want none with a single case", resp.RAGAnalysis.SimilarCases)
	}
}

func TestQueryEndpoint_AcceptsQueryType(t *testing.T) {
	r, caseService := newTestRouter(t)
	c, err := caseService.CreateCase(context.Background(), "Op Nightfall", db.CaseTypeInvestigation, "")
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	w := postJSON(t, r, "/api/cases/"+c.ID+"/query", gin.H{"question": "who?", "query_type": "case"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
}
