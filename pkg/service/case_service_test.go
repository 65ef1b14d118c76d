package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"
	"gorm.io/gorm"

	"github.com/limitless/limitless/pkg/config"
	"github.com/limitless/limitless/pkg/db"
	"github.com/limitless/limitless/pkg/llm"
	"github.com/limitless/limitless/pkg/textproc"
	"github.com/limitless/limitless/pkg/vectorindex"
)

// topicWords define the axes of the test embedding space. A text's vector
// counts occurrences of each word plus a constant baseline dimension, so
// similarity tracks topical word overlap deterministically.
var topicWords = []string{"nightfall", "bitcoin", "server", "weather"}

func embedText(text string) []float32 {
	v := make([]float32, len(topicWords)+1)
	lower := strings.ToLower(text)
	for i, w := range topicWords {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(topicWords)] = 1
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

type fakeEmbedder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("%w: simulated outage", llm.ErrEmbeddingService)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

type fakeGenerator struct {
	mu         sync.Mutex
	fail       bool
	answer     string
	lastPrompt []*schema.Message
}

func (f *fakeGenerator) Generate(_ context.Context, messages []*schema.Message) (string, error) {
	f.mu.Lock()
	f.lastPrompt = messages
	f.mu.Unlock()
	if f.fail {
		return "", fmt.Errorf("%w: simulated outage", llm.ErrGenerationService)
	}
	return f.answer, nil
}

func (f *fakeGenerator) promptText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, m := range f.lastPrompt {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func ptr[T any](v T) *T { return &v }

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		RAG: config.RAGConfig{
			ChunkSize:     ptr(16),
			ChunkOverlap:  ptr(4),
			TopK:          ptr(3),
			MinSimilarity: ptr(0.8),
			CrossCaseMin:  ptr(0.8),
			HistoryWindow: ptr(4),
			ContextTurns:  ptr(2),
		},
	}
}

type testEnv struct {
	db       *gorm.DB
	index    *vectorindex.Index
	embedder *fakeEmbedder
	gen      *fakeGenerator
	cases    *CaseService
	conv     *ConversationService
	query    *QueryService
	status   *StatusService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	index, err := vectorindex.New("")
	if err != nil {
		t.Fatalf("vectorindex.New() error = %v", err)
	}
	cfg := testConfig()
	embedder := &fakeEmbedder{}
	gen := &fakeGenerator{answer: "assessment complete"}
	cases := NewCaseService(database, index, embedder, cfg)
	conv := NewConversationService(database, cfg)
	cases.SetOnCaseDeleted(conv.DeactivateCase)
	return &testEnv{
		db:       database,
		index:    index,
		embedder: embedder,
		gen:      gen,
		cases:    cases,
		conv:     conv,
		query:    NewQueryService(cases, conv, index, embedder, gen, cfg),
		status:   NewStatusService(database, index, embedder, gen, cfg),
	}
}

func (e *testEnv) mustCreateCase(t *testing.T, title string) *db.Case {
	t.Helper()
	c, err := e.cases.CreateCase(context.Background(), title, db.CaseTypeInvestigation, "")
	if err != nil {
		t.Fatalf("CreateCase(%q) error = %v", title, err)
	}
	return c
}

const docNightfall = "Operation Nightfall tracking server activity. " +
	"The command server at 8.8.8.8 resolved evil-domain.com and dropped a file " +
	"with hash d41d8cd98f00b204e9800998ecf8427e. Contact analyst@example.com for nightfall updates."

const docWeather = "Daily weather report. The weather station logged sunny weather conditions all week."

func TestCreateCase_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.cases.CreateCase(ctx, "  ", db.CaseTypeAnalysis, ""); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("blank title error = %v, want ErrInvalidTitle", err)
	}
	if _, err := env.cases.CreateCase(ctx, strings.Repeat("x", 201), db.CaseTypeAnalysis, ""); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("long title error = %v, want ErrInvalidTitle", err)
	}
	if _, err := env.cases.CreateCase(ctx, "ok", db.CaseType("espionage"), ""); !errors.Is(err, ErrInvalidCaseType) {
		t.Fatalf("bad type error = %v, want ErrInvalidCaseType", err)
	}

	c, err := env.cases.CreateCase(ctx, "untyped", "", "")
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	if c.CaseType != db.CaseTypeIntelligence {
		t.Fatalf("default case type = %s, want intelligence", c.CaseType)
	}
	if c.Status != db.CaseStatusActive {
		t.Fatalf("new case status = %s, want active", c.Status)
	}
}

func TestIngestText_AnnotatesAndIndexes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.mustCreateCase(t, "Op Nightfall")

	doc, err := env.cases.IngestText(ctx, c.ID, "report", "field-report-1.txt", docNightfall)
	if err != nil {
		t.Fatalf("IngestText() error = %v", err)
	}

	if doc.ChunkCount < 1 {
		t.Fatalf("ChunkCount = %d, want >= 1", doc.ChunkCount)
	}
	if got := env.index.Count(c.ID); got != doc.ChunkCount {
		t.Fatalf("index count = %d, want %d", got, doc.ChunkCount)
	}

	wantIOCs := map[string]string{
		textproc.IocTypeIPAddresses: "8.8.8.8",
		textproc.IocTypeDomains:     "evil-domain.com",
		textproc.IocTypeHashes:      "d41d8cd98f00b204e9800998ecf8427e",
		textproc.IocTypeEmails:      "analyst@example.com",
	}
	for typ, want := range wantIOCs {
		found := false
		for _, v := range doc.IOCs[typ] {
			if v == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("IOCs[%s] = %v, want to contain %q", typ, doc.IOCs[typ], want)
		}
	}

	if len(doc.Keywords) == 0 {
		t.Fatalf("no keywords extracted")
	}
	if len(doc.Entities) == 0 {
		t.Fatalf("no entities extracted")
	}

	var iocRows int64
	if err := env.db.Model(&db.IocRecord{}).Where("document_id = ?", doc.ID).Count(&iocRows).Error; err != nil {
		t.Fatalf("count ioc records: %v", err)
	}
	if iocRows == 0 {
		t.Fatalf("no ioc provenance rows persisted")
	}
}

func TestIngestText_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.mustCreateCase(t, "Op Nightfall")

	if _, err := env.cases.IngestText(ctx, c.ID, "text", "", "   \n "); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("blank content error = %v, want ErrEmptyDocument", err)
	}
	if _, err := env.cases.IngestText(ctx, "no-such-case", "text", "", "hello"); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("unknown case error = %v, want ErrCaseNotFound", err)
	}

	if _, err := env.cases.CloseCase(ctx, c.ID); err != nil {
		t.Fatalf("CloseCase() error = %v", err)
	}
	if _, err := env.cases.IngestText(ctx, c.ID, "text", "", "hello"); !errors.Is(err, ErrCaseClosed) {
		t.Fatalf("closed case ingest error = %v, want ErrCaseClosed", err)
	}
}

func TestIngestText_EmbeddingFailureIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.mustCreateCase(t, "Op Nightfall")

	env.embedder.fail = true
	if _, err := env.cases.IngestText(ctx, c.ID, "report", "r.txt", docNightfall); !errors.Is(err, llm.ErrEmbeddingService) {
		t.Fatalf("IngestText() error = %v, want ErrEmbeddingService", err)
	}

	var docs, chunks int64
	env.db.Model(&db.Document{}).Where("case_id = ?", c.ID).Count(&docs)
	env.db.Model(&db.Chunk{}).Where("case_id = ?", c.ID).Count(&chunks)
	if docs != 0 || chunks != 0 {
		t.Fatalf("after failed embed: docs = %d, chunks = %d, want 0, 0", docs, chunks)
	}
	if got := env.index.Count(c.ID); got != 0 {
		t.Fatalf("index count after failed embed = %d, want 0", got)
	}

	// The case stays usable once the service recovers.
	env.embedder.fail = false
	if _, err := env.cases.IngestText(ctx, c.ID, "report", "r.txt", docNightfall); err != nil {
		t.Fatalf("IngestText() after recovery error = %v", err)
	}
}

func TestIngestText_DuplicateTextIsTwoDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.mustCreateCase(t, "Op Nightfall")

	d1, err := env.cases.IngestText(ctx, c.ID, "report", "a.txt", docNightfall)
	if err != nil {
		t.Fatalf("first IngestText() error = %v", err)
	}
	d2, err := env.cases.IngestText(ctx, c.ID, "report", "b.txt", docNightfall)
	if err != nil {
		t.Fatalf("second IngestText() error = %v", err)
	}
	if d1.ID == d2.ID {
		t.Fatalf("duplicate ingest reused document id %s", d1.ID)
	}

	stats, err := env.cases.Statistics(ctx, c.ID)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if stats.TotalDocuments != 2 {
		t.Fatalf("TotalDocuments = %d, want 2", stats.TotalDocuments)
	}
	if stats.TotalChunks != d1.ChunkCount+d2.ChunkCount {
		t.Fatalf("TotalChunks = %d, want %d", stats.TotalChunks, d1.ChunkCount+d2.ChunkCount)
	}
	// Indicator aggregation has set semantics: both copies carry 8.8.8.8 but
	// it is counted once case-wide.
	ips := stats.IOCs[textproc.IocTypeIPAddresses]
	if len(ips) != 1 || ips[0] != "8.8.8.8" {
		t.Fatalf("aggregated ip_addresses = %v, want exactly one 8.8.8.8", ips)
	}
}

func TestStatistics_RefreshAfterIngest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.mustCreateCase(t, "Op Nightfall")

	if _, err := env.cases.IngestText(ctx, c.ID, "report", "a.txt", docNightfall); err != nil {
		t.Fatalf("IngestText() error = %v", err)
	}
	first, err := env.cases.Statistics(ctx, c.ID)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if first.TotalDocuments != 1 {
		t.Fatalf("TotalDocuments = %d, want 1", first.TotalDocuments)
	}

	// Cached result must be invalidated by the next ingestion.
	if _, err := env.cases.IngestText(ctx, c.ID, "forecast", "w.txt", docWeather); err != nil {
		t.Fatalf("IngestText() error = %v", err)
	}
	second, err := env.cases.Statistics(ctx, c.ID)
	if err != nil {
		t.Fatalf("Statistics() error = %v", err)
	}
	if second.TotalDocuments != 2 {
		t.Fatalf("TotalDocuments after second ingest = %d, want 2", second.TotalDocuments)
	}
	if second.DocumentTypes["report"] != 1 || second.DocumentTypes["forecast"] != 1 {
		t.Fatalf("DocumentTypes = %v", second.DocumentTypes)
	}
	if len(second.TopKeywords) == 0 {
		t.Fatalf("no top keywords aggregated")
	}
}

func TestCloseCase_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.mustCreateCase(t, "Op Nightfall")

	closed, err := env.cases.CloseCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("CloseCase() error = %v", err)
	}
	if closed.Status != db.CaseStatusClosed {
		t.Fatalf("status = %s, want closed", closed.Status)
	}
	if _, err := env.cases.CloseCase(ctx, c.ID); err != nil {
		t.Fatalf("second CloseCase() error = %v", err)
	}
	if _, err := env.cases.CloseCase(ctx, "missing"); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("CloseCase(missing) error = %v, want ErrCaseNotFound", err)
	}
}

func TestDeleteCase_PurgesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	victim := env.mustCreateCase(t, "Op Nightfall")
	bystander := env.mustCreateCase(t, "Op Monsoon")

	if _, err := env.cases.IngestText(ctx, victim.ID, "report", "a.txt", docNightfall); err != nil {
		t.Fatalf("IngestText() error = %v", err)
	}
	if _, err := env.cases.IngestText(ctx, bystander.ID, "forecast", "w.txt", docWeather); err != nil {
		t.Fatalf("IngestText() error = %v", err)
	}
	if err := env.conv.AppendTurn(ctx, "sess-1", victim.ID, db.TurnRoleUser, "hello"); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	if err := env.cases.DeleteCase(ctx, victim.ID); err != nil {
		t.Fatalf("DeleteCase() error = %v", err)
	}

	for _, model := range []any{&db.Document{}, &db.Chunk{}, &db.IocRecord{}, &db.ConversationTurn{}} {
		var n int64
		env.db.Model(model).Where("case_id = ?", victim.ID).Count(&n)
		if n != 0 {
			t.Fatalf("%T rows for deleted case = %d, want 0", model, n)
		}
	}
	if got := env.index.Count(victim.ID); got != 0 {
		t.Fatalf("index count for deleted case = %d, want 0", got)
	}
	if _, err := env.cases.GetCase(ctx, victim.ID); !errors.Is(err, ErrCaseNotFound) {
		t.Fatalf("GetCase(deleted) error = %v, want ErrCaseNotFound", err)
	}

	// The other case is untouched.
	if _, err := env.cases.GetCase(ctx, bystander.ID); err != nil {
		t.Fatalf("GetCase(bystander) error = %v", err)
	}
	if got := env.index.Count(bystander.ID); got == 0 {
		t.Fatalf("bystander case lost its vectors")
	}
}

func TestStatus_Counts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.mustCreateCase(t, "Op Nightfall")
	if _, err := env.cases.IngestText(ctx, c.ID, "report", "a.txt", docNightfall); err != nil {
		t.Fatalf("IngestText() error = %v", err)
	}
	if _, err := env.cases.CloseCase(ctx, c.ID); err != nil {
		t.Fatalf("CloseCase() error = %v", err)
	}
	env.mustCreateCase(t, "Op Monsoon")

	st, err := env.status.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.TotalCases != 2 || st.ActiveCases != 1 {
		t.Fatalf("cases = %d active = %d, want 2 and 1", st.TotalCases, st.ActiveCases)
	}
	if st.TotalDocuments != 1 || st.TotalChunks == 0 {
		t.Fatalf("documents = %d chunks = %d", st.TotalDocuments, st.TotalChunks)
	}
	if !st.VectorDBReady {
		t.Fatalf("VectorDBReady = false")
	}
	if !st.EmbeddingConnected || !st.GenerationConnected {
		t.Fatalf("connected flags = %v, %v, want both true", st.EmbeddingConnected, st.GenerationConnected)
	}
}
