// Case-scoped retrieval-augmented querying
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/limitless/limitless/pkg/config"
	"github.com/limitless/limitless/pkg/db"
	"github.com/limitless/limitless/pkg/llm"
	"github.com/limitless/limitless/pkg/textproc"
	"github.com/limitless/limitless/pkg/utils"
	"github.com/limitless/limitless/pkg/vectorindex"
)

const osintSystemPrompt = `You are an OSINT intelligence analyst assistant working a single investigation case.
Answer strictly from the numbered context excerpts provided. Cite excerpt numbers like [1] when you rely on them.
If the excerpts do not contain the answer, say so plainly instead of speculating.
Highlight indicators of compromise (IP addresses, domains, hashes, emails, URLs) when they are relevant to the question.`

const generalChatSystemPrompt = `You are an OSINT intelligence analyst assistant.
No investigation case is active for this conversation, so no case material is available.
Answer general questions about tradecraft and analysis; suggest activating a case when the user asks about specific case material.`

const caseSummarySystemPrompt = `You are an OSINT intelligence analyst writing a concise case summary briefing.
Summarize the investigation state from the supplied case profile: scope, key findings, notable entities and indicators of compromise.
Be factual and concise; do not invent details that are not in the profile.`

const ingestAnalysisSystemPrompt = `You are an OSINT intelligence analyst assistant reviewing material just added to an investigation case.
Give a brief assessment of the document from its extracted annotations and excerpt: what it appears to be, the notable entities and indicators of compromise, and what it adds to the case.
Be factual and concise; do not invent details that are not in the material.`

const noDocumentsNote = "No documents have been ingested into this case yet."

// QueryRequest parameterizes one retrieval-augmented question.
// TopK <= 0 and a nil MinSimilarity fall back to the configured defaults.
type QueryRequest struct {
	CaseID        string
	SessionID     string
	Question      string
	TopK          int
	MinSimilarity *float64
}

// SourceRef points an answer back at a retrieved chunk.
type SourceRef struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source,omitempty"`
	Score      float32 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

// QueryResult is a generated answer with its supporting retrievals. An empty
// CaseID means the answer came from the case-less general chat path.
type QueryResult struct {
	CaseID         string      `json:"case_id,omitempty"`
	Question       string      `json:"question"`
	Answer         string      `json:"answer"`
	Sources        []SourceRef `json:"sources"`
	ExtractedIOCs  db.IocMap   `json:"extracted_iocs,omitempty"`
	SimilarCases   []CaseMatch `json:"similar_cases,omitempty"`
	NoDocuments    bool        `json:"no_documents,omitempty"`
	ProcessingTime float64     `json:"processing_time"`
}

// CaseMatch is one hit from cross-case similarity discovery.
type CaseMatch struct {
	CaseID    string      `json:"case_id"`
	Title     string      `json:"title"`
	CaseType  db.CaseType `json:"case_type"`
	BestScore float32     `json:"best_score"`
	Matches   int         `json:"matches"`
}

// CaseSummary pairs the aggregate statistics with the generated briefing.
type CaseSummary struct {
	CaseID     string             `json:"case_id"`
	Statistics *db.CaseStatistics `json:"statistics"`
	AISummary  string             `json:"ai_summary"`
}

// QueryService runs the query pipeline: validate, retrieve, extract, compose,
// generate, finalize. Retrieval is always scoped to one case; cross-case
// similarity returns case references only and never mixes foreign chunks
// into an answer.
type QueryService struct {
	cases     *CaseService
	conv      *ConversationService
	index     *vectorindex.Index
	embedder  llm.Embedder
	generator llm.Generator
	cfg       *config.AppConfig
	logger    *slog.Logger
}

// NewQueryService creates a query service.
func NewQueryService(cases *CaseService, conv *ConversationService, index *vectorindex.Index, embedder llm.Embedder, generator llm.Generator, cfg *config.AppConfig) *QueryService {
	return &QueryService{
		cases:     cases,
		conv:      conv,
		index:     index,
		embedder:  embedder,
		generator: generator,
		cfg:       cfg,
		logger:    utils.GetLogger(),
	}
}

// Query answers a question within one case's scope. Closed cases remain
// queryable; only ingestion is rejected after closing.
func (s *QueryService) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	started := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuery
	}
	c, err := s.cases.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}

	lock := s.cases.caseLock(c.ID)
	lock.RLock()
	defer lock.RUnlock()

	chunkCount, err := s.cases.CountChunks(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	var matches []vectorindex.Result
	if chunkCount > 0 {
		if err := s.index.VerifyCount(c.ID, chunkCount); err != nil {
			return nil, err
		}
		vectors, err := s.embedder.EmbedTexts(ctx, []string{question})
		if err != nil {
			return nil, err
		}
		queryVec = vectors[0]

		k := req.TopK
		if k <= 0 {
			k = s.cfg.TopK()
		}
		minSim := s.cfg.MinSimilarity()
		if req.MinSimilarity != nil {
			minSim = *req.MinSimilarity
		}
		matches, err = s.index.Query(ctx, c.ID, queryVec, k, float32(minSim))
		if err != nil {
			return nil, err
		}
	}

	result := &QueryResult{
		CaseID:      c.ID,
		Question:    question,
		NoDocuments: chunkCount == 0,
	}

	messages, sources, iocs := s.compose(ctx, c, question, req.SessionID, matches, result.NoDocuments)
	result.Sources = sources
	result.ExtractedIOCs = iocs

	answer, err := s.generator.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	result.Answer = answer

	// Cross-case discovery reuses the question vector. It is advisory, so a
	// failure here degrades to an empty list instead of failing the answer.
	if queryVec != nil {
		similar, err := s.similarByVector(ctx, c.ID, queryVec)
		if err != nil {
			s.logger.Warn("Similar-case discovery failed", "caseID", c.ID, "error", err)
		} else {
			result.SimilarCases = similar
		}
	}

	if req.SessionID != "" {
		if err := s.conv.AppendTurn(ctx, req.SessionID, c.ID, db.TurnRoleUser, question); err != nil {
			return nil, err
		}
		if err := s.conv.AppendTurn(ctx, req.SessionID, c.ID, db.TurnRoleAssistant, answer); err != nil {
			return nil, err
		}
	}

	result.ProcessingTime = time.Since(started).Seconds()
	s.logger.Info("Query answered", "caseID", c.ID, "retrieved", len(sources), "noDocuments", result.NoDocuments)
	return result, nil
}

// compose assembles the prompt: system role, recent conversation turns, then
// the context block and question. Indicators found in the question and the
// retrieved excerpts are listed explicitly so the model can correlate them.
func (s *QueryService) compose(ctx context.Context, c *db.Case, question, sessionID string, matches []vectorindex.Result, noDocuments bool) ([]*schema.Message, []SourceRef, db.IocMap) {
	messages := []*schema.Message{schema.SystemMessage(osintSystemPrompt)}
	messages = append(messages, s.historyMessages(ctx, sessionID, c.ID)...)

	var b strings.Builder
	fmt.Fprintf(&b, "Case: %s (%s)\n", c.Title, c.CaseType)
	if c.Description != "" {
		fmt.Fprintf(&b, "Case description: %s\n", c.Description)
	}
	b.WriteString("\n")

	iocs := db.IocMap(textproc.ExtractIOCs(question))

	var sources []SourceRef
	switch {
	case noDocuments:
		b.WriteString(noDocumentsNote + "\n")
	case len(matches) == 0:
		b.WriteString("No case documents matched the question above the similarity threshold.\n")
	default:
		b.WriteString("Context excerpts from case documents:\n")
		var retrievedText strings.Builder
		for i, m := range matches {
			fmt.Fprintf(&b, "\n[%d] (relevance %.2f, source %s)\n%s\n", i+1, m.Score, sourceLabel(m.Metadata), m.Content)
			retrievedText.WriteString(m.Content)
			retrievedText.WriteString("\n")
			sources = append(sources, SourceRef{
				ChunkID:    m.ChunkID,
				DocumentID: m.Metadata["document_id"],
				Source:     m.Metadata["source"],
				Score:      m.Score,
				Excerpt:    excerpt(m.Content, 200),
			})
		}
		iocs.Merge(textproc.ExtractIOCs(retrievedText.String()))
		if block := indicatorBlock(iocs); block != "" {
			b.WriteString("\nIndicators of compromise in the question and excerpts:\n")
			b.WriteString(block)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s", question)
	messages = append(messages, schema.UserMessage(b.String()))
	return messages, sources, iocs
}

// historyMessages loads the recent turns of a session as chat messages.
// History is an enhancement; a load failure degrades to an empty history.
func (s *QueryService) historyMessages(ctx context.Context, sessionID, caseID string) []*schema.Message {
	if sessionID == "" {
		return nil
	}
	turns, err := s.conv.History(ctx, sessionID, caseID, s.cfg.ContextTurns())
	if err != nil {
		s.logger.Warn("Failed to load conversation history", "sessionID", sessionID, "error", err)
		return nil
	}
	var messages []*schema.Message
	for _, t := range turns {
		switch t.Role {
		case db.TurnRoleAssistant:
			messages = append(messages, schema.AssistantMessage(t.Text, nil))
		default:
			messages = append(messages, schema.UserMessage(t.Text))
		}
	}
	return messages
}

func sourceLabel(meta map[string]string) string {
	if src := meta["source"]; src != "" {
		return src
	}
	return "document " + meta["document_id"]
}

func excerpt(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

// indicatorBlock formats an IoC mapping, one type per line, in the
// extractor's canonical type order.
func indicatorBlock(iocs db.IocMap) string {
	if iocs.Total() == 0 {
		return ""
	}
	var b strings.Builder
	for _, typ := range textproc.IocTypes {
		if len(iocs[typ]) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", typ, strings.Join(iocs[typ], ", "))
	}
	return b.String()
}

// Chat answers a message on a chat session. With an active case the answer is
// retrieval-backed; without one it falls back to general conversation with no
// case material.
func (s *QueryService) Chat(ctx context.Context, sessionID, message string) (*QueryResult, error) {
	if caseID, ok := s.conv.ActiveCase(sessionID); ok {
		return s.Query(ctx, QueryRequest{CaseID: caseID, SessionID: sessionID, Question: message})
	}

	started := time.Now()
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyQuery
	}

	messages := []*schema.Message{schema.SystemMessage(generalChatSystemPrompt)}
	messages = append(messages, s.historyMessages(ctx, sessionID, "")...)
	messages = append(messages, schema.UserMessage(message))

	answer, err := s.generator.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}

	if err := s.conv.AppendTurn(ctx, sessionID, "", db.TurnRoleUser, message); err != nil {
		return nil, err
	}
	if err := s.conv.AppendTurn(ctx, sessionID, "", db.TurnRoleAssistant, answer); err != nil {
		return nil, err
	}

	return &QueryResult{
		Question:       message,
		Answer:         answer,
		ProcessingTime: time.Since(started).Seconds(),
	}, nil
}

// AnalyzeDocument generates a short analyst read of a freshly ingested
// document from its extracted annotations and an excerpt of its content.
func (s *QueryService) AnalyzeDocument(ctx context.Context, doc *db.Document) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Newly ingested document (%s", doc.DocType)
	if doc.Source != "" {
		fmt.Fprintf(&b, ", source %s", doc.Source)
	}
	fmt.Fprintf(&b, "), %d chunks.\n", doc.ChunkCount)

	if len(doc.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(doc.Keywords, ", "))
	}
	if len(doc.Entities) > 0 {
		parts := make([]string, 0, len(doc.Entities))
		for _, e := range doc.Entities {
			parts = append(parts, fmt.Sprintf("%s (%s)", e.Text, e.Label))
		}
		fmt.Fprintf(&b, "Entities: %s\n", strings.Join(parts, ", "))
	}
	if block := indicatorBlock(doc.IOCs); block != "" {
		b.WriteString("Indicators of compromise:\n")
		b.WriteString(block)
	}

	fmt.Fprintf(&b, "\nExcerpt:\n%s\n", excerpt(doc.Content, 1000))

	messages := []*schema.Message{
		schema.SystemMessage(ingestAnalysisSystemPrompt),
		schema.UserMessage(b.String()),
	}
	return s.generator.Generate(ctx, messages)
}

// SimilarCases finds other active cases whose documents resemble the given
// text.
func (s *QueryService) SimilarCases(ctx context.Context, caseID, text string) ([]CaseMatch, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	if _, err := s.cases.GetCase(ctx, caseID); err != nil {
		return nil, err
	}

	vectors, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return s.similarByVector(ctx, caseID, vectors[0])
}

func (s *QueryService) similarByVector(ctx context.Context, caseID string, vector []float32) ([]CaseMatch, error) {
	candidates, err := s.cases.ListCases(ctx, db.CaseStatusActive)
	if err != nil {
		return nil, err
	}

	minSim := float32(s.cfg.CrossCaseMin())
	var out []CaseMatch
	for _, c := range candidates {
		if c.ID == caseID {
			continue
		}
		results, err := s.index.Query(ctx, c.ID, vector, s.cfg.TopK(), minSim)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			continue
		}
		out = append(out, CaseMatch{
			CaseID:    c.ID,
			Title:     c.Title,
			CaseType:  c.CaseType,
			BestScore: results[0].Score,
			Matches:   len(results),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].BestScore > out[j].BestScore })
	return out, nil
}

// Summarize produces the aggregate statistics together with an analyst-style
// briefing generated from the case profile.
func (s *QueryService) Summarize(ctx context.Context, caseID string) (*CaseSummary, error) {
	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	stats, err := s.cases.Statistics(ctx, caseID)
	if err != nil {
		return nil, err
	}
	summary := &CaseSummary{CaseID: c.ID, Statistics: stats}
	if stats.TotalDocuments == 0 {
		summary.AISummary = noDocumentsNote
		return summary, nil
	}
	docs, err := s.cases.ListDocuments(ctx, caseID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Case profile for %q (%s, status %s)\n", c.Title, c.CaseType, c.Status)
	if c.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", c.Description)
	}
	fmt.Fprintf(&b, "Documents: %d, chunks: %d, entities: %d, indicators: %d\n",
		stats.TotalDocuments, stats.TotalChunks, stats.TotalEntities, stats.TotalIOCs)

	if len(stats.TopKeywords) > 0 {
		b.WriteString("Top keywords:")
		for _, kw := range stats.TopKeywords {
			fmt.Fprintf(&b, " %s(%d)", kw.Keyword, kw.Count)
		}
		b.WriteString("\n")
	}
	for _, typ := range textproc.IocTypes {
		if len(stats.IOCs[typ]) > 0 {
			fmt.Fprintf(&b, "IOC %s: %s\n", typ, strings.Join(stats.IOCs[typ], ", "))
		}
	}

	b.WriteString("\nDocuments:\n")
	for _, d := range docs {
		label := d.Source
		if label == "" {
			label = d.ID
		}
		fmt.Fprintf(&b, "- %s (%s, %d chunks)", label, d.DocType, d.ChunkCount)
		if len(d.Entities) > 0 {
			names := make([]string, 0, len(d.Entities))
			for _, e := range d.Entities {
				names = append(names, e.Text)
			}
			fmt.Fprintf(&b, " entities: %s", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}

	messages := []*schema.Message{
		schema.SystemMessage(caseSummarySystemPrompt),
		schema.UserMessage(b.String()),
	}
	answer, err := s.generator.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	summary.AISummary = answer
	return summary, nil
}
