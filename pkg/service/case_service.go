// Case lifecycle, document ingestion and case statistics
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/limitless/limitless/pkg/config"
	"github.com/limitless/limitless/pkg/db"
	"github.com/limitless/limitless/pkg/llm"
	"github.com/limitless/limitless/pkg/textproc"
	"github.com/limitless/limitless/pkg/utils"
	"github.com/limitless/limitless/pkg/vectorindex"
)

// CaseService owns case records and everything derived from their documents.
// Mutations within a case are serialized by a per-case lock; reads run
// concurrently. Operations on different cases never block each other.
type CaseService struct {
	db       *gorm.DB
	index    *vectorindex.Index
	embedder llm.Embedder
	cfg      *config.AppConfig
	logger   *slog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.RWMutex

	cacheMu    sync.Mutex
	statsCache map[string]*db.CaseStatistics

	// Invoked after a case is fully deleted (set by wiring, see
	// SetOnCaseDeleted). Used to detach chat sessions from the dead case.
	onCaseDeleted func(caseID string)
}

// NewCaseService creates a case service.
func NewCaseService(database *gorm.DB, index *vectorindex.Index, embedder llm.Embedder, cfg *config.AppConfig) *CaseService {
	return &CaseService{
		db:         database,
		index:      index,
		embedder:   embedder,
		cfg:        cfg,
		logger:     utils.GetLogger(),
		locks:      make(map[string]*sync.RWMutex),
		statsCache: make(map[string]*db.CaseStatistics),
	}
}

// SetOnCaseDeleted registers a callback run after a case is deleted.
func (s *CaseService) SetOnCaseDeleted(fn func(caseID string)) {
	s.onCaseDeleted = fn
}

// caseLock returns the lock for a case, creating it on first use. Locks are
// not removed on case deletion; a stale entry is a few bytes and keeps
// late-arriving requests on the same lock.
func (s *CaseService) caseLock(caseID string) *sync.RWMutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[caseID]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[caseID] = l
	}
	return l
}

func (s *CaseService) invalidateStats(caseID string) {
	s.cacheMu.Lock()
	delete(s.statsCache, caseID)
	s.cacheMu.Unlock()
}

// CreateCase registers a new investigation case. An empty caseType defaults
// to intelligence.
func (s *CaseService) CreateCase(ctx context.Context, title string, caseType db.CaseType, description string) (*db.Case, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > 200 {
		return nil, fmt.Errorf("%w: must be non-empty and at most 200 characters", ErrInvalidTitle)
	}
	if caseType == "" {
		caseType = db.CaseTypeIntelligence
	}
	if !db.ValidCaseType(caseType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCaseType, caseType)
	}

	c := &db.Case{
		ID:          uuid.NewString(),
		Title:       title,
		CaseType:    caseType,
		Description: strings.TrimSpace(description),
		Status:      db.CaseStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}

	s.logger.Info("Case created", "caseID", c.ID, "type", c.CaseType, "title", c.Title)
	return c, nil
}

// GetCase fetches a case by id.
func (s *CaseService) GetCase(ctx context.Context, caseID string) (*db.Case, error) {
	var c db.Case
	if err := s.db.WithContext(ctx).First(&c, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
		}
		return nil, fmt.Errorf("get case %s: %w", caseID, err)
	}
	return &c, nil
}

// ListCases returns cases newest first, optionally filtered by status.
func (s *CaseService) ListCases(ctx context.Context, status string) ([]db.Case, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var cases []db.Case
	if err := q.Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return cases, nil
}

// CloseCase archives a case. Closed cases stay queryable but reject new
// documents. Closing an already closed case is a no-op.
func (s *CaseService) CloseCase(ctx context.Context, caseID string) (*db.Case, error) {
	lock := s.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == db.CaseStatusClosed {
		return c, nil
	}

	if err := s.db.WithContext(ctx).Model(c).Update("status", db.CaseStatusClosed).Error; err != nil {
		return nil, fmt.Errorf("close case %s: %w", caseID, err)
	}
	c.Status = db.CaseStatusClosed
	s.logger.Info("Case closed", "caseID", caseID)
	return c, nil
}

// DeleteCase removes a case together with its documents, chunks, indicator
// records, conversation turns and vectors.
func (s *CaseService) DeleteCase(ctx context.Context, caseID string) error {
	lock := s.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.GetCase(ctx, caseID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&db.ConversationTurn{}, &db.IocRecord{}, &db.Chunk{}, &db.Document{}} {
			if err := tx.Where("case_id = ?", caseID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&db.Case{}, "id = ?", caseID).Error
	})
	if err != nil {
		return fmt.Errorf("delete case %s: %w", caseID, err)
	}

	if err := s.index.DeleteCase(ctx, caseID); err != nil {
		// The relational rows are gone; report but don't resurrect the case.
		s.logger.Error("Failed to delete case vectors", "caseID", caseID, "error", err)
	}
	s.invalidateStats(caseID)
	if s.onCaseDeleted != nil {
		s.onCaseDeleted(caseID)
	}
	s.logger.Info("Case deleted", "caseID", caseID)
	return nil
}

// IngestText adds a document to a case: chunk, annotate, embed, persist,
// index. Embedding happens before anything is persisted, so an embedding
// failure leaves no partial document behind. Identical text ingested twice
// yields two independent documents.
func (s *CaseService) IngestText(ctx context.Context, caseID, docType, source, content string) (*db.Document, error) {
	lock := s.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != db.CaseStatusActive {
		return nil, fmt.Errorf("%w: %s", ErrCaseClosed, caseID)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyDocument
	}
	if docType == "" {
		docType = "text"
	}

	chunks, err := textproc.SplitTokens(content, s.cfg.ChunkSize(), s.cfg.ChunkOverlap())
	if err != nil {
		if errors.Is(err, textproc.ErrEmptyInput) {
			return nil, ErrEmptyDocument
		}
		return nil, fmt.Errorf("chunk document: %w", err)
	}

	normalized, err := textproc.Normalize(content)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	iocs := textproc.ExtractIOCs(content)

	// Embed every chunk up front. Nothing is persisted if any vector fails.
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	doc := &db.Document{
		ID:         uuid.NewString(),
		CaseID:     caseID,
		DocType:    docType,
		Source:     source,
		Content:    content,
		ChunkCount: len(chunks),
		Keywords:   db.StringArray(normalized.Keywords),
		IOCs:       db.IocMap(iocs),
	}
	for _, e := range normalized.Entities {
		doc.Entities = append(doc.Entities, db.Entity{Text: e.Text, Label: e.Label})
	}

	records := make([]db.Chunk, len(chunks))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Raw("SELECT COALESCE(MAX(seq), 0) FROM chunks").Scan(&maxSeq).Error; err != nil {
			return err
		}

		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		for i, ch := range chunks {
			records[i] = db.Chunk{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				CaseID:     caseID,
				Ordinal:    ch.Ordinal,
				Text:       ch.Text,
				TokenCount: ch.TokenCount,
				Seq:        maxSeq + int64(i) + 1,
			}
		}
		if err := tx.CreateInBatches(records, 100).Error; err != nil {
			return err
		}

		for _, iocType := range textproc.IocTypes {
			for _, value := range iocs[iocType] {
				rec := db.IocRecord{
					CaseID:     caseID,
					DocumentID: doc.ID,
					IocType:    iocType,
					Value:      value,
				}
				if err := tx.Create(&rec).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist document: %w", err)
	}

	for i, rec := range records {
		meta := map[string]string{
			vectorindex.MetaSeq: strconv.FormatInt(rec.Seq, 10),
			"document_id":       doc.ID,
			"ordinal":           strconv.Itoa(rec.Ordinal),
		}
		if source != "" {
			meta["source"] = source
		}
		if err := s.index.Upsert(ctx, caseID, rec.ID, vectors[i], rec.Text, meta); err != nil {
			return nil, fmt.Errorf("index chunk %d of document %s: %w", rec.Ordinal, doc.ID, err)
		}
	}

	s.invalidateStats(caseID)
	s.logger.Info("Document ingested",
		"caseID", caseID, "documentID", doc.ID, "chunks", len(chunks),
		"entities", len(doc.Entities), "iocs", doc.IOCs.Total())
	return doc, nil
}

// ListDocuments returns a case's documents in ingestion order.
func (s *CaseService) ListDocuments(ctx context.Context, caseID string) ([]db.Document, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	var docs []db.Document
	if err := s.db.WithContext(ctx).Where("case_id = ?", caseID).Order("created_at ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents for case %s: %w", caseID, err)
	}
	return docs, nil
}

// CountChunks returns the number of stored chunks for a case.
func (s *CaseService) CountChunks(ctx context.Context, caseID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&db.Chunk{}).Where("case_id = ?", caseID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count chunks for case %s: %w", caseID, err)
	}
	return int(n), nil
}

// Statistics aggregates the case's documents into summary counts. Results
// are cached until the next ingestion or deletion; re-aggregation always
// reproduces the same values.
func (s *CaseService) Statistics(ctx context.Context, caseID string) (*db.CaseStatistics, error) {
	lock := s.caseLock(caseID)
	lock.RLock()
	defer lock.RUnlock()

	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	cached, ok := s.statsCache[caseID]
	s.cacheMu.Unlock()
	if ok {
		return cached, nil
	}

	var docs []db.Document
	if err := s.db.WithContext(ctx).Where("case_id = ?", caseID).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("load documents for case %s: %w", caseID, err)
	}

	stats := &db.CaseStatistics{
		DocumentTypes: map[string]int{},
		IOCs:          db.IocMap{},
	}
	keywordFreq := map[string]int{}
	keywordOrder := []string{}

	for _, d := range docs {
		stats.TotalDocuments++
		stats.TotalChunks += d.ChunkCount
		stats.TotalEntities += len(d.Entities)
		stats.DocumentTypes[d.DocType]++
		stats.IOCs.Merge(d.IOCs)
		for _, kw := range d.Keywords {
			if _, seen := keywordFreq[kw]; !seen {
				keywordOrder = append(keywordOrder, kw)
			}
			keywordFreq[kw]++
		}
	}
	stats.TotalIOCs = stats.IOCs.Total()

	// Rank keywords by document frequency, ties by first appearance.
	sort.SliceStable(keywordOrder, func(i, j int) bool {
		return keywordFreq[keywordOrder[i]] > keywordFreq[keywordOrder[j]]
	})
	limit := textproc.MaxKeywords
	if len(keywordOrder) < limit {
		limit = len(keywordOrder)
	}
	for _, kw := range keywordOrder[:limit] {
		stats.TopKeywords = append(stats.TopKeywords, db.KeywordCount{Keyword: kw, Count: keywordFreq[kw]})
	}

	s.cacheMu.Lock()
	s.statsCache[caseID] = stats
	s.cacheMu.Unlock()
	return stats, nil
}
