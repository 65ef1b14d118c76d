// Package vectorindex stores chunk embeddings per case and answers
// k-nearest-neighbor similarity queries, backed by chromem-go. Each case gets
// its own collection, so a query for one case can never see another case's
// vectors.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/limitless/limitless/pkg/utils"
)

// ErrIndexCorrupted signals a vector/chunk bookkeeping mismatch for a case.
// Retrieval for that case should be considered unreliable until re-indexed.
var ErrIndexCorrupted = errors.New("vector index corrupted")

// MetaSeq is the metadata key carrying the case-wide ingestion sequence,
// used to break similarity ties (most recent first).
const MetaSeq = "seq"

// Result is one similarity match.
type Result struct {
	ChunkID  string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Index is a per-case vector store. Similarity is cosine; the score cutoff
// is supplied by the caller on every query, never hard-coded here.
type Index struct {
	db          *chromem.DB
	collections sync.Map // caseID -> *chromem.Collection
	logger      *slog.Logger
}

// New creates an index persisted under path. An empty path yields an
// in-memory index (tests).
func New(path string) (*Index, error) {
	ix := &Index{logger: utils.GetLogger()}

	if path == "" {
		ix.db = chromem.NewDB()
		return ix, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create vector store directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("create vector DB: %w", err)
	}
	ix.db = db
	return ix, nil
}

func collectionName(caseID string) string {
	return "case_" + caseID
}

// rejectingEmbeddingFunc guards against accidental text-only inserts: every
// vector stored here is computed by the embedding client up front.
func rejectingEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("vector index requires precomputed embeddings")
}

func (ix *Index) collection(caseID string) (*chromem.Collection, error) {
	name := collectionName(caseID)
	if col, ok := ix.collections.Load(name); ok {
		return col.(*chromem.Collection), nil
	}

	col := ix.db.GetCollection(name, rejectingEmbeddingFunc)
	if col == nil {
		var err error
		col, err = ix.db.CreateCollection(name, nil, rejectingEmbeddingFunc)
		if err != nil {
			return nil, fmt.Errorf("create collection for case %s: %w", caseID, err)
		}
	}
	ix.collections.Store(name, col)
	return col, nil
}

// Upsert stores (or replaces) the vector and metadata for a chunk.
// Idempotent per chunk id: re-adding the same id replaces the prior entry.
func (ix *Index) Upsert(ctx context.Context, caseID, chunkID string, vector []float32, content string, metadata map[string]string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for chunk %s", chunkID)
	}
	col, err := ix.collection(caseID)
	if err != nil {
		return err
	}

	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["case_id"] = caseID

	if err := col.AddDocument(ctx, chromem.Document{
		ID:        chunkID,
		Content:   content,
		Embedding: vector,
		Metadata:  metadata,
	}); err != nil {
		return fmt.Errorf("upsert chunk %s for case %s: %w", chunkID, caseID, err)
	}
	return nil
}

// Query returns up to k chunks of the given case with cosine similarity
// >= minSimilarity, ordered by score descending; ties broken by most recent
// ingestion sequence first. An empty or unknown case yields no results.
func (ix *Index) Query(ctx context.Context, caseID string, vector []float32, k int, minSimilarity float32) ([]Result, error) {
	col := ix.db.GetCollection(collectionName(caseID), rejectingEmbeddingFunc)
	if col == nil || col.Count() == 0 {
		return nil, nil
	}

	// Fetch beyond k so score ties at the boundary resolve by recency
	// instead of by chromem's internal ordering.
	n := 2 * k
	if count := col.Count(); n > count {
		n = count
	}
	if n < 1 {
		return nil, nil
	}

	matches, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query case %s: %w", caseID, err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < minSimilarity {
			continue
		}
		results = append(results, Result{
			ChunkID:  m.ID,
			Score:    m.Similarity,
			Content:  m.Content,
			Metadata: m.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return seqOf(results[i]) > seqOf(results[j])
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func seqOf(r Result) int64 {
	v, err := strconv.ParseInt(r.Metadata[MetaSeq], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Count returns the number of vectors stored for a case.
func (ix *Index) Count(caseID string) int {
	col := ix.db.GetCollection(collectionName(caseID), rejectingEmbeddingFunc)
	if col == nil {
		return 0
	}
	return col.Count()
}

// DeleteCase removes every vector belonging to a case.
func (ix *Index) DeleteCase(ctx context.Context, caseID string) error {
	name := collectionName(caseID)
	ix.collections.Delete(name)

	if col := ix.db.GetCollection(name, rejectingEmbeddingFunc); col == nil {
		return nil
	}
	if err := ix.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection for case %s: %w", caseID, err)
	}
	ix.logger.Debug("Case vectors deleted", "caseID", caseID)
	return nil
}

// VerifyCount checks the stored vector count against the expected chunk
// count for a case, surfacing bookkeeping drift as ErrIndexCorrupted.
func (ix *Index) VerifyCount(caseID string, expected int) error {
	got := ix.Count(caseID)
	if got != expected {
		return fmt.Errorf("%w: case %s has %d vectors, expected %d chunks; re-index recommended", ErrIndexCorrupted, caseID, got, expected)
	}
	return nil
}

// Ready reports whether the underlying store is usable.
func (ix *Index) Ready() bool {
	return ix != nil && ix.db != nil
}
