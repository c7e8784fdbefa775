package database

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/ragcore/internal/models"
)

// ChunkRepository is the sqlx-backed gateway to the chunks table and the
// match_chunks/search_chunks_bm25/search_chunks_fuzzy/hybrid_search RPC
// functions (spec §6 database contracts).
type ChunkRepository struct {
	db *DB
}

func NewChunkRepository(db *DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// formatVector renders a []float32 as a pgvector literal ("[0.1,0.2,...]").
// No pgvector Go driver is vendored in this module's dependency set, so the
// literal is built by hand the way a codebase without that driver would.
func formatVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

type chunkRow struct {
	ID         string          `db:"id"`
	FileID     *string         `db:"file_id"`
	Content    string          `db:"content"`
	Namespace  *string         `db:"namespace"`
	Metadata   json.RawMessage `db:"metadata"`
	Similarity *float64        `db:"similarity"`
	Rank       *float64        `db:"rank"`
}

func (r chunkRow) toChunk() models.Chunk {
	c := models.Chunk{ChunkID: r.ID, FileID: r.FileID, Content: r.Content, Namespace: r.Namespace}
	if len(r.Metadata) > 0 {
		var m map[string]interface{}
		if err := json.Unmarshal(r.Metadata, &m); err == nil {
			c.Metadata = m
		}
	}
	return c
}

func (r chunkRow) score() float64 {
	if r.Similarity != nil {
		return *r.Similarity
	}
	if r.Rank != nil {
		return *r.Rank
	}
	return 0
}

// MatchChunks calls match_chunks for dense cosine-similarity search.
func (c *ChunkRepository) MatchChunks(ctx context.Context, embedding []float32, threshold float64, limit int, namespace *string) ([]models.Chunk, []float64, error) {
	var rows []chunkRow
	query := `SELECT id, file_id, content, namespace, metadata, similarity
	          FROM match_chunks($1::vector, $2, $3, $4, NULL)`
	if err := sqlx.SelectContext(ctx, c.db.Conn(), &rows, query, formatVector(embedding), threshold, limit, namespace); err != nil {
		return nil, nil, TranslateError(err, "chunks")
	}
	return unpack(rows)
}

// SearchBM25 calls search_chunks_bm25 for sparse ranking.
func (c *ChunkRepository) SearchBM25(ctx context.Context, queryText string, limit int, minRank float64, namespace *string) ([]models.Chunk, []float64, error) {
	var rows []chunkRow
	query := `SELECT id, file_id, content, namespace, metadata, rank
	          FROM search_chunks_bm25($1, $2, $3, $4)`
	if err := sqlx.SelectContext(ctx, c.db.Conn(), &rows, query, queryText, limit, minRank, namespace); err != nil {
		return nil, nil, TranslateError(err, "chunks")
	}
	return unpack(rows)
}

// SearchFuzzy calls search_chunks_fuzzy for trigram similarity.
func (c *ChunkRepository) SearchFuzzy(ctx context.Context, queryText string, limit int, minSimilarity float64, namespace *string) ([]models.Chunk, []float64, error) {
	var rows []chunkRow
	query := `SELECT id, file_id, content, namespace, metadata, similarity
	          FROM search_chunks_fuzzy($1, $2, $3, $4)`
	if err := sqlx.SelectContext(ctx, c.db.Conn(), &rows, query, queryText, limit, minSimilarity, namespace); err != nil {
		return nil, nil, TranslateError(err, "chunks")
	}
	return unpack(rows)
}

// SearchILike runs a plain substring match; there is no server-side RPC and
// no client-side fallback for this method (spec §4.5, grounded on the
// original _ilike_search, which has no Python fallback path).
func (c *ChunkRepository) SearchILike(ctx context.Context, substr string, limit int, namespace *string) ([]models.Chunk, []float64, error) {
	var rows []chunkRow
	query := `SELECT id, file_id, content, namespace, metadata
	          FROM chunks
	          WHERE content ILIKE '%' || $1 || '%'
	            AND ($2::text IS NULL OR namespace = $2)
	          LIMIT $3`
	if err := sqlx.SelectContext(ctx, c.db.Conn(), &rows, query, substr, namespace, limit); err != nil {
		return nil, nil, TranslateError(err, "chunks")
	}
	chunks := make([]models.Chunk, len(rows))
	scores := make([]float64, len(rows))
	for i, r := range rows {
		chunks[i] = r.toChunk()
		scores[i] = 1.0
	}
	return chunks, scores, nil
}

type hybridRow struct {
	ID          string          `db:"id"`
	Content     string          `db:"content"`
	FileID      *string         `db:"file_id"`
	RRFScore    *float64        `db:"rrf_score"`
	DenseScore  *float64        `db:"dense_score"`
	SparseScore *float64        `db:"sparse_score"`
	FuzzyScore  *float64        `db:"fuzzy_score"`
}

// HybridSearchRPCParams mirrors hybrid_search's SQL signature.
type HybridSearchRPCParams struct {
	QueryText                                string
	QueryEmbedding                            []float32
	DenseWeight, SparseWeight, FuzzyWeight    float64
	DenseThreshold, SparseThreshold, FuzzyThreshold float64
	DenseCount, SparseCount, FuzzyCount       int
	RRFK, TopK                                int
	Namespace                                 *string
}

// HybridSearchRPC calls the one-shot server-side fusion function.
func (c *ChunkRepository) HybridSearchRPC(ctx context.Context, p HybridSearchRPCParams) ([]models.SearchResult, error) {
	var rows []hybridRow
	query := `SELECT id, content, file_id, rrf_score, dense_score, sparse_score, fuzzy_score
	          FROM hybrid_search($1, $2::vector, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	err := sqlx.SelectContext(ctx, c.db.Conn(), &rows, query,
		p.QueryText, formatVector(p.QueryEmbedding),
		p.DenseWeight, p.SparseWeight, p.FuzzyWeight,
		p.DenseThreshold, p.SparseThreshold, p.FuzzyThreshold,
		p.DenseCount, p.SparseCount, p.FuzzyCount,
		p.RRFK, p.TopK, p.Namespace)
	if err != nil {
		return nil, TranslateError(err, "chunks")
	}

	results := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		rrf := 0.0
		if r.RRFScore != nil {
			rrf = *r.RRFScore
		}
		results[i] = models.SearchResult{
			ChunkID:     r.ID,
			Content:     r.Content,
			FileID:      r.FileID,
			Score:       rrf,
			Rank:        i + 1,
			Method:      models.MethodHybridRPC,
			RRFScore:    r.RRFScore,
			DenseScore:  r.DenseScore,
			SparseScore: r.SparseScore,
			FuzzyScore:  r.FuzzyScore,
		}
	}
	return results, nil
}

// IncrementNodeMentionCount calls the atomic counter function for graph
// nodes. This core doesn't own the graph; it only relays the increment.
func (c *ChunkRepository) IncrementNodeMentionCount(ctx context.Context, nodeID string, delta int64) (int64, error) {
	var newCount int64
	query := `SELECT increment_node_mention_count($1::uuid, $2)`
	if err := sqlx.GetContext(ctx, c.db.Conn(), &newCount, query, nodeID, delta); err != nil {
		return 0, TranslateError(err, "graph_nodes")
	}
	return newCount, nil
}

// IncrementEdgeObservationCount calls the atomic counter function for graph
// edges.
func (c *ChunkRepository) IncrementEdgeObservationCount(ctx context.Context, edgeID string, delta int64) (int64, error) {
	var newCount int64
	query := `SELECT increment_edge_observation_count($1::uuid, $2)`
	if err := sqlx.GetContext(ctx, c.db.Conn(), &newCount, query, edgeID, delta); err != nil {
		return 0, TranslateError(err, "graph_edges")
	}
	return newCount, nil
}

// SearchStats reports corpus-wide counters surfaced by the search stats
// endpoint (grounded on hybrid_search_service.py's get_search_stats RPC).
type SearchStats struct {
	TotalChunks     int64 `db:"total_chunks" json:"total_chunks"`
	ChunksWithTSV   int64 `db:"chunks_with_tsv" json:"chunks_with_tsv"`
	TotalEmbeddings int64 `db:"total_embeddings" json:"total_embeddings"`
}

// Stats calls the get_search_stats RPC, matching the RPC-first convention
// used by every other search method in this repository.
func (c *ChunkRepository) Stats(ctx context.Context) (SearchStats, error) {
	var stats SearchStats
	query := `SELECT total_chunks, chunks_with_tsv, total_embeddings FROM get_search_stats()`
	if err := sqlx.GetContext(ctx, c.db.Conn(), &stats, query); err != nil {
		return SearchStats{}, TranslateError(err, "chunks")
	}
	return stats, nil
}

func unpack(rows []chunkRow) ([]models.Chunk, []float64, error) {
	chunks := make([]models.Chunk, len(rows))
	scores := make([]float64, len(rows))
	for i, r := range rows {
		chunks[i] = r.toChunk()
		scores[i] = r.score()
	}
	return chunks, scores, nil
}
