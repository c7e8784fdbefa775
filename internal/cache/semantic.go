package cache

import (
	"context"
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/embedding"
	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/observability"
)

// NormalizeQuery canonicalizes a query string before hashing, so
// "What is Go?" and "what is go" hit the same exact-cache key.
func NormalizeQuery(q string) string {
	out := make([]rune, 0, len(q))
	lastSpace := false
	for _, r := range q {
		lower := toLowerRune(r)
		if lower == ' ' {
			if lastSpace {
				continue
			}
			lastSpace = true
		} else {
			lastSpace = false
		}
		out = append(out, lower)
	}
	// trim
	start, end := 0, len(out)
	for start < end && out[start] == ' ' {
		start++
	}
	for end > start && out[end-1] == ' ' {
		end--
	}
	return string(out[start:end])
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	if r == '\t' || r == '\n' || r == '\r' {
		return ' '
	}
	return r
}

// semanticRecord is the value stored under the search:sem:<hash> namespace.
type semanticRecord struct {
	Query     string    `json:"query"`
	Embedding []float32 `json:"embedding"`
	Result    []byte    `json:"result"`
	CachedAt  time.Time `json:"cached_at"`
}

type scoredResultSet struct {
	max float64
}

func (s scoredResultSet) MaxScore() float64 { return s.max }

// SemanticCache layers embedding-similarity lookups over a TieredCache
// (spec §4.4).
type SemanticCache struct {
	tiered   *TieredCache
	embedder embedding.Embedder
	cfg      config.SemanticCacheConfig
	logger   observability.Logger
	metrics  observability.MetricsClient

	// counters are mutated only through sync/atomic: Lookup is called
	// concurrently by every orchestrator Search call.
	totalRequests int64
	exactHits     int64
	highHits      int64
	mediumHits    int64
	misses        int64
}

func NewSemanticCache(tiered *TieredCache, embedder embedding.Embedder, cfg config.SemanticCacheConfig, logger observability.Logger, metrics observability.MetricsClient) (*SemanticCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &SemanticCache{tiered: tiered, embedder: embedder, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Lookup runs the full lookup algorithm of spec §4.4: exact hash first, then
// an embedding-similarity scan over up to MaxCandidates semantic records.
func (s *SemanticCache) Lookup(ctx context.Context, query string) models.SemanticCacheResult {
	atomic.AddInt64(&s.totalRequests, 1)
	normalized := NormalizeQuery(query)

	if res := s.tiered.Get(ctx, SemanticExactKey(normalized)); res.Hit() {
		atomic.AddInt64(&s.exactHits, 1)
		s.metrics.IncrementCounterWithLabels("semantic_cache.hit", 1, map[string]string{"tier": "exact"})
		return models.SemanticCacheResult{Tier: models.TierExact, Similarity: 1.0, Data: res.Data, IsUsable: true}
	}

	queryEmbedding, err := s.resolveEmbedding(ctx, normalized)
	if err != nil || len(queryEmbedding) == 0 {
		atomic.AddInt64(&s.misses, 1)
		return models.SemanticCacheResult{Tier: models.TierMiss}
	}

	keys, err := s.tiered.L1().Scan(ctx, "search:sem:*", s.cfg.MaxCandidates)
	if err != nil || len(keys) == 0 {
		keys, _ = s.tiered.L2().Scan(ctx, "search:sem:*", s.cfg.MaxCandidates)
	}

	bestSim := -1.0
	var bestRecord *semanticRecord
	for _, key := range keys {
		data, ok := s.tiered.L1().Get(ctx, key)
		if !ok {
			data, ok = s.tiered.L2().Get(ctx, key)
		}
		if !ok {
			continue
		}
		var rec semanticRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // corrupt entry: treated as a miss for this candidate, invalidated opportunistically
		}
		if len(rec.Embedding) != len(queryEmbedding) {
			continue
		}
		sim := CosineSimilarity(queryEmbedding, rec.Embedding)
		if sim > bestSim {
			bestSim = sim
			r := rec
			bestRecord = &r
		}
	}

	tier, usable := classifyTier(bestSim, s.cfg)
	switch tier {
	case models.TierExact, models.TierHigh:
		if usable {
			if tier == models.TierExact {
				atomic.AddInt64(&s.exactHits, 1)
			} else {
				atomic.AddInt64(&s.highHits, 1)
			}
			s.metrics.IncrementCounterWithLabels("semantic_cache.hit", 1, map[string]string{"tier": string(tier)})
			return models.SemanticCacheResult{Tier: tier, Similarity: bestSim, Data: bestRecord.Result, IsUsable: true}
		}
	case models.TierMedium:
		atomic.AddInt64(&s.mediumHits, 1)
		s.metrics.IncrementCounterWithLabels("semantic_cache.medium", 1, nil)
	}
	atomic.AddInt64(&s.misses, 1)
	return models.SemanticCacheResult{Tier: models.TierMiss}
}

func classifyTier(similarity float64, cfg config.SemanticCacheConfig) (models.SemanticTier, bool) {
	switch {
	case similarity >= cfg.ExactThreshold:
		return models.TierExact, true
	case similarity >= cfg.HighThreshold:
		return models.TierHigh, true
	case similarity >= cfg.MediumThreshold:
		return models.TierMedium, false
	default:
		return models.TierLow, false
	}
}

// Store writes both the exact key and the semantic-scan key, gated by the
// same relevance threshold as the underlying tiered cache.
func (s *SemanticCache) Store(ctx context.Context, query string, result []byte, maxScore float64) (bool, error) {
	normalized := NormalizeQuery(query)
	queryEmbedding, err := s.resolveEmbedding(ctx, normalized)
	if err != nil {
		s.logger.Warn("failed to resolve embedding for semantic cache write", map[string]interface{}{"error": err.Error()})
		queryEmbedding = nil
	}

	payload := scoredResultSet{max: maxScore}
	wrote, err := s.tiered.CacheIfRelevant(ctx, SemanticExactKey(normalized), result, payload)
	if err != nil || !wrote {
		return wrote, err
	}

	if len(queryEmbedding) > 0 {
		rec := semanticRecord{Query: query, Embedding: queryEmbedding, Result: result, CachedAt: time.Now()}
		data, err := json.Marshal(rec)
		if err == nil {
			_ = s.tiered.Set(ctx, SemanticScanKey(normalized), data)
		}
	}
	return true, nil
}

func (s *SemanticCache) resolveEmbedding(ctx context.Context, normalized string) ([]float32, error) {
	key := EmbeddingKey(normalized)
	if res := s.tiered.Get(ctx, key); res.Hit() {
		var vec []float32
		if err := json.Unmarshal(res.Data, &vec); err == nil {
			return vec, nil
		}
	}
	if s.embedder == nil {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(vec); err == nil {
		_ = s.tiered.l1.Set(ctx, key, data, s.cfg.EmbeddingTTL)
		_ = s.tiered.l2.Set(ctx, key, data, s.cfg.EmbeddingTTL)
	}
	return vec, nil
}

// Stats satisfies the metrics invariant: total_requests = exact_hits +
// high_hits + medium_hits + misses; reported hit rate only counts exact+high.
type SemanticCacheStats struct {
	TotalRequests int64
	ExactHits     int64
	HighHits      int64
	MediumHits    int64
	Misses        int64
	HitRate       float64
}

func (s *SemanticCache) Stats() SemanticCacheStats {
	total := atomic.LoadInt64(&s.totalRequests)
	exact := atomic.LoadInt64(&s.exactHits)
	high := atomic.LoadInt64(&s.highHits)
	medium := atomic.LoadInt64(&s.mediumHits)
	misses := atomic.LoadInt64(&s.misses)

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(exact+high) / float64(total)
	}
	return SemanticCacheStats{
		TotalRequests: total,
		ExactHits:     exact,
		HighHits:      high,
		MediumHits:    medium,
		Misses:        misses,
		HitRate:       hitRate,
	}
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
