// Package config holds the typed, defaulted configuration structs for every
// tunable component, each with a Validate step run at construction.
package config

import (
	"fmt"
	"math"
	"time"
)

// TieredCacheConfig configures the L1/L2 composition (spec §4.3).
type TieredCacheConfig struct {
	L1Enabled        bool
	L2Enabled        bool
	L1TTL            time.Duration
	L2TTL            time.Duration
	PromoteToL1      bool
	SemanticThreshold float64
}

func DefaultTieredCacheConfig() TieredCacheConfig {
	return TieredCacheConfig{
		L1Enabled:         true,
		L2Enabled:         true,
		L1TTL:             15 * time.Minute,
		L2TTL:             24 * time.Hour,
		PromoteToL1:       true,
		SemanticThreshold: 0.85,
	}
}

func (c *TieredCacheConfig) Validate() error {
	if c.SemanticThreshold < 0 || c.SemanticThreshold > 1 {
		return fmt.Errorf("semantic_threshold must be within [0,1], got %f", c.SemanticThreshold)
	}
	if !c.L1Enabled && !c.L2Enabled {
		return fmt.Errorf("at least one cache level must be enabled")
	}
	return nil
}

// SemanticCacheConfig configures the embedding-similarity layer (spec §4.4).
type SemanticCacheConfig struct {
	ExactThreshold   float64
	HighThreshold    float64
	MediumThreshold  float64
	MaxCandidates    int
	ResultTTL        time.Duration
	EmbeddingTTL     time.Duration
}

func DefaultSemanticCacheConfig() SemanticCacheConfig {
	return SemanticCacheConfig{
		ExactThreshold:  0.98,
		HighThreshold:   0.93,
		MediumThreshold: 0.88,
		MaxCandidates:   100,
		ResultTTL:       5 * time.Minute,
		EmbeddingTTL:    time.Hour,
	}
}

func (c *SemanticCacheConfig) Validate() error {
	if !(c.MediumThreshold <= c.HighThreshold && c.HighThreshold <= c.ExactThreshold) {
		return fmt.Errorf("thresholds must satisfy medium <= high <= exact, got %f <= %f <= %f",
			c.MediumThreshold, c.HighThreshold, c.ExactThreshold)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive")
	}
	return nil
}

// HybridSearchConfig configures dense/sparse/fuzzy retrieval and RRF fusion
// (spec §4.5).
type HybridSearchConfig struct {
	DenseWeight  float64
	SparseWeight float64
	FuzzyWeight  float64

	TopK        int
	DenseTopK   int
	SparseTopK  int
	FuzzyTopK   int

	RRFK int

	MinDenseScore  float64
	MinSparseScore float64
	MinFuzzyScore  float64

	EnableDense  bool
	EnableSparse bool
	EnableFuzzy  bool

	UseRPC bool

	RerankScoreThreshold float64
	RerankBatchSize      int
}

func DefaultHybridSearchConfig() HybridSearchConfig {
	return HybridSearchConfig{
		DenseWeight:  0.5,
		SparseWeight: 0.3,
		FuzzyWeight:  0.2,

		TopK:       10,
		DenseTopK:  20,
		SparseTopK: 20,
		FuzzyTopK:  20,

		RRFK: 60,

		MinDenseScore:  0.5,
		MinSparseScore: 0.0,
		MinFuzzyScore:  0.3,

		EnableDense:  true,
		EnableSparse: true,
		EnableFuzzy:  true,

		UseRPC: true,

		RerankScoreThreshold: 0.5,
		RerankBatchSize:      10,
	}
}

func (c *HybridSearchConfig) Validate() error {
	total := c.DenseWeight + c.SparseWeight + c.FuzzyWeight
	if math.Abs(total-1.0) > 1e-5 {
		return fmt.Errorf("method weights must sum to 1.0, got %f", total)
	}
	if c.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive")
	}
	return nil
}

// OrchestratorConfig configures query expansion + fan-out + aggregation
// (spec §4.6).
type AggregationPolicy string

const (
	AggregationScoreWeighted AggregationPolicy = "score_weighted"
	AggregationFrequency     AggregationPolicy = "frequency"
	AggregationMaxScore      AggregationPolicy = "max_score"
)

type OrchestratorConfig struct {
	ExpansionCount        int
	ExpansionStrategy      string
	MinQueryLength         int
	MaxConcurrentSearches  int
	PerCallTimeout         time.Duration
	ExpansionTimeout       time.Duration
	Aggregation            AggregationPolicy
	MaxResults             int
	MinSimilarityScore     float64
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ExpansionCount:        5,
		ExpansionStrategy:     "balanced",
		MinQueryLength:        3,
		MaxConcurrentSearches: 10,
		PerCallTimeout:        30 * time.Second,
		ExpansionTimeout:      10 * time.Second,
		Aggregation:           AggregationScoreWeighted,
		MaxResults:            10,
		MinSimilarityScore:    0.0,
	}
}

func (c *OrchestratorConfig) Validate() error {
	if c.ExpansionCount <= 0 {
		return fmt.Errorf("expansion_count must be positive")
	}
	if c.MaxConcurrentSearches <= 0 {
		return fmt.Errorf("max_concurrent_searches must be positive")
	}
	switch c.Aggregation {
	case AggregationScoreWeighted, AggregationFrequency, AggregationMaxScore:
	default:
		return fmt.Errorf("unknown aggregation policy %q", c.Aggregation)
	}
	return nil
}

// CompactorConfig configures token-budget compaction (spec §4.7).
type CompactorConfig struct {
	CooldownSeconds          int
	MinMessagesForCompaction int
	PreserveRecent           int
	LockTTL                  time.Duration
	MaxCheckpointsPerSession int
	CheckpointExpirationDays int
}

func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		CooldownSeconds:          30,
		MinMessagesForCompaction: 4,
		PreserveRecent:           4,
		LockTTL:                  5 * time.Minute,
		MaxCheckpointsPerSession: 50,
		CheckpointExpirationDays: 30,
	}
}

func (c *CompactorConfig) Validate() error {
	if c.PreserveRecent < 0 {
		return fmt.Errorf("preserve_recent cannot be negative")
	}
	if c.MaxCheckpointsPerSession <= 0 {
		return fmt.Errorf("max_checkpoints_per_session must be positive")
	}
	return nil
}

// ContextConfig holds the defaults applied when a conversation context is
// created for the first time (grounded on context_manager_service.py's
// create_context defaults).
type ContextConfig struct {
	DefaultMaxTokens        int
	DefaultThresholdPercent int
}

func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		DefaultMaxTokens:        200000,
		DefaultThresholdPercent: 80,
	}
}
