// Package models holds the data types shared across the cache, search,
// orchestrator, and compactor packages.
package models

import "time"

// Chunk is the atom of retrieval. It is read-only from this core's
// viewpoint; ingestion lives outside this module's scope.
type Chunk struct {
	ChunkID   string                 `db:"id" json:"chunk_id"`
	FileID    *string                `db:"file_id" json:"file_id,omitempty"`
	Content   string                 `db:"content" json:"content"`
	Embedding []float32              `db:"-" json:"embedding,omitempty"`
	Namespace *string                `db:"namespace" json:"namespace,omitempty"`
	Metadata  map[string]interface{} `db:"-" json:"metadata,omitempty"`
}

// SearchMethod enumerates how a SearchResult was produced.
type SearchMethod string

const (
	MethodDense              SearchMethod = "dense"
	MethodSparse             SearchMethod = "sparse"
	MethodFuzzy              SearchMethod = "fuzzy"
	MethodILike              SearchMethod = "ilike"
	MethodHybrid             SearchMethod = "hybrid"
	MethodHybridRPC          SearchMethod = "hybrid_rpc"
	MethodParallelAggregated SearchMethod = "parallel_aggregated"
)

// SearchResult is one retrieval hit. Rank is 1-based and, within a returned
// list, ranks form a contiguous 1..N sequence sorted descending by Score.
type SearchResult struct {
	ChunkID  string                 `json:"chunk_id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Rank     int                    `json:"rank"`
	Method   SearchMethod           `json:"method"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	FileID   *string                `json:"file_id,omitempty"`

	DenseScore  *float64 `json:"dense_score,omitempty"`
	SparseScore *float64 `json:"sparse_score,omitempty"`
	FuzzyScore  *float64 `json:"fuzzy_score,omitempty"`
	RRFScore    *float64 `json:"rrf_score,omitempty"`
}

// Clone returns a deep-enough copy so fan-out goroutines can mutate
// independent copies of shared candidates.
func (r SearchResult) Clone() SearchResult {
	cp := r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// CacheLevel identifies which tier served a tiered-cache lookup.
type CacheLevel string

const (
	LevelL1   CacheLevel = "L1"
	LevelL2   CacheLevel = "L2"
	LevelNone CacheLevel = "NONE"
)

// CacheLookupResult is the tri-state result of a tiered cache read.
type CacheLookupResult struct {
	Data  []byte
	Level CacheLevel
}

func (r CacheLookupResult) Hit() bool { return r.Level != LevelNone }

// SemanticTier classifies a semantic-cache candidate by cosine similarity.
type SemanticTier string

const (
	TierExact  SemanticTier = "EXACT"
	TierHigh   SemanticTier = "HIGH"
	TierMedium SemanticTier = "MEDIUM"
	TierLow    SemanticTier = "LOW"
	TierMiss   SemanticTier = "MISS"
)

// SemanticCacheResult is returned by a semantic-cache lookup.
type SemanticCacheResult struct {
	Tier       SemanticTier
	Similarity float64
	Data       []byte
	IsUsable   bool
}

// CachedQueryValue is the semantic-cache value envelope: the original query,
// its embedding (co-located to avoid a second round trip), and the cached
// payload.
type CachedQueryValue struct {
	Query           string    `json:"query"`
	NormalizedQuery string    `json:"normalized_query"`
	Embedding       []float32 `json:"embedding"`
	Result          []byte    `json:"result"`
	CachedAt        time.Time `json:"cached_at"`
}

// MessageRole enumerates ContextMessage.Role.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ConversationContext owns a chat's token-budget bookkeeping.
type ConversationContext struct {
	ID                string     `db:"id" json:"id"`
	ConversationID    string     `db:"conversation_id" json:"conversation_id"`
	UserID            string     `db:"user_id" json:"user_id"`
	TotalTokens       int        `db:"total_tokens" json:"total_tokens"`
	MaxTokens         int        `db:"max_tokens" json:"max_tokens"`
	ThresholdPercent  int        `db:"threshold_percent" json:"threshold_percent"`
	LastCompactionAt  *time.Time `db:"last_compaction_at" json:"last_compaction_at,omitempty"`
}

// ContextMessage is one turn of a conversation.
type ContextMessage struct {
	ID          string      `db:"id" json:"id"`
	ContextID   string      `db:"context_id" json:"context_id"`
	Role        MessageRole `db:"role" json:"role"`
	Content     string      `db:"content" json:"content"`
	TokenCount  int         `db:"token_count" json:"token_count"`
	IsProtected bool        `db:"is_protected" json:"is_protected"`
	Position    int         `db:"position" json:"position"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// CheckpointAutoTag classifies the dominant content signal detected in the
// messages a checkpoint snapshots.
type CheckpointAutoTag string

const (
	TagCode            CheckpointAutoTag = "code"
	TagDecision        CheckpointAutoTag = "decision"
	TagErrorResolution CheckpointAutoTag = "error_resolution"
	TagMilestone       CheckpointAutoTag = "milestone"
)

// SessionCheckpoint is a durable snapshot of a conversation for rollback or
// crash recovery.
type SessionCheckpoint struct {
	ID              string             `db:"id" json:"id"`
	ConversationID  string             `db:"conversation_id" json:"conversation_id"`
	UserID          string             `db:"user_id" json:"user_id"`
	TokenCount      int                `db:"token_count" json:"token_count"`
	Label           string             `db:"label" json:"label"`
	AutoTag         *CheckpointAutoTag `db:"auto_tag" json:"auto_tag,omitempty"`
	IsAbnormalClose bool               `db:"is_abnormal_close" json:"is_abnormal_close"`
	Payload         CheckpointPayload  `db:"-" json:"payload"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	ExpiresAt       time.Time          `db:"expires_at" json:"expires_at"`
}

// CheckpointPayload is the JSON snapshot stored in session_checkpoints.checkpoint_data.
type CheckpointPayload struct {
	Messages []ContextMessage       `json:"messages"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Tags     []CheckpointAutoTag    `json:"tags,omitempty"`
}

// ContextStatus is the usage-percent derived label exposed to callers.
type ContextStatus string

const (
	StatusNormal   ContextStatus = "normal"
	StatusWarning  ContextStatus = "warning"
	StatusCritical ContextStatus = "critical"
)

// ContextWindowStatus is the response shape for GET /context-window/{id}.
type ContextWindowStatus struct {
	ConversationID             string        `json:"conversation_id"`
	CurrentTokens              int           `json:"current_tokens"`
	MaxTokens                  int           `json:"max_tokens"`
	ThresholdPercent           int           `json:"threshold_percent"`
	UsagePercent               float64       `json:"usage_percent"`
	Status                     ContextStatus `json:"status"`
	AvailableTokens            int           `json:"available_tokens"`
	EstimatedMessagesRemaining int           `json:"estimated_messages_remaining"`
	IsCompacting               bool          `json:"is_compacting"`
	LastCompactionAt           *time.Time    `json:"last_compaction_at,omitempty"`
	LastUpdated                time.Time     `json:"last_updated"`
}

// CompactionResult is the HTTP response shape of a compaction request, built
// from the compactor.Outcome that Compactor.Compact returns.
type CompactionResult struct {
	Success        bool      `json:"success"`
	Reason         string    `json:"reason,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	PreMessageCount  int     `json:"pre_message_count"`
	PostMessageCount int     `json:"post_message_count"`
	SummaryTokens    int     `json:"summary_tokens"`
	NewTotalTokens   int     `json:"new_total_tokens"`
	CheckpointID     string  `json:"checkpoint_id,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// CompactionProgress is published under progress:<conversation_id>.
type CompactionProgress struct {
	Percent   int       `json:"percent"`
	Stage     string    `json:"stage"`
	UpdatedAt time.Time `json:"updated_at"`
}
