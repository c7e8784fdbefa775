package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/S-Corkum/ragcore/internal/compactor"
	"github.com/S-Corkum/ragcore/internal/config"
	"github.com/S-Corkum/ragcore/internal/database"
	"github.com/S-Corkum/ragcore/internal/models"
	"github.com/S-Corkum/ragcore/internal/observability"
	"github.com/S-Corkum/ragcore/internal/orchestrator"
	"github.com/S-Corkum/ragcore/internal/search"
	"github.com/S-Corkum/ragcore/internal/search/rerank"
	"github.com/S-Corkum/ragcore/internal/tokenizer"
)

// API wires the retrieval/caching core's search, expansion, context-window,
// and checkpoint operations onto gin, following the response-envelope and
// metrics conventions of apps/rest-api/internal/api/context.
type API struct {
	engine       *search.Engine
	reranker     *rerank.Service
	orchestrator *orchestrator.Orchestrator
	expander     *orchestrator.Expander
	compactor    *compactor.Compactor
	contexts     *database.ContextRepository
	counter      tokenizer.Counter

	hybridCfg HybridSearchDefaults
	orchCfg   config.OrchestratorConfig
	ctxCfg    config.ContextConfig

	logger  observability.Logger
	metrics observability.MetricsClient
}

// HybridSearchDefaults is the server-side default HybridSearchConfig applied
// when a request doesn't override it.
type HybridSearchDefaults = config.HybridSearchConfig

func NewAPI(
	engine *search.Engine,
	reranker *rerank.Service,
	orch *orchestrator.Orchestrator,
	expander *orchestrator.Expander,
	comp *compactor.Compactor,
	contexts *database.ContextRepository,
	counter tokenizer.Counter,
	hybridCfg config.HybridSearchConfig,
	orchCfg config.OrchestratorConfig,
	ctxCfg config.ContextConfig,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *API {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &API{
		engine: engine, reranker: reranker, orchestrator: orch, expander: expander,
		compactor: comp, contexts: contexts, counter: counter,
		hybridCfg: hybridCfg, orchCfg: orchCfg, ctxCfg: ctxCfg,
		logger: logger, metrics: metrics,
	}
}

// RegisterRoutes mounts every endpoint onto router, mirroring the teacher's
// RegisterRoutes(router *gin.RouterGroup) convention.
func (a *API) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/search", a.handleSearch)
	router.GET("/search/stats", a.handleSearchStats)
	router.POST("/search/parallel", a.handleParallelSearch)
	router.POST("/expand", a.handleExpand)
	router.GET("/context-window/:conversation_id", a.handleGetContextWindow)
	router.POST("/context-window/:conversation_id/messages", a.handleAddMessage)
	router.POST("/context-window/:conversation_id/compact", a.handleCompact)
	router.GET("/context-window/:conversation_id/compact/progress", a.handleCompactionProgress)
	router.GET("/context-window/:conversation_id/recovery", a.handleCheckRecovery)
	router.GET("/checkpoints/:conversation_id", a.handleListCheckpoints)
	router.POST("/checkpoints/:conversation_id/restore/:checkpoint_id", a.handleRestoreCheckpoint)
}

func (a *API) recordResult(operation, status string) {
	a.metrics.IncrementCounter("httpapi."+operation+"."+status, 1)
}

func requestID(c *gin.Context) string {
	if id := c.GetString("RequestID"); id != "" {
		return id
	}
	return uuid.New().String()
}

func (a *API) respondError(c *gin.Context, operation string, status int, err error) {
	a.recordResult(operation, "error")
	a.logger.Warn("httpapi: request failed", map[string]interface{}{
		"operation": operation,
		"error":     sanitizeLogValue(err.Error()),
	})
	c.JSON(status, gin.H{
		"error":      err.Error(),
		"request_id": requestID(c),
		"timestamp":  time.Now().UTC(),
	})
}

func (a *API) respondOK(c *gin.Context, operation string, status int, data interface{}) {
	a.recordResult(operation, "success")
	c.JSON(status, gin.H{
		"data":       data,
		"request_id": requestID(c),
		"timestamp":  time.Now().UTC(),
	})
}

// sanitizeLogValue strips control characters and truncates user-controlled
// content before it is written to logs, preventing log injection.
func sanitizeLogValue(input string) string {
	clean := make([]rune, 0, len(input))
	for _, r := range input {
		if r == '\n' || r == '\r' || r == '\t' {
			continue
		}
		clean = append(clean, r)
	}
	s := string(clean)
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// --- search ---

type searchRequest struct {
	Query     string               `json:"query"`
	Namespace *string              `json:"namespace"`
	Method    models.SearchMethod  `json:"method"`
	TopK      int                  `json:"top_k"`
	UseRerank bool                 `json:"use_rerank"`
}

type searchResponse struct {
	Query   string                `json:"query"`
	Method  models.SearchMethod   `json:"method"`
	Results []models.SearchResult `json:"results"`
	NDCG    float64               `json:"ndcg,omitempty"`
}

func (a *API) handleSearch(c *gin.Context) {
	const op = "search"
	body, err := readBody(c)
	if err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}
	if err := validateAgainstSchema(searchRequestSchema, body); err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}

	req := searchRequest{Method: models.MethodHybrid, TopK: a.hybridCfg.TopK}
	if err := json.Unmarshal(body, &req); err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}

	cfg := a.hybridCfg
	if req.TopK > 0 {
		cfg.TopK = req.TopK
	}

	results, err := a.engine.Search(c.Request.Context(), req.Query, req.Method, req.Namespace, cfg)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}

	var ndcgScore float64
	if req.UseRerank && a.reranker != nil {
		reranked, metrics := a.reranker.Rerank(c.Request.Context(), req.Query, results, cfg.TopK)
		results = reranked
		ndcgScore = metrics.NDCG
	}

	a.respondOK(c, op, http.StatusOK, searchResponse{Query: req.Query, Method: req.Method, Results: results, NDCG: ndcgScore})
}

func (a *API) handleSearchStats(c *gin.Context) {
	const op = "search_stats"
	stats, err := a.engine.Stats(c.Request.Context())
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}
	a.respondOK(c, op, http.StatusOK, stats)
}

// --- parallel search ---

type parallelSearchRequest struct {
	Query     string              `json:"query"`
	Namespace *string             `json:"namespace"`
	Method    models.SearchMethod `json:"method"`
}

type parallelSearchResponse struct {
	OriginalQuery   string                 `json:"original_query"`
	ExpandedQueries []string               `json:"expanded_queries"`
	Results         []models.SearchResult  `json:"results"`
	UniqueCount     int                    `json:"unique_count"`
	DurationMS      int64                  `json:"duration_ms"`
}

func (a *API) handleParallelSearch(c *gin.Context) {
	const op = "parallel_search"
	body, err := readBody(c)
	if err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}
	if err := validateAgainstSchema(searchRequestSchema, body); err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}

	req := parallelSearchRequest{Method: models.MethodHybrid}
	if err := json.Unmarshal(body, &req); err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}

	result, err := a.orchestrator.Search(c.Request.Context(), req.Query, req.Method, req.Namespace, a.hybridCfg, a.orchCfg)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}

	a.respondOK(c, op, http.StatusOK, parallelSearchResponse{
		OriginalQuery:   result.OriginalQuery,
		ExpandedQueries: result.ExpandedQueries,
		Results:         result.Results,
		UniqueCount:     result.UniqueCount,
		DurationMS:      result.Duration.Milliseconds(),
	})
}

// --- query expansion ---

type expandRequest struct {
	Query    string `json:"query"`
	Strategy string `json:"strategy"`
	Count    int    `json:"count"`
}

func (a *API) handleExpand(c *gin.Context) {
	const op = "expand"
	body, err := readBody(c)
	if err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}
	if err := validateAgainstSchema(expandRequestSchema, body); err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}

	req := expandRequest{Strategy: a.orchCfg.ExpansionStrategy, Count: a.orchCfg.ExpansionCount}
	if err := json.Unmarshal(body, &req); err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}

	cfg := a.orchCfg
	if req.Strategy != "" {
		cfg.ExpansionStrategy = req.Strategy
	}
	if req.Count > 0 {
		cfg.ExpansionCount = req.Count
	}

	expansion, err := a.expander.Expand(c.Request.Context(), req.Query, cfg)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}

	a.respondOK(c, op, http.StatusOK, expansion)
}

// --- context window ---

func (a *API) handleGetContextWindow(c *gin.Context) {
	const op = "get_context_window"
	conversationID := c.Param("conversation_id")

	ctxState, err := a.contexts.GetOrCreateContext(c.Request.Context(), conversationID, c.Query("user_id"), a.ctxCfg.DefaultMaxTokens, a.ctxCfg.DefaultThresholdPercent)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}
	messages, err := a.contexts.ListMessages(c.Request.Context(), ctxState.ID)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}

	var isCompacting bool
	if a.compactor != nil {
		isCompacting, _ = a.compactor.IsCompacting(c.Request.Context(), conversationID)
	}

	a.respondOK(c, op, http.StatusOK, buildContextWindowStatus(ctxState, len(messages), isCompacting))
}

func buildContextWindowStatus(ctxState models.ConversationContext, messageCount int, isCompacting bool) models.ContextWindowStatus {
	usagePercent := 0.0
	if ctxState.MaxTokens > 0 {
		usagePercent = float64(ctxState.TotalTokens) / float64(ctxState.MaxTokens) * 100
	}
	status := models.StatusNormal
	switch {
	case usagePercent > 85:
		status = models.StatusCritical
	case usagePercent >= 70:
		status = models.StatusWarning
	}
	available := ctxState.MaxTokens - ctxState.TotalTokens
	if available < 0 {
		available = 0
	}
	estimatedRemaining := 0
	if messageCount > 0 && ctxState.TotalTokens > 0 {
		avgTokensPerMessage := ctxState.TotalTokens / messageCount
		if avgTokensPerMessage > 0 {
			estimatedRemaining = available / avgTokensPerMessage
		}
	}

	return models.ContextWindowStatus{
		ConversationID:             ctxState.ConversationID,
		CurrentTokens:              ctxState.TotalTokens,
		MaxTokens:                  ctxState.MaxTokens,
		ThresholdPercent:           ctxState.ThresholdPercent,
		UsagePercent:               usagePercent,
		Status:                     status,
		AvailableTokens:            available,
		EstimatedMessagesRemaining: estimatedRemaining,
		IsCompacting:               isCompacting,
		LastCompactionAt:           ctxState.LastCompactionAt,
		LastUpdated:                time.Now().UTC(),
	}
}

type addMessageRequest struct {
	Role        models.MessageRole `json:"role"`
	Content     string             `json:"content"`
	IsProtected bool               `json:"is_protected"`
}

type addMessageResponse struct {
	Message            models.ContextMessage `json:"message"`
	CompactionTriggered bool                 `json:"compaction_triggered"`
}

func (a *API) handleAddMessage(c *gin.Context) {
	const op = "add_message"
	conversationID := c.Param("conversation_id")

	body, err := readBody(c)
	if err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}
	if err := validateAgainstSchema(addMessageRequestSchema, body); err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}
	var req addMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.respondError(c, op, http.StatusBadRequest, err)
		return
	}

	ctxState, err := a.contexts.GetOrCreateContext(c.Request.Context(), conversationID, c.Query("user_id"), a.ctxCfg.DefaultMaxTokens, a.ctxCfg.DefaultThresholdPercent)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}

	position, err := a.contexts.NextPosition(c.Request.Context(), ctxState.ID)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}

	msg := models.ContextMessage{
		ContextID:   ctxState.ID,
		Role:        req.Role,
		Content:     req.Content,
		TokenCount:  a.counter.CountMessageTokens(req.Content, req.Role),
		IsProtected: req.IsProtected,
		Position:    position,
	}
	msg.IsProtected = msg.IsProtected || compactor.ShouldAutoProtect(msg)

	inserted, err := a.contexts.InsertMessage(c.Request.Context(), msg)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}

	newTotal := ctxState.TotalTokens + inserted.TokenCount
	if err := a.contexts.UpdateTotalTokens(c.Request.Context(), ctxState.ID, newTotal); err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}
	ctxState.TotalTokens = newTotal

	messages, err := a.contexts.ListMessages(c.Request.Context(), ctxState.ID)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}

	triggered := false
	if a.compactor != nil {
		should, err := a.compactor.ShouldCompact(c.Request.Context(), ctxState, len(messages))
		if err != nil {
			a.logger.Warn("httpapi: should-compact check failed", map[string]interface{}{"error": err.Error()})
		} else if should {
			triggered = true
		}
	}

	a.respondOK(c, op, http.StatusCreated, addMessageResponse{Message: inserted, CompactionTriggered: triggered})
}

// --- compaction ---

func (a *API) handleCompact(c *gin.Context) {
	const op = "compact"
	conversationID := c.Param("conversation_id")
	userID := c.Query("user_id")

	outcome, err := a.compactor.Compact(c.Request.Context(), conversationID, userID)
	if err != nil {
		if errors.Is(err, compactor.ErrAlreadyCompacting) {
			a.respondOK(c, op, http.StatusConflict, toCompactionResult(outcome, "already_compacting", err))
			return
		}
		a.respondOK(c, op, http.StatusOK, toCompactionResult(outcome, "error", err))
		return
	}

	a.respondOK(c, op, http.StatusOK, toCompactionResult(outcome, "", nil))
}

func toCompactionResult(o compactor.Outcome, reason string, err error) models.CompactionResult {
	result := models.CompactionResult{
		Success:          o.Compacted,
		Reason:           reason,
		PreMessageCount:  o.MessagesSummarized,
		PostMessageCount: 1,
		SummaryTokens:    o.SummaryTokens,
		NewTotalTokens:   o.TokensAfter,
		CheckpointID:     o.CheckpointID,
		CompletedAt:      time.Now().UTC(),
	}
	if err != nil {
		result.ErrorMessage = err.Error()
	}
	return result
}

func (a *API) handleCompactionProgress(c *gin.Context) {
	const op = "compaction_progress"
	conversationID := c.Param("conversation_id")

	progress, ok := a.compactor.Progress(c.Request.Context(), conversationID)
	if !ok {
		a.respondOK(c, op, http.StatusNotFound, gin.H{"message": "no compaction in progress"})
		return
	}
	a.respondOK(c, op, http.StatusOK, progress)
}

func (a *API) handleCheckRecovery(c *gin.Context) {
	const op = "check_recovery"
	conversationID := c.Param("conversation_id")

	checkpoint, err := a.compactor.CheckRecovery(c.Request.Context(), conversationID)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}
	if checkpoint == nil {
		a.respondOK(c, op, http.StatusOK, gin.H{"recoverable": false})
		return
	}
	a.respondOK(c, op, http.StatusOK, gin.H{"recoverable": true, "checkpoint": checkpoint})
}

// --- checkpoints ---

func (a *API) handleListCheckpoints(c *gin.Context) {
	const op = "list_checkpoints"
	conversationID := c.Param("conversation_id")

	checkpoints, err := a.contexts.ListCheckpoints(c.Request.Context(), conversationID, 50, 0)
	if err != nil {
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}
	a.respondOK(c, op, http.StatusOK, gin.H{"checkpoints": checkpoints})
}

func (a *API) handleRestoreCheckpoint(c *gin.Context) {
	const op = "restore_checkpoint"
	checkpointID := c.Param("checkpoint_id")

	checkpoint, err := a.compactor.Restore(c.Request.Context(), checkpointID)
	if err != nil {
		if errors.Is(err, compactor.ErrAlreadyCompacting) {
			a.respondError(c, op, http.StatusConflict, err)
			return
		}
		a.respondError(c, op, http.StatusInternalServerError, err)
		return
	}
	a.respondOK(c, op, http.StatusOK, checkpoint)
}
