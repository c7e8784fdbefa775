package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// hashHex returns the first 16 hex characters of the SHA-256 digest of s —
// collisions are accepted per the cache's exact-key contract.
func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// QueryKey is the exact-match cache key namespace for a normalized query.
func QueryKey(normalizedQuery string) string {
	return fmt.Sprintf("query:%s", hashHex(normalizedQuery))
}

// EmbeddingKey is the cache key namespace for a cached embedding vector.
func EmbeddingKey(text string) string {
	return fmt.Sprintf("embedding:%s", hashHex(text))
}

// SemanticExactKey is the semantic cache's exact-match namespace.
func SemanticExactKey(normalizedQuery string) string {
	return fmt.Sprintf("search:exact:%s", hashHex(normalizedQuery))
}

// SemanticScanKey is the semantic cache's similarity-record namespace.
func SemanticScanKey(normalizedQuery string) string {
	return fmt.Sprintf("search:sem:%s", hashHex(normalizedQuery))
}

// CompactionLockKey is the per-conversation compaction mutex key.
func CompactionLockKey(conversationID string) string {
	return fmt.Sprintf("lock:compaction:%s", conversationID)
}

// CompactionProgressKey is the per-conversation progress-publishing key.
func CompactionProgressKey(conversationID string) string {
	return fmt.Sprintf("progress:%s", conversationID)
}

// LastCheckpointKey records the last checkpoint timestamp per conversation.
func LastCheckpointKey(conversationID string) string {
	return fmt.Sprintf("checkpoint:last:%s", conversationID)
}
