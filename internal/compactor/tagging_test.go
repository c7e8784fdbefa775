package compactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/S-Corkum/ragcore/internal/models"
)

func TestShouldAutoProtect_ExplicitFlag(t *testing.T) {
	m := models.ContextMessage{IsProtected: true, Role: models.RoleUser, Position: 5}
	assert.True(t, ShouldAutoProtect(m))
}

func TestShouldAutoProtect_OrdinaryMessageNotProtected(t *testing.T) {
	m := models.ContextMessage{Role: models.RoleUser, Position: 3, Content: "just chatting"}
	assert.False(t, ShouldAutoProtect(m))
}

func TestShouldAutoProtect_SetupCommandCaseInsensitive(t *testing.T) {
	m := models.ContextMessage{Role: models.RoleUser, Position: 2, Content: "/CONFIG set foo=bar"}
	assert.True(t, ShouldAutoProtect(m))
}

func TestDetectTags_CodeBlockDetected(t *testing.T) {
	messages := []models.ContextMessage{
		{Content: "here's the fix:\n```go\nfunc x() {}\n```"},
	}
	tags := DetectTags(messages)
	assert.Contains(t, tags, models.TagCode)
}

func TestDetectTags_DecisionPhraseDetected(t *testing.T) {
	messages := []models.ContextMessage{
		{Content: "we decided to use postgres for this"},
	}
	tags := DetectTags(messages)
	assert.Contains(t, tags, models.TagDecision)
}

func TestDetectTags_ErrorPhraseDetected(t *testing.T) {
	messages := []models.ContextMessage{
		{Content: "Error: failed to connect to the database"},
	}
	tags := DetectTags(messages)
	assert.Contains(t, tags, models.TagErrorResolution)
}

func TestDetectTags_OnlyScansLastFiveMessages(t *testing.T) {
	old := models.ContextMessage{Content: "```old code```"}
	plain := models.ContextMessage{Content: "nothing interesting here"}
	messages := []models.ContextMessage{old, plain, plain, plain, plain, plain}
	tags := DetectTags(messages)
	assert.NotContains(t, tags, models.TagCode, "code block outside the last 5 messages must not surface a tag")
}

func TestDetectTags_URLContainingDotsIsNotMistakenForCode(t *testing.T) {
	messages := []models.ContextMessage{
		{Content: "see https://example.com/docs.html for details"},
	}
	tags := DetectTags(messages)
	assert.NotContains(t, tags, models.TagCode)
}

func TestGenerateLabel_PrefersCodeOverTrigger(t *testing.T) {
	messages := []models.ContextMessage{{Content: "updated handlers.go with the fix"}}
	label := GenerateLabel(messages, []models.CheckpointAutoTag{models.TagCode}, TriggerManual, time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC))
	assert.Contains(t, label, "handlers.go")
}

func TestGenerateLabel_FallsBackToTriggerWhenNoTags(t *testing.T) {
	label := GenerateLabel(nil, nil, TriggerPreCompaction, time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC))
	assert.Contains(t, label, "Pre-compaction snapshot")
}

func TestGenerateLabel_TagPriorityOrderCodeBeatsDecision(t *testing.T) {
	messages := []models.ContextMessage{{Content: "fix.py applied"}}
	tags := []models.CheckpointAutoTag{models.TagDecision, models.TagCode}
	label := GenerateLabel(messages, tags, TriggerManual, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, label, "fix.py")
}
