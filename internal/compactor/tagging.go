package compactor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/S-Corkum/ragcore/internal/models"
)

// setupCommands are user-message prefixes that auto-protect a message from
// compaction (spec §4.7, grounded on context_manager_service.py's
// _should_auto_protect).
var setupCommands = []string{
	"/system", "/config", "/mode", "/project",
	"/setup", "/context", "/init", "/persona",
}

// ShouldAutoProtect reports whether msg must survive compaction regardless
// of any explicit protection flag: system messages, the first message in a
// conversation, and setup/configuration commands are always protected.
func ShouldAutoProtect(msg models.ContextMessage) bool {
	if msg.IsProtected {
		return true
	}
	if msg.Role == models.RoleSystem {
		return true
	}
	if msg.Position == 0 {
		return true
	}
	if msg.Role == models.RoleUser {
		lower := strings.ToLower(strings.TrimSpace(msg.Content))
		for _, cmd := range setupCommands {
			if strings.HasPrefix(lower, cmd) {
				return true
			}
		}
	}
	return false
}

var filePathPattern = regexp.MustCompile(`[\w\-./]+\.[a-zA-Z]{2,4}`)
var urlPattern = regexp.MustCompile(`https?://`)
var filenamePattern = regexp.MustCompile(`([\w\-]+\.[a-zA-Z]{2,4})`)

var decisionPhrases = []string{
	"decided to", "will use", "chosen", "selected",
	"going with", "let's go with", "we'll use",
	"the approach is", "the solution is",
}

var errorPhrases = []string{
	"error:", "exception:", "failed:", "traceback",
	"error occurred", "failed to", "couldn't", "unable to",
}

var completionPhrases = []string{
	"completed", "finished", "done", "implemented",
	"fixed", "resolved", "working now", "tests pass",
}

// DetectTags scans the last 5 messages for content signals and returns every
// tag detected (spec §4.7 auto-tagging, grounded on checkpoint_service.py's
// _detect_content_tags).
func DetectTags(messages []models.ContextMessage) []models.CheckpointAutoTag {
	recent := messages
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	seen := make(map[models.CheckpointAutoTag]bool)
	var tags []models.CheckpointAutoTag
	add := func(tag models.CheckpointAutoTag) {
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	for _, msg := range recent {
		content := strings.ToLower(msg.Content)

		if strings.Contains(msg.Content, "```") {
			add(models.TagCode)
		}
		if filePathPattern.MatchString(msg.Content) && !urlPattern.MatchString(content) {
			add(models.TagCode)
		}
		if containsAny(content, decisionPhrases) {
			add(models.TagDecision)
		}
		if containsAny(content, errorPhrases) {
			add(models.TagErrorResolution)
		}
		if containsAny(content, completionPhrases) {
			add(models.TagMilestone)
		}
	}

	return tags
}

func containsAny(haystack string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

// primaryTag follows checkpoint_service.py's _generate_auto_label
// if/elif precedence: code, then decision, then error_resolution, then
// milestone.
func primaryTag(tags []models.CheckpointAutoTag) (models.CheckpointAutoTag, bool) {
	priority := []models.CheckpointAutoTag{
		models.TagCode, models.TagDecision, models.TagErrorResolution, models.TagMilestone,
	}
	present := make(map[models.CheckpointAutoTag]bool, len(tags))
	for _, t := range tags {
		present[t] = true
	}
	for _, p := range priority {
		if present[p] {
			return p, true
		}
	}
	return "", false
}

// Trigger names why a checkpoint was created.
type Trigger string

const (
	TriggerPreCompaction    Trigger = "pre_compaction"
	TriggerManual           Trigger = "manual"
	TriggerImportantContext Trigger = "important_context"
)

// GenerateLabel builds a human-readable checkpoint label, preferring the
// most specific content signal over the generic trigger name.
func GenerateLabel(messages []models.ContextMessage, tags []models.CheckpointAutoTag, trigger Trigger, now time.Time) string {
	timestamp := now.UTC().Format("15:04:05")
	tag, ok := primaryTag(tags)
	if ok {
		switch tag {
		case models.TagCode:
			tail := messages
			if len(tail) > 3 {
				tail = tail[len(tail)-3:]
			}
			for i := len(tail) - 1; i >= 0; i-- {
				if m := filenamePattern.FindString(tail[i].Content); m != "" {
					return fmt.Sprintf("Code: %s (%s)", m, timestamp)
				}
			}
			return fmt.Sprintf("Code generated (%s)", timestamp)
		case models.TagDecision:
			return fmt.Sprintf("Decision made (%s)", timestamp)
		case models.TagErrorResolution:
			return fmt.Sprintf("Error resolved (%s)", timestamp)
		case models.TagMilestone:
			return fmt.Sprintf("Milestone reached (%s)", timestamp)
		}
	}

	switch trigger {
	case TriggerPreCompaction:
		return fmt.Sprintf("Pre-compaction snapshot (%s)", timestamp)
	case TriggerManual:
		return fmt.Sprintf("Manual checkpoint (%s)", timestamp)
	case TriggerImportantContext:
		return fmt.Sprintf("Important context (%s)", timestamp)
	default:
		return fmt.Sprintf("Checkpoint (%s)", timestamp)
	}
}
