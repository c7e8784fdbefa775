package compactor

import "github.com/S-Corkum/ragcore/internal/models"

// Partition splits a context's messages into three disjoint groups ahead of
// summarization (spec §4.7):
//   - Protected: must survive verbatim (auto-protect rules or explicit flag).
//   - Recent: the last preserveRecent non-protected messages, also kept verbatim
//     so the model retains immediate conversational continuity.
//   - Summarizable: everything else, folded into the LLM summary.
type Partition struct {
	Protected     []models.ContextMessage
	Recent        []models.ContextMessage
	Summarizable  []models.ContextMessage
}

func BuildPartition(messages []models.ContextMessage, preserveRecent int) Partition {
	var protected, rest []models.ContextMessage
	for _, m := range messages {
		if ShouldAutoProtect(m) {
			protected = append(protected, m)
		} else {
			rest = append(rest, m)
		}
	}

	if preserveRecent < 0 {
		preserveRecent = 0
	}
	if preserveRecent >= len(rest) {
		return Partition{Protected: protected, Recent: rest, Summarizable: nil}
	}

	splitAt := len(rest) - preserveRecent
	return Partition{
		Protected:    protected,
		Recent:       rest[splitAt:],
		Summarizable: rest[:splitAt],
	}
}

// SummarizableIDs returns every message ID across the summarizable set, the set that
// gets replaced by a summary.
func (p Partition) SummarizableIDs() []string {
	ids := make([]string, len(p.Summarizable))
	for i, m := range p.Summarizable {
		ids[i] = m.ID
	}
	return ids
}
