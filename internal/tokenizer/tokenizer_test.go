package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/S-Corkum/ragcore/internal/models"
)

func TestWordHeuristicCounter_EmptyTextIsZeroTokens(t *testing.T) {
	c := NewWordHeuristicCounter()
	assert.Equal(t, 0, c.CountTokens(""))
}

func TestWordHeuristicCounter_CountsWordsAndPunctuationSeparately(t *testing.T) {
	c := NewWordHeuristicCounter()
	// "Hello, world!" -> words: Hello, world (punct-adjusted), plus , and !
	got := c.CountTokens("Hello, world!")
	assert.Greater(t, got, 0)
}

func TestWordHeuristicCounter_LongerTextYieldsMoreTokens(t *testing.T) {
	c := NewWordHeuristicCounter()
	short := c.CountTokens("one two three")
	long := c.CountTokens(strings.Repeat("one two three ", 20))
	assert.Greater(t, long, short)
}

func TestWordHeuristicCounter_UsesWhicheverEstimateIsLarger(t *testing.T) {
	c := NewWordHeuristicCounter()
	// A long single run of punctuation has many punctuation tokens but few
	// "words", so the punctuation-based count should dominate.
	got := c.CountTokens("!!!!!!!!!!")
	assert.Equal(t, 10, got)
}

func TestWordHeuristicCounter_ModelLimit_KnownModel(t *testing.T) {
	c := NewWordHeuristicCounter()
	assert.Equal(t, 200000, c.ModelLimit("claude-3-5-sonnet-20241022"))
	assert.Equal(t, 8192, c.ModelLimit("gpt-4"))
}

func TestWordHeuristicCounter_ModelLimit_UnknownModelFallsBackToDefault(t *testing.T) {
	c := NewWordHeuristicCounter()
	assert.Equal(t, defaultModelLimit, c.ModelLimit("some-unreleased-model"))
}

func TestWordHeuristicCounter_CountMessageTokens_AddsRoleOverhead(t *testing.T) {
	c := NewWordHeuristicCounter()
	content := "Hello!"
	base := c.CountTokens(content)

	assert.Equal(t, base+roleTokenOverhead[models.RoleUser], c.CountMessageTokens(content, models.RoleUser))
	assert.Equal(t, base+roleTokenOverhead[models.RoleAssistant], c.CountMessageTokens(content, models.RoleAssistant))
	assert.Equal(t, base+roleTokenOverhead[models.RoleSystem], c.CountMessageTokens(content, models.RoleSystem))
}

func TestWordHeuristicCounter_CountMessageTokens_UnknownRoleUsesDefaultOverhead(t *testing.T) {
	c := NewWordHeuristicCounter()
	content := "Hello!"
	assert.Equal(t, c.CountTokens(content)+defaultRoleOverhead, c.CountMessageTokens(content, models.MessageRole("function")))
}
