package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThemePayload_WithDefaults(t *testing.T) {
	t.Parallel()

	p := ThemePayload{ExplicitTopics: []string{"q4 budget"}}.WithDefaults()

	assert.Equal(t, []string{"q4 budget"}, p.ExplicitTopics)
	assert.Equal(t, []string{}, p.ImplicitInterests)
	assert.Equal(t, []string{}, p.ActionItems)
	assert.Equal(t, []string{}, p.Domains)
	assert.Equal(t, "unknown", p.RelationshipContext)
	assert.Equal(t, "neutral", p.Sentiment)
}

func TestThemePayload_WithDefaults_KeepsValues(t *testing.T) {
	t.Parallel()

	p := ThemePayload{RelationshipContext: "client", Sentiment: "urgent"}.WithDefaults()
	assert.Equal(t, "client", p.RelationshipContext)
	assert.Equal(t, "urgent", p.Sentiment)
}

func TestDefaultThemes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ThemePayload{}.WithDefaults(), DefaultThemes())
}

func TestTagPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "topic/q4-budget", Tag{Value: "q4-budget", Category: TagTopic}.Path())
}
