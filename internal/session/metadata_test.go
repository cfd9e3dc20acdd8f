package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractMetadataTopicTags(t *testing.T) {
	text := "User: let's talk about kubernetes deployment kubernetes scaling kubernetes again"

	meta := ExtractMetadata(text, []string{"user"})
	require.Contains(t, meta.TopicTags, "kubernetes")
}

func TestExtractMetadataDetectsDecision(t *testing.T) {
	meta := ExtractMetadata("We decided to use postgres for this.", nil)
	require.True(t, meta.HasDecision)
}

func TestExtractMetadataDetectsAction(t *testing.T) {
	meta := ExtractMetadata("TODO: write the migration script", nil)
	require.True(t, meta.HasAction)
}

func TestExtractMetadataNoFalsePositives(t *testing.T) {
	meta := ExtractMetadata("This is just a plain sentence with nothing special.", nil)
	require.False(t, meta.HasDecision)
	require.False(t, meta.HasAction)
}

func TestTopTopicTagsExcludesStopWordsAndNumbers(t *testing.T) {
	tags := topTopicTags("user assistant with that there 12345 widget widget widget", 3)
	require.Contains(t, tags, "widget")
	require.NotContains(t, tags, "user")
	require.NotContains(t, tags, "12345")
}
