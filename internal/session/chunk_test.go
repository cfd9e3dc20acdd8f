package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildExchangesPairsUserAndAssistant(t *testing.T) {
	records := []Record{
		{Type: "message", Timestamp: "t1", Message: &Message{Role: "user", Content: rawString("hi")}},
		{Type: "message", Timestamp: "t2", Message: &Message{Role: "assistant", Content: rawString("hello")}},
	}

	exchanges := BuildExchanges(records)
	require.Len(t, exchanges, 1)
	require.Equal(t, "hi", exchanges[0].User)
	require.Equal(t, "hello", exchanges[0].Assistant)
	require.Equal(t, "User: hi\n\nAssistant: hello", exchanges[0].Render())
}

func TestBuildExchangesSkipsEmptyMessages(t *testing.T) {
	records := []Record{
		{Type: "message", Timestamp: "t1", Message: &Message{Role: "user", Content: rawString("")}},
		{Type: "message", Timestamp: "t2", Message: &Message{Role: "user", Content: rawString("real question")}},
	}

	exchanges := BuildExchanges(records)
	require.Len(t, exchanges, 1)
	require.Equal(t, "real question", exchanges[0].User)
	require.Equal(t, "User: real question", exchanges[0].Render())
}

func TestBuildExchangesConsecutiveUsersDontConsumeEachOther(t *testing.T) {
	records := []Record{
		{Type: "message", Timestamp: "t1", Message: &Message{Role: "user", Content: rawString("first")}},
		{Type: "message", Timestamp: "t2", Message: &Message{Role: "user", Content: rawString("second")}},
	}

	exchanges := BuildExchanges(records)
	require.Len(t, exchanges, 2)
	require.Equal(t, "first", exchanges[0].User)
	require.Empty(t, exchanges[0].Assistant)
	require.Equal(t, "second", exchanges[1].User)
}

func TestChunkExchangeUnderLimitReturnsWhole(t *testing.T) {
	chunks := ChunkExchange("User: short\n\nAssistant: reply", 500, 200)
	require.Len(t, chunks, 1)
}

func TestChunkExchangeSplitsLongText(t *testing.T) {
	paragraph := strings.Repeat("word ", 50)
	text := strings.Repeat(paragraph+"\n\n", 20)

	chunks := ChunkExchange(text, 50, 20)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		require.LessOrEqual(t, estimateTokens(c), 50+20)
	}
}

func TestChunkExchangeForceSplitsSingleOversizedPiece(t *testing.T) {
	huge := strings.Repeat("x", 5000)

	chunks := ChunkExchange(huge, 50, 10)
	require.Greater(t, len(chunks), 1)
}

func TestTruncateCapsChunkCount(t *testing.T) {
	chunks := make([]string, 10)
	kept, truncated := Truncate(chunks, 5)
	require.True(t, truncated)
	require.Len(t, kept, 5)

	kept, truncated = Truncate(chunks, 20)
	require.False(t, truncated)
	require.Len(t, kept, 10)
}

func rawString(s string) []byte {
	b, _ := marshalString(s)
	return b
}

func marshalString(s string) ([]byte, error) {
	return []byte(`"` + s + `"`), nil
}
