package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTranscriptBasic(t *testing.T) {
	data := []byte(`{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"hello there"}}
{"type":"message","timestamp":"2026-01-01T00:00:01Z","message":{"role":"assistant","content":"hi, how can I help?"}}
`)

	records, warnings, err := ParseTranscript("t.jsonl", data)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, records, 2)
	require.Equal(t, "user", records[0].Message.Role)
	require.Equal(t, "hello there", records[0].Message.Text())
}

func TestParseTranscriptContentParts(t *testing.T) {
	data := []byte(`{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"assistant","content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}}
`)

	records, _, err := ParseTranscript("t.jsonl", data)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "part one part two", records[0].Message.Text())
}

func TestParseTranscriptNonUTF8(t *testing.T) {
	_, _, err := ParseTranscript("t.jsonl", []byte{0xff, 0xfe, 0x00})
	require.Error(t, err)
}

func TestParseTranscriptSkipsMalformedLinesWithWarning(t *testing.T) {
	data := []byte("not json at all\n" + `{"type":"message","timestamp":"2026-01-01T00:00:00Z","message":{"role":"user","content":"ok"}}` + "\n")

	records, warnings, err := ParseTranscript("t.jsonl", data)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, warnings, 1)
}

func TestParseTranscriptQuarantinesAfterTooManyErrors(t *testing.T) {
	var lines []string
	for i := 0; i < maxParseErrors+5; i++ {
		lines = append(lines, "not json")
	}

	_, _, err := ParseTranscript("t.jsonl", []byte(strings.Join(lines, "\n")))
	require.Error(t, err)

	var qErr *QuarantineError
	require.ErrorAs(t, err, &qErr)
}

func TestParseTranscriptMissingRequiredFields(t *testing.T) {
	data := []byte(`{"message":{"role":"user","content":"missing type and timestamp"}}` + "\n")

	records, warnings, err := ParseTranscript("t.jsonl", data)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Len(t, warnings, 1)
}
