package session

import (
	"regexp"
	"strings"
)

// DefaultMaxChunkSize and DefaultOverlapChars are spec §4.10 defaults; both are
// overridable via config.Session.
const (
	DefaultMaxChunkSize         = 500
	DefaultOverlapChars         = 200
	DefaultMaxChunksPerSession  = 2000
)

// Exchange is one user message paired with the assistant reply that
// follows it, if any (spec §4.10 "Chunking").
type Exchange struct {
	User      string
	Assistant string
	Timestamp string
}

// BuildExchanges walks records in order, pairing each user message with
// the first assistant message that follows it; messages of other roles in
// between are skipped, and a following user message ends the exchange
// without a reply. Messages with empty text content are skipped entirely (spec
// §4.10 "Edge policies").
func BuildExchanges(records []Record) []Exchange {
	var exchanges []Exchange

	i := 0
	for i < len(records) {
		rec := records[i]

		if rec.Message == nil || rec.Message.Role != "user" {
			i++
			continue
		}

		text := rec.Message.Text()
		if strings.TrimSpace(text) == "" {
			i++
			continue
		}

		ex := Exchange{User: text, Timestamp: rec.Timestamp}
		i++

		for i < len(records) {
			next := records[i]
			if next.Message == nil {
				i++
				continue
			}
			if next.Message.Role == "assistant" {
				assistantText := next.Message.Text()
				if strings.TrimSpace(assistantText) != "" {
					ex.Assistant = assistantText
				}
				i++
				break
			}
			if next.Message.Role == "user" {
				break
			}

			i++
		}

		exchanges = append(exchanges, ex)
	}

	return exchanges
}

// Render formats an exchange as the text that gets chunked (spec §4.10:
// `"User: X\n\nAssistant: Y"` or `"User: X"` alone).
func (e Exchange) Render() string {
	if e.Assistant == "" {
		return "User: " + e.User
	}

	return "User: " + e.User + "\n\nAssistant: " + e.Assistant
}

// estimateTokens is the deliberately cheap chars/4 estimator (spec §9:
// must not be swapped for a real tokenizer).
func estimateTokens(s string) int {
	return len(s) / 4
}

var sentenceBoundaryRe = regexp.MustCompile(`(?:[.!?])\s+`)

// ChunkExchange splits a rendered exchange into pieces no larger than
// maxChunkSize estimated tokens, carrying an overlapChars-sized tail of
// the previous piece forward (spec §4.10 "Size rule").
func ChunkExchange(text string, maxChunkSize, overlapChars int) []string {
	if estimateTokens(text) <= maxChunkSize {
		return []string{text}
	}

	pieces := strings.Split(text, "\n\n")
	if len(pieces) < 2 {
		pieces = splitSentences(text)
	}

	return packPieces(pieces, maxChunkSize, overlapChars)
}

func splitSentences(text string) []string {
	idxs := sentenceBoundaryRe.FindAllStringIndex(text, -1)
	if len(idxs) == 0 {
		return []string{text}
	}

	var out []string
	start := 0
	for _, loc := range idxs {
		out = append(out, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}

	return out
}

// packPieces greedily accumulates pieces into sub-chunks bounded by
// maxChunkSize estimated tokens, carrying the last overlapChars of the
// previous sub-chunk forward as a prefix of the next (spec §4.10).
func packPieces(pieces []string, maxChunkSize, overlapChars int) []string {
	var chunks []string
	var current strings.Builder
	var overlap string

	flush := func() {
		if current.Len() == 0 {
			return
		}

		chunk := current.String()
		chunks = append(chunks, chunk)

		overlap = tailChars(chunk, overlapChars)
		current.Reset()
		current.WriteString(overlap)
	}

	for _, p := range pieces {
		if estimateTokens(p) > maxChunkSize && len(p) > 0 {
			// A single piece is itself too large for a chunk with no further
			// structural boundary: force-split on character index (spec
			// §4.10 "Edge policies").
			for _, sub := range forceSplit(p, maxChunkSize*4) {
				if estimateTokens(current.String()+sub) > maxChunkSize && current.Len() > 0 {
					flush()
				}
				current.WriteString(sub)
			}

			continue
		}

		candidate := current.String()
		if candidate != "" && candidate != overlap {
			candidate += "\n\n"
		}
		candidate += p

		if estimateTokens(candidate) > maxChunkSize && current.Len() > 0 {
			flush()
			candidate = current.String()
			if candidate != "" {
				candidate += "\n\n"
			}
			candidate += p
		}

		current.Reset()
		current.WriteString(candidate)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

func tailChars(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}

	return s[len(s)-n:]
}

func forceSplit(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}

	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}

	return out
}

// Truncate caps chunks at maxChunksPerSession, returning the kept slice
// and whether truncation occurred (spec §4.10 "Caps").
func Truncate(chunks []string, maxChunksPerSession int) ([]string, bool) {
	if len(chunks) <= maxChunksPerSession {
		return chunks, false
	}

	return chunks[:maxChunksPerSession], true
}
