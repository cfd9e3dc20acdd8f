// Package session is Session RAG (H): makes past conversation transcripts
// searchable by meaning and by keyword, across an evolving corpus of
// transcript files that may be re-written, appended, or deleted (spec
// §4.10 — "the hardest subsystem").
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Record is one line of a transcript file (spec §4.10 "Transcript format").
type Record struct {
	Type      string   `json:"type"`
	Message   *Message `json:"message,omitempty"`
	Timestamp string   `json:"timestamp"`
	ID        string   `json:"id,omitempty"`
}

// Message carries a role and either a plain string or typed content parts.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentPart is the only typed content part the pipeline understands;
// all others are ignored (spec §4.10).
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text extracts the plain text of a message, whether content is a bare
// string or a sequence of typed parts.
func (m *Message) Text() string {
	if m == nil || len(m.Content) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		return asString
	}

	var parts []ContentPart
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		var out bytes.Buffer
		for _, p := range parts {
			if p.Type == "text" {
				out.WriteString(p.Text)
			}
		}

		return out.String()
	}

	return ""
}

// maxParseErrors is the per-file tolerance before a file is quarantined
// (spec §4.10 "a file with >N parse errors is quarantined").
const maxParseErrors = 20

// QuarantineError signals a transcript file has too many unparseable
// lines to index.
type QuarantineError struct {
	Path       string
	ParseErrors int
}

func (e *QuarantineError) Error() string {
	return fmt.Sprintf("session: %s quarantined after %d parse errors", e.Path, e.ParseErrors)
}

// ParseTranscript validates and parses a transcript file's contents,
// skipping invalid lines with a warning up to maxParseErrors, beyond which
// the file is quarantined (spec §4.10 "Validation").
func ParseTranscript(path string, data []byte) ([]Record, []string, error) {
	if !utf8.Valid(data) {
		return nil, nil, fmt.Errorf("session: %s is not valid UTF-8", path)
	}

	var (
		records    []Record
		warnings   []string
		parseErrors int
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			parseErrors++
			warnings = append(warnings, fmt.Sprintf("line %d: %v", lineNo, err))

			if parseErrors > maxParseErrors {
				return nil, warnings, &QuarantineError{Path: path, ParseErrors: parseErrors}
			}

			continue
		}

		if rec.Type == "" || rec.Timestamp == "" {
			parseErrors++
			warnings = append(warnings, fmt.Sprintf("line %d: missing required field", lineNo))

			if parseErrors > maxParseErrors {
				return nil, warnings, &QuarantineError{Path: path, ParseErrors: parseErrors}
			}

			continue
		}

		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("session: read %s: %w", path, err)
	}

	return records, warnings, nil
}
