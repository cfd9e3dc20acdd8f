package orchestrator

import (
	"regexp"
	"strings"
)

// ParsedSpecOutput is the extracted shape of a spec-role sub-agent's
// output (spec §4.9: "Output parsers extract ### Acceptance Criteria and
// ### Tasks Breakdown sections... and update the pipeline accordingly").
type ParsedSpecOutput struct {
	AcceptanceCriteria []string
	Tasks              []string
}

var sectionHeaderRe = regexp.MustCompile(`(?m)^###\s+(.+?)\s*$`)

// ParseSpecOutput extracts the "Acceptance Criteria" and "Tasks Breakdown"
// sections from free-form spec-role output. Each section's bullet list
// items (lines starting with "-" or "*") become entries. It only parses:
// nothing in this module writes the result to a pipeline item.
func ParseSpecOutput(text string) ParsedSpecOutput {
	sections := splitSections(text)

	out := ParsedSpecOutput{}

	for title, body := range sections {
		switch strings.ToLower(strings.TrimSpace(title)) {
		case "acceptance criteria":
			out.AcceptanceCriteria = extractBullets(body)
		case "tasks breakdown":
			out.Tasks = extractBullets(body)
		}
	}

	return out
}

// splitSections maps each "### Title" heading to the text until the next
// heading (or end of string).
func splitSections(text string) map[string]string {
	locs := sectionHeaderRe.FindAllStringSubmatchIndex(text, -1)
	sections := map[string]string{}

	for i, loc := range locs {
		title := text[loc[2]:loc[3]]

		bodyStart := loc[1]
		bodyEnd := len(text)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}

		sections[title] = text[bodyStart:bodyEnd]
	}

	return sections
}

func extractBullets(body string) []string {
	var out []string

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			out = append(out, strings.TrimSpace(line[2:]))
		}
	}

	return out
}
