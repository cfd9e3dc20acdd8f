package session

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Metadata is the per-chunk derived data (spec §4.10 "Metadata extraction").
type Metadata struct {
	Speakers    []string
	TopicTags   []string
	HasDecision bool
	HasAction   bool
}

var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "have": true, "from": true,
	"they": true, "been": true, "were": true, "what": true, "when": true,
	"where": true, "which": true, "their": true, "there": true, "about": true,
	"would": true, "could": true, "should": true, "your": true, "just": true,
	"like": true, "will": true, "then": true, "than": true, "also": true,
	"into": true, "over": true, "some": true, "such": true, "very": true,
	"user": true, "assistant": true,
}

var wordRe = regexp.MustCompile(`[a-zA-Z0-9]+(?:-[a-zA-Z0-9]+)*`)

var decisionRe = regexp.MustCompile(`(?i)\b(decided|conclude[d]?|resolved|final decision|settled on|opted for|we'?ll use)\b`)
var actionRe = regexp.MustCompile(`(?i)\b(todo|action item|task|need to|implement|build)\b`)

// ExtractMetadata derives speakers, topic tags, and decision/action flags
// from a chunk's rendered text (spec §4.10).
func ExtractMetadata(text string, speakers []string) Metadata {
	return Metadata{
		Speakers:    speakers,
		TopicTags:   topTopicTags(text, 3),
		HasDecision: decisionRe.MatchString(text),
		HasAction:   actionRe.MatchString(text),
	}
}

// topTopicTags returns the top-n most frequent words of length >3,
// excluding stop words and pure numerics, hyphens rewritten to
// underscores (spec §4.10).
func topTopicTags(text string, n int) []string {
	counts := map[string]int{}

	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		w = strings.ReplaceAll(w, "-", "_")

		if len(w) <= 3 {
			continue
		}
		if stopWords[w] {
			continue
		}
		if _, err := strconv.Atoi(w); err == nil {
			continue
		}

		counts[w]++
	}

	type wc struct {
		word  string
		count int
	}

	var list []wc
	for w, c := range counts {
		list = append(list, wc{w, c})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}

		return list[i].word < list[j].word
	})

	if len(list) > n {
		list = list[:n]
	}

	tags := make([]string, len(list))
	for i, w := range list {
		tags[i] = w.word
	}

	return tags
}
