// Package textproc provides the deterministic text-analysis stages of the
// ingestion pipeline: normalization (tokens, entities, keywords), indicator
// extraction, and token-window chunking. Everything here is pure and
// side-effect free; non-deterministic generation lives in pkg/llm.
package textproc

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmptyInput  = errors.New("input text is empty")
	ErrChunkConfig = errors.New("invalid chunking configuration")
)

// Entity is a named entity located in text.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Entity labels, following the usual NER tag set.
const (
	LabelPerson = "PERSON"
	LabelOrg    = "ORG"
	LabelGPE    = "GPE"
	LabelDate   = "DATE"
	LabelMoney  = "MONEY"
)

// NormalizedText is the result of Normalize.
type NormalizedText struct {
	Tokens   []string `json:"tokens"`
	Entities []Entity `json:"entities"`
	Keywords []string `json:"keywords"`
}

// MaxKeywords bounds the keyword list returned by Normalize.
const MaxKeywords = 10

var wordPattern = regexp.MustCompile(`[a-z0-9][a-z0-9'-]*`)

// stopwords is a compact English stopword list. Enough for keyword ranking;
// not meant to be exhaustive.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"a", "an", "and", "are", "as", "at", "be", "been", "but", "by",
		"can", "could", "did", "do", "does", "for", "from", "had", "has",
		"have", "he", "her", "his", "how", "i", "if", "in", "into", "is",
		"it", "its", "may", "me", "my", "no", "not", "of", "on", "or",
		"our", "she", "should", "so", "some", "than", "that", "the",
		"their", "them", "then", "there", "these", "they", "this", "to",
		"was", "we", "were", "what", "when", "where", "which", "who",
		"why", "will", "with", "would", "you", "your",
	} {
		stopwords[w] = struct{}{}
	}
}

// Normalize tokenizes text, strips stopwords, and extracts entities and
// keywords. Tokens are lower-cased and order-preserving. Entities are
// deduplicated preserving first-seen order. Keywords are frequency-ranked
// with ties broken by first occurrence.
func Normalize(text string) (*NormalizedText, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	raw := wordPattern.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}

	return &NormalizedText{
		Tokens:   tokens,
		Entities: extractEntities(text),
		Keywords: rankKeywords(tokens),
	}, nil
}

// rankKeywords returns the most frequent tokens of length >= 4, count
// descending, ties by first occurrence. Deterministic for identical input.
func rankKeywords(tokens []string) []string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	order := make([]string, 0)
	for i, tok := range tokens {
		if len(tok) < 4 {
			continue
		}
		if _, ok := counts[tok]; !ok {
			firstSeen[tok] = i
			order = append(order, tok)
		}
		counts[tok]++
	}

	// Insertion sort keeps the first-occurrence order stable for ties.
	ranked := make([]string, 0, len(order))
	for _, tok := range order {
		pos := len(ranked)
		for pos > 0 {
			prev := ranked[pos-1]
			if counts[prev] > counts[tok] || (counts[prev] == counts[tok] && firstSeen[prev] < firstSeen[tok]) {
				break
			}
			pos--
		}
		ranked = append(ranked, "")
		copy(ranked[pos+1:], ranked[pos:])
		ranked[pos] = tok
	}

	if len(ranked) > MaxKeywords {
		ranked = ranked[:MaxKeywords]
	}
	return ranked
}

var (
	capSeqPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z'-]*(?:\s+[A-Z][a-zA-Z'-]*)*\b`)
	datePattern   = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})\b`)
	moneyPattern  = regexp.MustCompile(`(?:\$|€|£)\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:million|billion|thousand|k|M|B))?`)

	personTitles = map[string]struct{}{
		"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "agent": {}, "officer": {},
		"captain": {}, "colonel": {}, "general": {}, "detective": {},
	}
	orgSuffixes = map[string]struct{}{
		"inc": {}, "corp": {}, "ltd": {}, "llc": {}, "group": {},
		"agency": {}, "bureau": {}, "ministry": {}, "department": {},
		"company": {}, "bank": {}, "university": {},
	}
	locationCues = map[string]struct{}{
		"in": {}, "at": {}, "from": {}, "near": {}, "to": {},
	}
)

// extractEntities applies deterministic pattern rules in place of a model
// NER: date and money patterns, then capitalized word sequences classified by
// surrounding cues. Duplicates are collapsed preserving first-seen order.
func extractEntities(text string) []Entity {
	var entities []Entity
	seen := make(map[string]struct{})
	add := func(value, label string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if _, ok := seen[value]; ok {
			return
		}
		seen[value] = struct{}{}
		entities = append(entities, Entity{Text: value, Label: label})
	}

	for _, m := range datePattern.FindAllString(text, -1) {
		add(m, LabelDate)
	}
	for _, m := range moneyPattern.FindAllString(text, -1) {
		add(m, LabelMoney)
	}

	locs := capSeqPattern.FindAllStringIndex(text, -1)
	for _, loc := range locs {
		span := text[loc[0]:loc[1]]
		words := strings.Fields(span)

		// An inline title makes the rest of the sequence a person name:
		// "Agent John Carter" -> John Carter.
		if lead := strings.ToLower(words[0]); len(words) > 1 {
			if _, ok := personTitles[lead]; ok {
				add(strings.Join(words[1:], " "), LabelPerson)
				continue
			}
			if lead == "the" {
				words = words[1:]
				loc[0] += strings.Index(span, words[0])
				span = strings.Join(words, " ")
			}
		}

		// A lone capitalized word at a sentence start is usually just
		// sentence case, not a name.
		if len(words) == 1 && sentenceInitial(text, loc[0]) && !hasLocationCue(text, loc[0]) {
			continue
		}

		label := classifySequence(text, loc[0], words)
		if label == "" {
			continue
		}
		add(span, label)
	}

	return entities
}

func classifySequence(text string, start int, words []string) string {
	last := strings.ToLower(strings.Trim(words[len(words)-1], ".,"))
	if _, ok := orgSuffixes[last]; ok {
		return LabelOrg
	}
	prev := strings.ToLower(strings.Trim(precedingWord(text, start), ".,:"))
	if _, ok := personTitles[prev]; ok {
		return LabelPerson
	}
	if _, ok := locationCues[prev]; ok {
		return LabelGPE
	}
	if len(words) >= 2 {
		return LabelPerson
	}
	return ""
}

// precedingWord returns the word immediately before offset, or "".
func precedingWord(text string, offset int) string {
	head := strings.TrimRight(text[:offset], " \t\n")
	idx := strings.LastIndexAny(head, " \t\n")
	return head[idx+1:]
}

func sentenceInitial(text string, offset int) bool {
	head := strings.TrimRight(text[:offset], " \t\n")
	if head == "" {
		return true
	}
	switch head[len(head)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func hasLocationCue(text string, offset int) bool {
	prev := strings.ToLower(strings.Trim(precedingWord(text, offset), ".,:"))
	_, ok := locationCues[prev]
	return ok
}
