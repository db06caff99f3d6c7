// Package semistruct treats LLM output as semi-structured text rather than
// strict JSON/YAML: it extracts a best-effort document through a three-stage
// precedence (ground: spec's replacement for the teacher's discriminator-
// based decoder in runtime/agent/planner/json_unmarshal.go, which assumes
// well-formed JSON — the Planning Agent and Sub-Agent Manager can't make
// that assumption about raw model output).
//
// Stage 1 looks for a fenced code block (```json ... ``` or bare ``` ... ```)
// and parses its contents as a JSON object. Stage 2 parses the whole payload
// as JSON. Stage 3 falls back to scanning for a fixed set of "key: value"
// lines. Parse never returns an error; unparseable input yields a Document
// with Stage == StageFallback and no fields, and callers apply their own
// documented fallback shape.
package semistruct

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Stage identifies which precedence level produced a Document.
type Stage int

const (
	// StageFencedBlock means a fenced code block parsed as a JSON object.
	StageFencedBlock Stage = iota
	// StageWholePayload means the entire raw text parsed as a JSON object.
	StageWholePayload
	// StageKeywordScraper means no JSON parsed, but at least one recognized
	// "key: value" line was found.
	StageKeywordScraper
	// StageFallback means nothing could be extracted; the caller must apply
	// its own documented single-task/failure fallback.
	StageFallback
)

// scrapedKeys is the fixed set of keys the stage-3 scraper recognizes (spec
// §9 Design Notes: "needsPlanning, directAction, analysis, result,
// success").
var scrapedKeys = []string{"needsPlanning", "directAction", "analysis", "result", "success"}

// Document is the best-effort result of parsing one LLM response.
type Document struct {
	Stage Stage

	// Fields holds the decoded top-level JSON object for StageFencedBlock
	// and StageWholePayload. Nil otherwise.
	Fields map[string]any

	// Text holds the raw string values the keyword scraper found, keyed by
	// the matched keyword, for StageKeywordScraper. Nil otherwise.
	Text map[string]string
}

// Decode copies Document.Fields into v via a JSON round-trip, so callers can
// unmarshal into their own typed shape (e.g. a Plan or SubAgentResult DTO).
// It is only meaningful for StageFencedBlock/StageWholePayload documents;
// called on any other stage it returns an error.
func (d Document) Decode(v any) error {
	if d.Fields == nil {
		return errNoFields
	}
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

var errNoFields = &stageError{"semistruct: document has no decodable fields"}

type stageError struct{ msg string }

func (e *stageError) Error() string { return e.msg }

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json|yaml|yml)?\\s*\\n?(.*?)\\n?```")

// Parse applies the three-stage precedence to raw LLM output.
func Parse(raw string) Document {
	if doc, ok := parseFencedBlock(raw); ok {
		return doc
	}
	if doc, ok := parseWholePayload(raw); ok {
		return doc
	}
	if doc, ok := parseKeywordScraper(raw); ok {
		return doc
	}
	return Document{Stage: StageFallback}
}

func parseFencedBlock(raw string) (Document, bool) {
	m := fencedBlockPattern.FindStringSubmatch(raw)
	if m == nil {
		return Document{}, false
	}
	fields, ok := decodeObject(m[1])
	if !ok {
		return Document{}, false
	}
	return Document{Stage: StageFencedBlock, Fields: fields}, true
}

func parseWholePayload(raw string) (Document, bool) {
	fields, ok := decodeObject(raw)
	if !ok {
		return Document{}, false
	}
	return Document{Stage: StageWholePayload, Fields: fields}, true
}

func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, false
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

var scraperLine = regexp.MustCompile(`(?m)^\s*["']?([A-Za-z]+)["']?\s*:\s*(.+?)\s*$`)

func parseKeywordScraper(raw string) (Document, bool) {
	wanted := make(map[string]bool, len(scrapedKeys))
	for _, k := range scrapedKeys {
		wanted[k] = true
	}
	text := make(map[string]string)
	for _, m := range scraperLine.FindAllStringSubmatch(raw, -1) {
		key, value := m[1], strings.Trim(m[2], `"',`)
		if !wanted[key] {
			continue
		}
		if _, exists := text[key]; exists {
			continue
		}
		text[key] = value
	}
	if len(text) == 0 {
		return Document{}, false
	}
	return Document{Stage: StageKeywordScraper, Text: text}, true
}

// Bool parses a scraped text value as a loose boolean: "true"/"yes"/"1" are
// true, everything else is false.
func Bool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}
