package mission

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"warden/internal/store"
)

// fencedBlock matches a triple-backtick block tagged with one of the mission
// output kinds, e.g. ```kb-update\n...\n```.
var fencedBlock = regexp.MustCompile("(?s)```([a-z-]+)\\n(.*?)```")

// BlockParser turns one fenced block's raw body into a typed ParsedBlock.
type BlockParser func(raw string) (ParsedBlock, error)

// ParserRegistry maps a fenced block's tag to the parser that understands
// it. It is constructed once by Runtime.Init via RegisterMissionParsers and
// handed to every Runner — never a package-level map, per the no-mutable-
// package-state rule applied throughout this codebase.
type ParserRegistry struct {
	parsers map[string]BlockParser
}

// NewParserRegistry returns an empty registry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{parsers: make(map[string]BlockParser)}
}

// Register associates tag with p, overwriting any previous registration.
func (r *ParserRegistry) Register(tag string, p BlockParser) {
	r.parsers[tag] = p
}

// Parse dispatches raw to tag's registered parser. An unknown tag, or a
// parser that returns an error, produces an Unrecognized block rather than
// failing the caller — a mission run never aborts because one output block
// didn't validate.
func (r *ParserRegistry) Parse(tag, raw string) ParsedBlock {
	p, ok := r.parsers[tag]
	if !ok {
		return Unrecognized{Tag: tag, Raw: raw, Error: "no parser registered for tag"}
	}
	block, err := p(raw)
	if err != nil {
		return Unrecognized{Tag: tag, Raw: raw, Error: err.Error()}
	}
	return block
}

// RegisterMissionParsers registers the five built-in tag parsers
// (kb-update, decision, gap-flag, stop, advisory) against r. Called once
// from Runtime.Init, in the fixed order the spec's REDESIGN FLAGS call for,
// ahead of any mission run.
func RegisterMissionParsers(r *ParserRegistry) {
	r.Register("kb-update", parseKBUpdate)
	r.Register("decision", parseDecision)
	r.Register("gap-flag", parseGapFlag)
	r.Register("stop", parseStop)
	r.Register("advisory", parseAdvisory)
}

// ExtractBlocks finds every fenced block in text and parses each via r,
// returning them in source order. Callers always persist a raw output
// first, then these parsed blocks.
func ExtractBlocks(r *ParserRegistry, text string) []ParsedBlock {
	matches := fencedBlock.FindAllStringSubmatch(text, -1)
	blocks := make([]ParsedBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, r.Parse(m[1], m[2]))
	}
	return blocks
}

// parseHeaderBody splits a fenced block's body into "key: value" header
// lines and a content body, separated by a line containing exactly "---".
func parseHeaderBody(raw string) (headers map[string]string, body string) {
	headers = make(map[string]string)
	lines := strings.Split(raw, "\n")
	sepIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "---" {
			sepIdx = i
			break
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	if sepIdx >= 0 && sepIdx+1 < len(lines) {
		body = strings.TrimSpace(strings.Join(lines[sepIdx+1:], "\n"))
	}
	return headers, body
}

func parseKBUpdate(raw string) (ParsedBlock, error) {
	h, body := parseHeaderBody(raw)
	file := h["file"]
	if file == "" {
		return nil, fmt.Errorf("kb-update: missing file")
	}
	action := h["action"]
	if action == "" {
		return nil, fmt.Errorf("kb-update: missing action")
	}
	return KBUpdate{
		File:      file,
		Action:    action,
		Tier:      tierFromString(h["tier"]),
		Mode:      h["mode"],
		Basis:     h["basis"],
		Reasoning: h["reasoning"],
		Confirm:   h["confirm"],
		Content:   body,
	}, nil
}

func parseDecision(raw string) (ParsedBlock, error) {
	h, body := parseHeaderBody(raw)
	d := Decision{
		Summary:    h["summary"],
		ActionType: h["action_type"],
		Recipient:  h["recipient"],
		Subject:    h["subject"],
		Body:       body,
	}
	if d.Summary == "" {
		return nil, fmt.Errorf("decision: missing summary")
	}
	if raw, ok := h["deadline"]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("decision: invalid deadline: %w", err)
		}
		d.Deadline = t
	}
	return d, nil
}

func parseGapFlag(raw string) (ParsedBlock, error) {
	h, body := parseHeaderBody(raw)
	area := h["area"]
	if area == "" {
		return nil, fmt.Errorf("gap-flag: missing area")
	}
	return GapFlag{Area: area, Detail: body}, nil
}

func parseStop(raw string) (ParsedBlock, error) {
	_, body := parseHeaderBody(raw)
	if body == "" {
		body = strings.TrimSpace(raw)
	}
	if body == "" {
		return nil, fmt.Errorf("stop: missing reason")
	}
	return StopBlock{Reason: body}, nil
}

func parseAdvisory(raw string) (ParsedBlock, error) {
	_, body := parseHeaderBody(raw)
	if body == "" {
		body = strings.TrimSpace(raw)
	}
	if body == "" {
		return nil, fmt.Errorf("advisory: empty")
	}
	return Advisory{Text: body}, nil
}

func tierFromString(s string) store.Tier {
	return store.Tier(s)
}
