// Package safety scans document body text on update and before save/render:
// regex and detector-function findings are resolved to non-overlapping,
// left-to-right, longest-match order, with approved codes suppressing
// known findings and block severities turning the triggering command into
// a forbidden error.
package safety

import (
	"regexp"
	"sort"

	"github.com/jidohq/sessiond/internal/errs"
)

// Severity is one of the three recognized finding severities.
type Severity string

const (
	Low    Severity = "low"
	Medium Severity = "medium"
	High   Severity = "high"
)

// Finding is one scan hit against a body.
type Finding struct {
	Code     string
	Severity Severity
	Index    int
	Length   int
	Line     int
	Column   int
	Snippet  string
}

// Rule is a regex-backed finding source.
type Rule struct {
	Code     string
	Severity Severity
	Regex    *regexp.Regexp
}

// Detector is a function-backed finding source for checks a regex cannot
// express.
type Detector func(body string) []Finding

// Config governs Scan and Evaluate.
type Config struct {
	Rules           []Rule
	Detectors       []Detector
	ApprovedCodes   []string
	BlockSeverities []Severity

	// When Mask or MaskFunc is set, Evaluate replaces each active
	// (non-approved) finding's Snippet before it reaches a signal payload
	// or error detail, so a blocked-content signal never carries the raw
	// matched text. MaskFunc takes precedence when both are set; Mask is
	// the configuration-file form (a literal replacement string),
	// MaskFunc the programmatic one.
	Mask     string
	MaskFunc func(snippet string) string
}

// Scan runs every rule and detector against body and returns findings in
// non-overlapping, left-to-right, longest-match order: overlapping hits
// are resolved by keeping the earliest-starting, and among ties the
// longest, match; shorter/later overlapping hits are discarded.
func Scan(body string, cfg Config) []Finding {
	var all []Finding
	for _, rule := range cfg.Rules {
		all = append(all, findingsForRule(body, rule)...)
	}
	for _, detector := range cfg.Detectors {
		all = append(all, detector(body)...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Index != all[j].Index {
			return all[i].Index < all[j].Index
		}
		return all[i].Length > all[j].Length
	})

	var kept []Finding
	nextAllowed := 0
	for _, f := range all {
		if f.Index < nextAllowed {
			continue
		}
		kept = append(kept, f)
		nextAllowed = f.Index + f.Length
	}
	return kept
}

func findingsForRule(body string, rule Rule) []Finding {
	locs := rule.Regex.FindAllStringIndex(body, -1)
	out := make([]Finding, 0, len(locs))
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		line, col := lineColumn(body, start)
		out = append(out, Finding{
			Code:     rule.Code,
			Severity: rule.Severity,
			Index:    start,
			Length:   end - start,
			Line:     line,
			Column:   col,
			Snippet:  body[start:end],
		})
	}
	return out
}

func lineColumn(body string, index int) (line, column int) {
	line = 1
	lastNewline := -1
	for i := 0; i < index && i < len(body); i++ {
		if body[i] == '\n' {
			line++
			lastNewline = i
		}
	}
	return line, index - lastNewline
}

// Evaluate applies ApprovedCodes suppression and reports whether the
// remaining findings include a blocked severity.
func Evaluate(findings []Finding, cfg Config) (blocked bool, active []Finding, err *errs.Error) {
	approved := map[string]bool{}
	for _, c := range cfg.ApprovedCodes {
		approved[c] = true
	}
	blockedSev := map[Severity]bool{}
	for _, s := range cfg.BlockSeverities {
		blockedSev[s] = true
	}

	for _, f := range findings {
		if approved[f.Code] {
			continue
		}
		active = append(active, mask(f, cfg))
		if blockedSev[f.Severity] {
			blocked = true
		}
	}

	if blocked {
		return true, active, errs.New(errs.Forbidden, "content blocked by safety scan").
			WithDetails(map[string]any{"findings": active})
	}
	return false, active, nil
}

// mask applies cfg's configured masking to f's snippet, leaving f
// unchanged when neither Mask nor MaskFunc is set.
func mask(f Finding, cfg Config) Finding {
	switch {
	case cfg.MaskFunc != nil:
		f.Snippet = cfg.MaskFunc(f.Snippet)
	case cfg.Mask != "":
		f.Snippet = cfg.Mask
	}
	return f
}
