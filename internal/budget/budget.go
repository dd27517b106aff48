// Package budget keeps prompts inside per-provider context windows. Token
// estimation is a cheap character heuristic; the budgeter trims low-priority
// segments proportionally and never drops a required one.
package budget

import (
	"strings"
)

// Priority classifies a prompt segment.
type Priority string

const (
	// PriorityFull segments are never trimmed.
	PriorityFull Priority = "full"
	// PriorityTrimmable segments shrink proportionally when over budget.
	PriorityTrimmable Priority = "trimmable"
)

// Segment is one named piece of a prompt.
type Segment struct {
	Name     string
	Text     string
	Priority Priority
}

// Result is the budgeting outcome. Overflow is set when the full segments
// alone exceed the budget; the prompt is then returned untrimmed.
type Result struct {
	Prompt    string
	Trimmed   []string
	Overflow  bool
	Estimated int
}

const trimMarker = "\n[…]"

// EstimateTokens approximates the token count of text. One token per four
// characters tracks common BPE vocabularies closely enough for budgeting.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Fit assembles segments into a single prompt no larger than budget tokens.
// Full segments are kept verbatim; the remaining allowance is distributed
// across trimmable segments proportional to their size, each truncation
// marked explicitly.
func Fit(segments []Segment, budgetTokens int) Result {
	fitted, result := FitSegments(segments, budgetTokens)
	result.Prompt = join(fitted)
	if !result.Overflow && len(result.Trimmed) > 0 {
		result.Estimated = EstimateTokens(result.Prompt)
	}
	return result
}

// FitSegments trims like Fit but returns the adjusted segments so callers
// can reassemble them into their own prompt layout.
func FitSegments(segments []Segment, budgetTokens int) ([]Segment, Result) {
	fullTokens := 0
	trimmableTokens := 0
	for _, s := range segments {
		if s.Priority == PriorityTrimmable {
			trimmableTokens += EstimateTokens(s.Text)
		} else {
			fullTokens += EstimateTokens(s.Text)
		}
	}

	if fullTokens > budgetTokens {
		return segments, Result{Overflow: true, Estimated: fullTokens + trimmableTokens}
	}

	remaining := budgetTokens - fullTokens
	if trimmableTokens <= remaining {
		return segments, Result{Estimated: fullTokens + trimmableTokens}
	}

	result := Result{}
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.Priority != PriorityTrimmable {
			out = append(out, s)
			continue
		}
		tokens := EstimateTokens(s.Text)
		share := int(float64(remaining) * float64(tokens) / float64(trimmableTokens))
		trimmed := truncateTokens(s.Text, share)
		if trimmed != s.Text {
			result.Trimmed = append(result.Trimmed, s.Name)
		}
		out = append(out, Segment{Name: s.Name, Text: trimmed, Priority: s.Priority})
	}

	result.Estimated = 0
	for _, s := range out {
		result.Estimated += EstimateTokens(s.Text)
	}
	return out, result
}

// truncateTokens cuts text to roughly maxTokens, preferring a word boundary
// and appending the trim marker.
func truncateTokens(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	markerTokens := EstimateTokens(trimMarker)
	keep := (maxTokens - markerTokens) * 4
	if keep <= 0 {
		return trimMarker
	}
	cut := text[:keep]
	if idx := strings.LastIndexAny(cut, " \n\t"); idx > keep/2 {
		cut = cut[:idx]
	}
	return cut + trimMarker
}

func join(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
