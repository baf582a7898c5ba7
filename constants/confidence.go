package constants

import "strings"

// Confidence is the coarse trust tag the extraction service attaches to its output.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

var allConfidences = []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow}

// ConfidenceValues returns the accepted wire values, used by the response schema.
func ConfidenceValues() []string {
	result := make([]string, len(allConfidences))
	for i, c := range allConfidences {
		result[i] = string(c)
	}
	return result
}

// Canonicalize maps a service-provided label onto a Confidence.
// Unknown or empty labels map to ConfidenceLow so that they always require confirmation.
func Canonicalize(input string) (Confidence, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return ConfidenceLow, false
	}

	synonyms := map[string]Confidence{
		"med":       ConfidenceMedium,
		"moderate":  ConfidenceMedium,
		"uncertain": ConfidenceLow,
		"certain":   ConfidenceHigh,
	}
	if c, ok := synonyms[normalized]; ok {
		return c, true
	}
	for _, c := range allConfidences {
		if normalized == string(c) {
			return c, true
		}
	}
	return ConfidenceLow, false
}
