// Package prompt builds the system/user message pairs for each pipeline
// stage and parses the LLM's structured JSON response, with a fenced-code
// stripper and per-stage fallback decisions (spec.md §4.8).
package prompt

import "strings"

// ExtractJSON strips ```json fenced-code markers, preferring the last
// fenced block in the text (the model sometimes "thinks out loud" with
// an earlier example block before its real answer), and falls back to the
// last balanced {...} object in the raw text.
func ExtractJSON(text string) string {
	if block, ok := lastFencedBlock(text, "```json"); ok {
		return block
	}
	if block, ok := lastFencedBlock(text, "```"); ok {
		return block
	}
	return lastBalancedObject(text)
}

func lastFencedBlock(text, marker string) (string, bool) {
	var last string
	found := false
	searchFrom := 0
	for {
		idx := strings.Index(text[searchFrom:], marker)
		if idx == -1 {
			break
		}
		start := searchFrom + idx + len(marker)
		end := strings.Index(text[start:], "```")
		if end == -1 {
			break
		}
		last = strings.TrimSpace(text[start : start+end])
		found = true
		searchFrom = start + end + 3
	}
	return last, found
}

func lastBalancedObject(text string) string {
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] != '}' {
			continue
		}
		depth := 0
		for j := i; j >= 0; j-- {
			switch text[j] {
			case '}':
				depth++
			case '{':
				depth--
			}
			if depth == 0 {
				return text[j : i+1]
			}
		}
	}
	return ""
}
