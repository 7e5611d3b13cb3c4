package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgepipeline/core/store"
)

// Defaults for the code review phase, per spec.md §4.5.
const (
	DefaultCodeReviewTemp      = 0.2
	DefaultCodeReviewMaxTokens = 2000
	DefaultMaxInputTokens      = 100_000
	charsPerToken              = 4

	solutionSharePct = 0.4
	diffSharePct     = 0.6
)

const codeReviewSystemPrompt = `You are the code reviewer for an engineering request pipeline. Given the
request's approved solution and a pull request's unified diff, decide
whether the change satisfies the design, is free of obvious security
issues, and follows the project's coding standards.

Respond with a single JSON object and nothing else:

{
  "decision": "Approved" | "ChangesRequested",
  "summary": string,
  "designCompliance": boolean,
  "designComplianceNotes": string,
  "securityPass": boolean,
  "securityNotes": string,
  "codingStandardsPass": boolean,
  "codingStandardsNotes": string,
  "qualityScore": integer 1-10
}`

// CodeReviewPrompt builds the review message: request summary + approved
// solution summary + solution JSON (40% of the char budget) + diff (60%).
// If the combined message would exceed maxInputTokens*4 characters, the
// diff's tail is truncated to fit.
func CodeReviewPrompt(req *store.Request, architect *store.ArchitectReview, diff string, maxInputTokens int) (system, user string) {
	if maxInputTokens <= 0 {
		maxInputTokens = DefaultMaxInputTokens
	}
	budget := maxInputTokens * charsPerToken

	solutionJSON, _ := json.MarshalIndent(architect.Solution, "", "  ")

	var header strings.Builder
	fmt.Fprintf(&header, "## Request #%d\n\nTitle: %s\n\n", req.ID, req.Title)
	fmt.Fprintf(&header, "## Approved solution summary\n%s\n\n", architect.SolutionSummary)

	solutionBudget := int(float64(budget) * solutionSharePct)
	solutionText := string(solutionJSON)
	if len(solutionText) > solutionBudget {
		solutionText = solutionText[:solutionBudget]
	}
	fmt.Fprintf(&header, "## Solution document\n```json\n%s\n```\n\n", solutionText)

	remaining := budget - header.Len()
	diffBudget := int(float64(budget) * diffSharePct)
	if diffBudget > remaining {
		diffBudget = remaining
	}
	if diffBudget < 0 {
		diffBudget = 0
	}
	if len(diff) > diffBudget {
		diff = diff[:diffBudget] + "\n... [diff truncated] ..."
	}

	header.WriteString("## Pull request diff\n```diff\n")
	header.WriteString(diff)
	header.WriteString("\n```\n")

	return codeReviewSystemPrompt, header.String()
}

type codeReviewResponse struct {
	Decision               string `json:"decision"`
	Summary                string `json:"summary"`
	DesignCompliance       bool   `json:"designCompliance"`
	DesignComplianceNotes  string `json:"designComplianceNotes"`
	SecurityPass           bool   `json:"securityPass"`
	SecurityNotes          string `json:"securityNotes"`
	CodingStandardsPass    bool   `json:"codingStandardsPass"`
	CodingStandardsNotes   string `json:"codingStandardsNotes"`
	QualityScore           int    `json:"qualityScore"`
}

// ParseCodeReviewResponse extracts the structured decision, falling back
// to a substring scan for "Approved" when the JSON fails to parse, per
// spec.md §4.5 step 4.
func ParseCodeReviewResponse(raw string) store.CodeReview {
	jsonText := ExtractJSON(raw)

	var parsed codeReviewResponse
	if jsonText == "" || json.Unmarshal([]byte(jsonText), &parsed) != nil {
		decision := store.CodeReviewChangesRequested
		if strings.Contains(raw, "Approved") {
			decision = store.CodeReviewApproved
		}
		return store.CodeReview{
			Decision: decision,
			Summary:  "Could not parse structured response",
		}
	}

	decision := store.CodeReviewDecision(parsed.Decision)
	if decision != store.CodeReviewApproved && decision != store.CodeReviewChangesRequested {
		decision = store.CodeReviewChangesRequested
	}

	return store.CodeReview{
		Decision:              decision,
		Summary:               parsed.Summary,
		DesignCompliance:      parsed.DesignCompliance,
		DesignComplianceNotes: parsed.DesignComplianceNotes,
		SecurityPass:          parsed.SecurityPass,
		SecurityNotes:         parsed.SecurityNotes,
		CodingStandardsPass:   parsed.CodingStandardsPass,
		CodingStandardsNotes:  parsed.CodingStandardsNotes,
		QualityScore:          store.Clamp(parsed.QualityScore, 1, 10),
	}
}
