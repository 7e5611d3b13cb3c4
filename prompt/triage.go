package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/forgepipeline/core/store"
)

var titleCaser = cases.Title(language.English)

// normalizePriority title-cases whatever casing the model used ("high",
// "HIGH priority") down to one of the canonical Priority values. An empty
// value stays empty; a first word that is not a Priority becomes Medium.
func normalizePriority(raw string) store.Priority {
	word := strings.Fields(strings.TrimSpace(raw))
	if len(word) == 0 {
		return ""
	}
	switch p := store.Priority(titleCaser.String(strings.ToLower(word[0]))); p {
	case store.PriorityLow, store.PriorityMedium, store.PriorityHigh, store.PriorityCritical:
		return p
	default:
		return store.PriorityMedium
	}
}

// normalizeTags lower-cases and trims tags so the same tag from different
// model phrasings ("Auth", "auth ") lands on one label.
func normalizeTags(raw []string) []string {
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

const triageSystemPrompt = `You are the product triage reviewer for an engineering request pipeline.
You decide whether an incoming request is ready to move forward to architecture
review, needs clarification from its submitter, or should be rejected outright.

Respond with a single JSON object and nothing else, matching this shape:

{
  "decision": "Approve" | "Reject" | "Clarify",
  "reasoning": string,
  "alignmentScore": integer 0-100,
  "completenessScore": integer 0-100,
  "salesAlignmentScore": integer 0-100,
  "clarificationQuestions": [string, ...],
  "suggestedPriority": "Low" | "Medium" | "High" | "Critical",
  "tags": [string, ...],
  "isDuplicate": boolean,
  "duplicateOfRequestId": integer or null
}

Do not reject a request whose description does not provide enough information
to scope work; set decision to "Clarify" with specific clarificationQuestions
instead of guessing. If the request duplicates one of the sibling requests
listed below, set isDuplicate true and duplicateOfRequestId to its id
regardless of what you choose for decision — the pipeline decides whether
that duplicate forces a rejection based on the referenced request's current
state.`

// TriagePrompt builds the (system, user) message pair for one triage pass
// over req, splicing in product/sales reference context, the submitter's
// conversation history, and recent sibling requests for duplicate detection.
func TriagePrompt(req *store.Request, project *store.Project, refContext string, comments []store.Comment, siblings []store.Request) (system, user string) {
	var sb strings.Builder

	sb.WriteString(triageSystemPrompt)
	if refContext != "" {
		sb.WriteString("\n\n")
		sb.WriteString(refContext)
	}

	var u strings.Builder
	fmt.Fprintf(&u, "## Request #%d\n\n", req.ID)
	fmt.Fprintf(&u, "Project: %s/%s\n", project.Owner, project.Repo)
	fmt.Fprintf(&u, "Type: %s\n", req.Type)
	fmt.Fprintf(&u, "Title: %s\n\n", req.Title)
	fmt.Fprintf(&u, "Description:\n%s\n", req.Description)

	if req.Type == store.TypeBug {
		fmt.Fprintf(&u, "\nSteps to reproduce:\n%s\n", req.StepsToReproduce)
		fmt.Fprintf(&u, "Expected:\n%s\n", req.Expected)
		fmt.Fprintf(&u, "Actual:\n%s\n", req.Actual)
	}

	if len(comments) > 0 {
		u.WriteString("\n## Conversation\n")
		for _, c := range comments {
			author := c.Author
			if c.IsAgent {
				author = "triage-bot"
			}
			fmt.Fprintf(&u, "- %s (%s): %s\n", author, c.CreatedAt.Format(time.RFC3339), c.Content)
		}
	}

	if len(siblings) > 0 {
		u.WriteString("\n## Recent requests in this project (for duplicate detection)\n")
		for _, s := range siblings {
			if s.ID == req.ID {
				continue
			}
			fmt.Fprintf(&u, "- #%d [%s] %s\n", s.ID, s.State, s.Title)
		}
	}

	return sb.String(), u.String()
}

// triageResponse mirrors the JSON contract declared in triageSystemPrompt.
type triageResponse struct {
	Decision               string   `json:"decision"`
	Reasoning              string   `json:"reasoning"`
	AlignmentScore         int      `json:"alignmentScore"`
	CompletenessScore      int      `json:"completenessScore"`
	SalesAlignmentScore    int      `json:"salesAlignmentScore"`
	ClarificationQuestions []string `json:"clarificationQuestions"`
	SuggestedPriority      string   `json:"suggestedPriority"`
	Tags                   []string `json:"tags"`
	IsDuplicate            bool     `json:"isDuplicate"`
	DuplicateOfRequestID   *int64   `json:"duplicateOfRequestId"`
}

// ParseTriageResponse extracts and validates the triage JSON contract from
// raw model output. A response that fails to parse is never treated as a
// silent Approve: it degrades to a Clarify decision with zeroed scores,
// escalating the request for human attention instead of guessing.
func ParseTriageResponse(raw string) store.TriageReview {
	jsonText := ExtractJSON(raw)

	var parsed triageResponse
	if jsonText == "" || json.Unmarshal([]byte(jsonText), &parsed) != nil {
		return store.TriageReview{
			Decision:  store.TriageClarify,
			Reasoning: "LLM response could not be parsed — escalated for human review",
		}
	}

	rv := store.TriageReview{
		Decision:               store.TriageDecision(parsed.Decision),
		Reasoning:              parsed.Reasoning,
		AlignmentScore:         store.Clamp(parsed.AlignmentScore, 0, 100),
		CompletenessScore:      store.Clamp(parsed.CompletenessScore, 0, 100),
		SalesAlignmentScore:    store.Clamp(parsed.SalesAlignmentScore, 0, 100),
		ClarificationQuestions: parsed.ClarificationQuestions,
		SuggestedPriority:      normalizePriority(parsed.SuggestedPriority),
		Tags:                   normalizeTags(parsed.Tags),
		IsDuplicate:            parsed.IsDuplicate,
	}
	if parsed.DuplicateOfRequestID != nil {
		rv.DuplicateOfRequestID = *parsed.DuplicateOfRequestID
	}

	switch rv.Decision {
	case store.TriageApprove, store.TriageReject, store.TriageClarify:
	default:
		rv.Decision = store.TriageClarify
		if rv.Reasoning == "" {
			rv.Reasoning = "LLM returned an unrecognized decision value — escalated for human review"
		}
	}

	return rv
}
