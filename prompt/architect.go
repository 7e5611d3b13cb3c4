package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgepipeline/core/store"
)

// Defaults for the architect phase, per spec.md §4.2.
const (
	DefaultMaxFilesToRead     = 20
	DefaultMaxFileContentChars = 50_000
	DefaultArchitectTemp      = 0.2
	DefaultArchitectMaxTokens = 4000

	headLines = 200
	tailLines = 50
)

const fileSelectionSystemPrompt = `You are the architect for an engineering request pipeline. Given a
repository map and a triaged request, choose the files most relevant to
designing a solution.

Respond with a JSON array of at most %d file paths, most relevant first.
Exclude build outputs, lockfiles, and generated code. Respond with the
array only, no surrounding prose.`

// ArchitectFileSelectionPrompt builds phase A: pick candidate files.
func ArchitectFileSelectionPrompt(req *store.Request, project *store.Project, repoMap string, triage *store.TriageReview, maxFiles int) (system, user string) {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFilesToRead
	}
	system = fmt.Sprintf(fileSelectionSystemPrompt, maxFiles)

	var u strings.Builder
	fmt.Fprintf(&u, "## Request #%d (%s/%s)\n\n", req.ID, project.Owner, project.Repo)
	fmt.Fprintf(&u, "Title: %s\nType: %s\n\nDescription:\n%s\n", req.Title, req.Type, req.Description)
	if triage != nil {
		fmt.Fprintf(&u, "\n## Prior triage review\n%s\n", triage.Reasoning)
	}
	u.WriteString("\n## Repository map\n")
	u.WriteString(repoMap)

	return system, u.String()
}

// ParseFileSelection extracts the JSON array of paths from phase A output,
// clamping to maxFiles. A parse failure returns a nil slice rather than an
// error — the caller then runs phase B with no file contents, and the
// stored review records zero files analyzed.
func ParseFileSelection(raw string, maxFiles int) []string {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFilesToRead
	}
	jsonText := ExtractJSON(raw)
	var paths []string
	// The fenced-block/balanced-object extractor looks for {...}; an array
	// response needs the raw text trimmed to its outermost [...] instead.
	if !strings.HasPrefix(strings.TrimSpace(jsonText), "[") {
		jsonText = lastBalancedArray(raw)
	}
	if jsonText == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(jsonText), &paths); err != nil {
		return nil
	}
	if len(paths) > maxFiles {
		paths = paths[:maxFiles]
	}
	return paths
}

func lastBalancedArray(text string) string {
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] != ']' {
			continue
		}
		depth := 0
		for j := i; j >= 0; j-- {
			switch text[j] {
			case ']':
				depth++
			case '[':
				depth--
			}
			if depth == 0 {
				return text[j : i+1]
			}
		}
	}
	return ""
}

const solutionProposalSystemPrompt = `You are the architect for an engineering request pipeline, producing a
structured solution proposal for an approved request. Respond with a
single JSON object and nothing else, matching this shape:

{
  "solutionSummary": string,
  "approach": string,
  "impactedFiles": [{"path": string, "action": "modify"|"delete", "description": string, "estimatedLinesChanged": integer}],
  "newFiles": [{"path": string, "description": string, "estimatedLines": integer}],
  "dataMigration": {"required": boolean, "description": string, "steps": [string]},
  "breakingChanges": [string],
  "dependencyChanges": [{"package": string, "action": "add"|"remove"|"upgrade", "version": string, "reason": string}],
  "risks": [{"description": string, "severity": "low"|"medium"|"high", "mitigation": string}],
  "estimatedComplexity": string,
  "estimatedEffort": string,
  "implementationOrder": [string],
  "testingNotes": string,
  "architecturalNotes": string,
  "clarificationQuestions": [string]
}`

// FileContent is one fetched source file supplied to phase B.
type FileContent struct {
	Path    string
	Content string
}

// ArchitectSolutionPrompt builds phase B: propose a solution given the
// fetched contents of the phase-A-selected files, subject to maxChars —
// files are truncated to head+tail once the running budget is exceeded.
func ArchitectSolutionPrompt(req *store.Request, refContext, repoMapTrimmed string, files []FileContent, triage *store.TriageReview, prior *store.ArchitectReview, humanFeedback string, maxChars int) (system, user string) {
	if maxChars <= 0 {
		maxChars = DefaultMaxFileContentChars
	}
	system = solutionProposalSystemPrompt
	if refContext != "" {
		system += "\n\n" + refContext
	}

	var u strings.Builder
	fmt.Fprintf(&u, "## Request #%d\n\nTitle: %s\nType: %s\n\nDescription:\n%s\n", req.ID, req.Title, req.Type, req.Description)
	if triage != nil {
		fmt.Fprintf(&u, "\n## Prior triage review\n%s\n", triage.Reasoning)
	}
	if prior != nil {
		fmt.Fprintf(&u, "\n## Prior solution summary (revision)\n%s\n", prior.SolutionSummary)
	}
	if humanFeedback != "" {
		fmt.Fprintf(&u, "\n## Latest human feedback\n%s\n", humanFeedback)
	}
	if repoMapTrimmed != "" {
		u.WriteString("\n## Repository map (trimmed)\n")
		u.WriteString(repoMapTrimmed)
	}

	u.WriteString("\n## Selected file contents\n")
	budget := maxChars
	for _, f := range files {
		content := f.Content
		if len(content) > budget {
			content = TruncateHeadTail(content, headLines, tailLines)
		}
		if len(content) > budget {
			if budget <= 0 {
				fmt.Fprintf(&u, "\n### %s\n(omitted: over budget)\n", f.Path)
				continue
			}
			content = content[:budget]
		}
		fmt.Fprintf(&u, "\n### %s\n```\n%s\n```\n", f.Path, content)
		budget -= len(content)
	}

	return system, u.String()
}

// TruncateHeadTail keeps the first headLines and last tailLines lines of
// content, replacing the middle with an elision marker — the fallback when
// a selected file is too large for the remaining character budget.
func TruncateHeadTail(content string, head, tail int) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= head+tail {
		return content
	}
	var b strings.Builder
	b.WriteString(strings.Join(lines[:head], "\n"))
	fmt.Fprintf(&b, "\n... [%d lines omitted] ...\n", len(lines)-head-tail)
	b.WriteString(strings.Join(lines[len(lines)-tail:], "\n"))
	return b.String()
}

// ParseSolutionDocument extracts and validates the phase-B JSON contract.
// knownPaths is the full repository map's path set; any impactedFiles path
// not found in it is appended to UnknownPaths rather than failing the
// transition, per spec.md §4.2.
func ParseSolutionDocument(raw string, knownPaths map[string]bool) (store.SolutionDocument, error) {
	jsonText := ExtractJSON(raw)
	if jsonText == "" {
		return store.SolutionDocument{}, fmt.Errorf("prompt: no JSON object found in architect response")
	}

	var doc store.SolutionDocument
	if err := json.Unmarshal([]byte(jsonText), &doc); err != nil {
		return store.SolutionDocument{}, fmt.Errorf("prompt: unmarshal solution document: %w", err)
	}

	if knownPaths != nil {
		for _, f := range doc.ImpactedFiles {
			if !knownPaths[f.Path] {
				doc.UnknownPaths = append(doc.UnknownPaths, f.Path)
			}
		}
	}

	return doc, nil
}
