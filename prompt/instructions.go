package prompt

import (
	"fmt"
	"strings"

	"github.com/forgepipeline/core/store"
)

// InstructionDocument renders the approved ArchitectReview's solution as the
// Markdown brief handed to the coding agent (spec.md §4.3 step 2):
// approach, files to modify/create, data migration, breaking changes,
// implementation order, dependency changes, risks, testing notes, and a
// fixed tail of the project's coding conventions.
func InstructionDocument(req *store.Request, review *store.ArchitectReview, codingConventions string) string {
	sol := review.Solution
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Implementation brief: %s\n\n", req.Title)
	fmt.Fprintf(&sb, "%s\n\n", req.Description)

	fmt.Fprintf(&sb, "## Approach\n\n%s\n\n", sol.Approach)
	if sol.SolutionSummary != "" {
		fmt.Fprintf(&sb, "## Summary\n\n%s\n\n", sol.SolutionSummary)
	}

	if len(sol.ImpactedFiles) > 0 {
		sb.WriteString("## Files to modify\n\n")
		for _, f := range sol.ImpactedFiles {
			fmt.Fprintf(&sb, "- `%s` (%s, ~%d lines): %s\n", f.Path, f.Action, f.EstimatedLinesChanged, f.Description)
		}
		sb.WriteString("\n")
	}

	if len(sol.NewFiles) > 0 {
		sb.WriteString("## Files to create\n\n")
		for _, f := range sol.NewFiles {
			fmt.Fprintf(&sb, "- `%s` (~%d lines): %s\n", f.Path, f.EstimatedLines, f.Description)
		}
		sb.WriteString("\n")
	}

	if sol.DataMigration.Required {
		sb.WriteString("## Data migration\n\n")
		fmt.Fprintf(&sb, "%s\n\n", sol.DataMigration.Description)
		for _, step := range sol.DataMigration.Steps {
			fmt.Fprintf(&sb, "1. %s\n", step)
		}
		sb.WriteString("\n")
	}

	if len(sol.BreakingChanges) > 0 {
		sb.WriteString("## Breaking changes\n\n")
		for _, b := range sol.BreakingChanges {
			fmt.Fprintf(&sb, "- %s\n", b)
		}
		sb.WriteString("\n")
	}

	if len(sol.ImplementationOrder) > 0 {
		sb.WriteString("## Implementation order\n\n")
		for i, step := range sol.ImplementationOrder {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
		sb.WriteString("\n")
	}

	if len(sol.DependencyChanges) > 0 {
		sb.WriteString("## Dependency changes\n\n")
		for _, d := range sol.DependencyChanges {
			fmt.Fprintf(&sb, "- %s %s %s: %s\n", d.Action, d.Package, d.Version, d.Reason)
		}
		sb.WriteString("\n")
	}

	if len(sol.Risks) > 0 {
		sb.WriteString("## Risks\n\n")
		for _, r := range sol.Risks {
			fmt.Fprintf(&sb, "- [%s] %s", r.Severity, r.Description)
			if r.Mitigation != "" {
				fmt.Fprintf(&sb, " — mitigation: %s", r.Mitigation)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if sol.TestingNotes != "" {
		fmt.Fprintf(&sb, "## Testing\n\n%s\n\n", sol.TestingNotes)
	}

	if codingConventions != "" {
		fmt.Fprintf(&sb, "## Coding conventions\n\n%s\n", codingConventions)
	}

	return sb.String()
}

// AttachmentInstructions appends a note pointing the coding agent at the
// images committed to the side branch (spec.md §4.3 step 3).
func AttachmentInstructions(requestID int64, filenames []string) string {
	if len(filenames) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n## Attached images\n\n")
	fmt.Fprintf(&sb, "The following reference images were committed under `_temp-attachments/%d/` on this branch:\n\n", requestID)
	for _, f := range filenames {
		fmt.Fprintf(&sb, "- `_temp-attachments/%d/%s`\n", requestID, f)
	}
	return sb.String()
}

// SessionID builds the deterministic session identifier recorded in the
// agent comment that accompanies an assignment (spec.md §4.3 step 5).
func SessionID(requestID int64, utc string) string {
	return fmt.Sprintf("session-%d-%s", requestID, utc)
}
