package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgepipeline/core/codebase"
	"github.com/forgepipeline/core/llm"
	"github.com/forgepipeline/core/prompt"
	"github.com/forgepipeline/core/refdocs"
	"github.com/forgepipeline/core/store"
)

// ArchitectWorker implements spec.md §4.2's two-phase design: phase A asks
// the LLM which files it needs to read, phase B asks it for a full
// SolutionDocument given those files' content.
type ArchitectWorker struct {
	loop *workerLoop

	db    store.Store
	llm   *llm.Client
	cache *codebase.Cache
	docs  *refdocs.Store
	cfg   *ConfigStore

	metrics *Metrics
}

// NewArchitectWorker wires an ArchitectWorker polling at interval.
func NewArchitectWorker(db store.Store, llmClient *llm.Client, cache *codebase.Cache, docs *refdocs.Store, cfg *ConfigStore, interval time.Duration, log *slog.Logger) *ArchitectWorker {
	w := &ArchitectWorker{db: db, llm: llmClient, cache: cache, docs: docs, cfg: cfg}
	w.loop = newWorkerLoop("architect", interval, log, w.runCycle)
	return w
}

func (w *ArchitectWorker) Run(ctx context.Context) { w.loop.Run(ctx) }
func (w *ArchitectWorker) Pause()                  { w.loop.Pause() }
func (w *ArchitectWorker) Resume()                 { w.loop.Resume() }
func (w *ArchitectWorker) Status() Status          { return w.loop.GetStatus() }

// SetMetrics attaches m for cycle and token-usage observation.
func (w *ArchitectWorker) SetMetrics(m *Metrics) {
	w.metrics = m
	w.loop.SetMetrics(m)
}

func (w *ArchitectWorker) runCycle(ctx context.Context) (int, error) {
	cfg := w.cfg.Current(ctx)

	if exceeded, err := budgetExceeded(ctx, w.db, store.ReviewKindArchitect, cfg); err != nil {
		return 0, fmt.Errorf("architect: check token budget: %w", err)
	} else if exceeded {
		w.loop.log.Warn("token budget exceeded, skipping cycle")
		return 0, nil
	}

	requests, err := w.db.SelectForArchitect(ctx, cfg.ArchitectBatchSize)
	if err != nil {
		return 0, fmt.Errorf("architect: select candidates: %w", err)
	}

	processed := 0
	for i := range requests {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := w.architectOne(ctx, &requests[i], cfg); err != nil {
			w.loop.log.Error("architect request failed", "requestId", requests[i].ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (w *ArchitectWorker) architectOne(ctx context.Context, req *store.Request, cfg Config) error {
	project, err := w.db.GetProject(ctx, req.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %d: %w", req.ProjectID, err)
	}

	triage, _, err := w.db.LatestTriageReview(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("latest triage review: %w", err)
	}

	prior, hasPrior, err := w.db.LatestArchitectReview(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("latest architect review: %w", err)
	}
	var priorForPrompt *store.ArchitectReview
	humanFeedback := ""
	if hasPrior {
		priorForPrompt = prior
		humanFeedback = prior.HumanFeedback
	}

	repoFiles, err := w.cache.Map(ctx, project.Owner, project.Repo)
	if err != nil {
		return fmt.Errorf("repo map: %w", err)
	}
	repoMap := codebase.RenderMap(repoFiles)

	// Phase A: ask which files to read.
	sysA, userA := prompt.ArchitectFileSelectionPrompt(req, project, repoMap, triage, cfg.MaxFilesToRead)
	sysA = systemPromptOverride(ctx, w.db, llm.StageArchitect+".fileSelection", sysA)
	respA, err := w.llm.Complete(ctx, llm.StageArchitect, &llm.Request{
		System:   sysA,
		Messages: []llm.Message{{Role: "user", Content: userA}},
	})
	if err != nil {
		return fmt.Errorf("phase A completion: %w", err)
	}
	if w.metrics != nil {
		w.metrics.ObserveTokens(llm.StageArchitect, respA.Usage.InputTokens, respA.Usage.OutputTokens)
	}
	paths := prompt.ParseFileSelection(respA.Content, cfg.MaxFilesToRead)

	fetched, err := w.cache.ContentBatch(ctx, project.Owner, project.Repo, paths)
	if err != nil {
		return fmt.Errorf("fetch file content: %w", err)
	}
	files := make([]prompt.FileContent, 0, len(fetched))
	for _, f := range fetched {
		files = append(files, prompt.FileContent{Path: f.Path, Content: f.Content})
	}

	// Phase B: ask for the full solution document.
	refContext := w.docs.ProductAndSalesContext()
	sysB, userB := prompt.ArchitectSolutionPrompt(req, refContext, repoMap, files, triage, priorForPrompt, humanFeedback, cfg.MaxFileContentChars)
	sysB = systemPromptOverride(ctx, w.db, llm.StageArchitect+".solution", sysB)
	temp := cfg.ArchitectTemperature
	respB, err := w.llm.Complete(ctx, llm.StageArchitect, &llm.Request{
		System:      sysB,
		Messages:    []llm.Message{{Role: "user", Content: userB}},
		MaxTokens:   cfg.ArchitectMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return fmt.Errorf("phase B completion: %w", err)
	}
	if w.metrics != nil {
		w.metrics.ObserveTokens(llm.StageArchitect, respB.Usage.InputTokens, respB.Usage.OutputTokens)
	}

	knownPaths, err := w.cache.KnownPaths(ctx, project.Owner, project.Repo)
	if err != nil {
		return fmt.Errorf("known paths: %w", err)
	}
	solution, err := prompt.ParseSolutionDocument(respB.Content, knownPaths)
	if err != nil {
		return fmt.Errorf("parse solution document: %w", err)
	}

	review := store.ArchitectReview{
		RequestID:             req.ID,
		SolutionSummary:       solution.SolutionSummary,
		Approach:              solution.Approach,
		Solution:              solution,
		EstimatedComplexity:   solution.EstimatedComplexity,
		EstimatedEffort:       solution.EstimatedEffort,
		FilesAnalyzed:         len(files),
		PathsRead:             paths,
		Step1PromptTokens:     respA.Usage.InputTokens,
		Step1CompletionTokens: respA.Usage.OutputTokens,
		Step2PromptTokens:     respB.Usage.InputTokens,
		Step2CompletionTokens: respB.Usage.OutputTokens,
		Model:                 respB.Model,
		Duration:              respA.Duration + respB.Duration,
		Decision:              store.ArchitectPending,
	}
	if _, err := w.db.AddArchitectReview(ctx, &review); err != nil {
		return fmt.Errorf("add architect review: %w", err)
	}

	if err := w.flagConflicts(ctx, req, &solution); err != nil {
		w.loop.log.Warn("conflict detection failed", "requestId", req.ID, "error", err)
	}

	now := time.Now()
	prevUpdatedAt := req.UpdatedAt
	req.State = store.StateArchitectReview
	req.LastArchitectAt = &now
	req.ArchitectCount++
	req.UpdatedAt = prevUpdatedAt
	if err := w.db.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update request %d: %w", req.ID, err)
	}
	return nil
}

// conflictStates are the states in which another request's impacted-file
// set is still live enough to collide with a fresh solution.
var conflictStates = []store.RequestState{store.StateArchitectReview, store.StateApproved, store.StateInProgress}

// flagConflicts warns (rather than blocks) when req's impacted files
// overlap another in-flight request in the same project, generalizing the
// teacher's kanban.HasConflict/GetConflictingTickets.
func (w *ArchitectWorker) flagConflicts(ctx context.Context, req *store.Request, solution *store.SolutionDocument) error {
	paths := make(map[string]bool, len(solution.ImpactedFiles))
	for _, f := range solution.ImpactedFiles {
		paths[f.Path] = true
	}
	if len(paths) == 0 {
		return nil
	}

	for _, state := range conflictStates {
		others, err := w.db.SelectByState(ctx, state)
		if err != nil {
			return fmt.Errorf("select by state %s: %w", state, err)
		}
		for _, other := range others {
			if other.ID == req.ID || other.ProjectID != req.ProjectID {
				continue
			}
			otherReview, ok, err := w.db.LatestArchitectReview(ctx, other.ID)
			if err != nil || !ok {
				continue
			}
			var overlap []string
			for _, f := range otherReview.Solution.ImpactedFiles {
				if paths[f.Path] {
					overlap = append(overlap, f.Path)
				}
			}
			if len(overlap) == 0 {
				continue
			}
			comment := store.Comment{
				RequestID: req.ID,
				Author:    "architect-bot",
				IsAgent:   true,
				Content: fmt.Sprintf("Potential conflict: request #%d (%s) also touches %v", other.ID,
					other.State, overlap),
			}
			if _, err := w.db.AddComment(ctx, &comment); err != nil {
				return fmt.Errorf("add conflict comment: %w", err)
			}
		}
	}
	return nil
}
