// Command pipelined runs the multi-agent development pipeline core: the
// five polling workers, the Orchestrator, and the admin HTTP surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flag"

	"github.com/forgepipeline/core/codebase"
	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/internal/web"
	"github.com/forgepipeline/core/llm"
	"github.com/forgepipeline/core/pipeline"
	"github.com/forgepipeline/core/refdocs"
	"github.com/forgepipeline/core/sqlstore"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	var (
		dbPath        = flag.String("db", "pipeline.db", "SQLite database path")
		configPath    = flag.String("config", "", "YAML config file path")
		refDocsDir    = flag.String("refdocs", "./refdocs-data", "Directory holding product-objectives.md, sales-positioning.md, coding-conventions.md")
		adminAddr     = flag.String("admin-addr", ":8090", "Admin HTTP surface listen address")
		defaultLLM    = flag.String("llm-provider", "anthropic", "Default LLM provider: anthropic, openai, google")
		showVersion   = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pipelined %s (commit: %s)\n", version, gitCommit)
		os.Exit(0)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := pipeline.LoadConfigFile(*configPath)
	if err != nil {
		log.Error("load config file", "error", err)
		os.Exit(1)
	}

	db, err := sqlstore.Open(*dbPath)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	sqlStore := sqlstore.NewStore(db)

	cfgStore := pipeline.NewConfigStore(cfg, sqlStore)

	var host codehost.Client
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		host = codehost.NewGitHubClient(token, http.DefaultClient)
		log.Info("code host configured", "backend", "github")
	} else {
		host = codehost.NewNullClient(log)
		log.Warn("no GITHUB_TOKEN set, running in degraded code-host mode")
	}

	llmClient := llm.NewClient(*defaultLLM)
	if !llmClient.Registered() {
		log.Warn("no LLM provider credentials configured, triage/architect/code-review will fail until one is set")
	}
	llmClient.SetStageConfig(llm.StageTriage, llm.StageConfig{Provider: *defaultLLM})
	llmClient.SetStageConfig(llm.StageArchitect, llm.StageConfig{Provider: *defaultLLM})
	llmClient.SetStageConfig(llm.StageCodeReview, llm.StageConfig{Provider: *defaultLLM})

	cache := codebase.New(host)
	docs := refdocs.New(*refDocsDir, 15*time.Minute)

	notify := func(n pipeline.StallNotice) {
		log.Warn("request stalled", "requestId", n.RequestID, "state", n.State, "age", n.Age, "critical", n.Critical)
	}

	manager := pipeline.NewManager(sqlStore, host, llmClient, cache, docs, cfgStore, log, notify, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if orphaned, err := pipeline.ReconcileOrphanedSessions(ctx, sqlStore, log, 0); err != nil {
		log.Error("reconcile orphaned sessions", "error", err)
	} else if orphaned > 0 {
		log.Warn("found orphaned implementation sessions, leaving for PullRequestMonitorWorker", "count", orphaned)
	}

	manager.Start(ctx)
	log.Info("pipeline started", "db", *dbPath)

	server := web.NewServer(manager, sqlStore, *adminAddr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	manager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown", "error", err)
	}
}
