// Command ragline runs one ingestion pipeline invocation: crawl a
// documentation site, extract topics, and create or merge canonical documents
// in the vector store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"ragline/internal/config"
	"ragline/pkg/chunker"
	"ragline/pkg/crawler"
	"ragline/pkg/database"
	"ragline/pkg/embeddings"
	"ragline/pkg/ingest"
	"ragline/pkg/llm"
	"ragline/pkg/pipeline"
	"ragline/pkg/ratelimit"
	"ragline/pkg/store"
)

func main() {
	configPath := flag.String("config", "config.hcl", "Path to configuration file")
	startURL := flag.String("url", "", "Documentation site URL to ingest (required)")
	maxPages := flag.Int("max-pages", 0, "Override the configured crawl page limit")
	mode := flag.String("mode", "", "Override the configured mode (paragraph, full_doc, both)")
	dryRun := flag.Bool("dry-run", false, "Crawl, extract, and decide without writing documents")
	flag.Parse()

	if *startURL == "" {
		fmt.Fprintln(os.Stderr, "usage: ragline -url <start-url> [-config config.hcl] [-max-pages N] [-mode paragraph|full_doc|both] [-dry-run]")
		os.Exit(2)
	}

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
		if !ingest.ValidMode(ingest.Mode(cfg.Mode)) {
			fmt.Fprintf(os.Stderr, "invalid mode %q\n", cfg.Mode)
			os.Exit(2)
		}
	}
	pages := cfg.Crawler.MaxPages
	if *maxPages > 0 {
		pages = *maxPages
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "ragline",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})
	logger.Info("starting ragline",
		"config", *configPath,
		"url", *startURL,
		"mode", cfg.Mode,
		"max_pages", pages,
		"dry_run", *dryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling run", "signal", sig)
		cancel()
	}()

	db, err := connectDatabase(cfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	report, runErr := runPipeline(ctx, cfg, logger, db, *startURL, pages, *dryRun)
	if report != nil {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logger.Error("failed to render run report", "error", err)
		} else {
			fmt.Println(string(out))
		}
	}
	if runErr != nil {
		logger.Error("run finished with errors", "error", runErr)
	}
	if report != nil {
		os.Exit(report.ExitCode())
	}
	os.Exit(1)
}

func connectDatabase(cfg *config.Config, logger hclog.Logger) (*gorm.DB, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("database block is required")
	}
	return database.Connect(database.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		DBName:       cfg.Database.DBName,
		SSLMode:      cfg.Database.SSLMode,
		MaxIdleConns: cfg.Database.PoolMin,
		MaxOpenConns: cfg.Database.PoolMax,
	}, logger)
}

func runPipeline(ctx context.Context, cfg *config.Config, logger hclog.Logger, db *gorm.DB, startURL string, maxPages int, dryRun bool) (*pipeline.Report, error) {
	llmClient, err := buildLLMClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	embedder, err := buildEmbeddingClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	st := store.New(db, logger)
	ch := chunker.New(chunker.DefaultConfig())
	web := crawler.New(crawler.Config{
		OutputDir: cfg.Crawler.OutputDir,
		Delay:     secondsToDuration(cfg.Crawler.DelaySeconds),
		UserAgent: cfg.Crawler.UserAgent,
		Logger:    logger,
	})

	orch := ingest.NewOrchestrator(
		web,
		ingest.NewTopicExtractor(llmClient, logger),
		ingest.NewMergeDecider(embedder, llmClient, st, ingest.DeciderConfig{
			ThresholdHigh: cfg.Merge.ThresholdHigh,
			ThresholdLow:  cfg.Merge.ThresholdLow,
		}, logger),
		ingest.NewDocumentCreator(st, embedder, ch, logger,
			ingest.WithCreateBatchSize(cfg.Embedding.BatchSize)),
		ingest.NewDocumentMerger(st, llmClient, embedder, ch, logger,
			ingest.WithMergeBatchSize(cfg.Embedding.BatchSize)),
		st,
		ingest.WithMode(ingest.Mode(cfg.Mode)),
		ingest.WithLLMConcurrency(cfg.Pipeline.LLMConcurrency),
		ingest.WithDryRun(dryRun),
		ingest.WithLogger(logger),
	)

	return orch.Run(ctx, startURL, maxPages)
}

func buildLLMClient(cfg *config.Config, logger hclog.Logger) (llm.Client, error) {
	factory := llm.NewClientFactory(llm.ClientFactoryConfig{
		OpenAIAPIKey:  cfg.LLM.APIKey,
		OpenAIBaseURL: cfg.LLM.BaseURL,
		OllamaURL:     cfg.LLM.BaseURL,
		RateDelay:     secondsToDuration(cfg.LLM.RateDelaySeconds),
		Logger:        logger,
	})
	return factory.GetClient(cfg.LLM.Model)
}

func buildEmbeddingClient(cfg *config.Config, logger hclog.Logger) (embeddings.Client, error) {
	limiter := ratelimit.New(secondsToDuration(cfg.Embedding.RateDelaySeconds))

	var inner embeddings.Client
	var err error
	if strings.HasPrefix(strings.ToLower(cfg.Embedding.Model), "text-embedding") {
		inner, err = embeddings.NewOpenAIClient(embeddings.OpenAIConfig{
			APIKey:  cfg.Embedding.APIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			Limiter: limiter,
			Logger:  logger,
		})
	} else {
		inner, err = embeddings.NewOllamaClient(embeddings.OllamaConfig{
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			Limiter: limiter,
			Logger:  logger,
		})
	}
	if err != nil {
		return nil, err
	}
	return embeddings.NewCachedClient(inner, cfg.Embedding.CacheSize), nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
