// Package app builds the review pipeline from configuration. Both the API
// server and the CLI go through New.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/analyzer"
	"github.com/case-review/backend/internal/cache/redis"
	"github.com/case-review/backend/internal/llm"
	"github.com/case-review/backend/internal/references"
	"github.com/case-review/backend/internal/review"
	"github.com/case-review/backend/internal/storage/files"
	"github.com/case-review/backend/internal/storage/mongostore"
	"github.com/case-review/backend/internal/storage/sqlite"
	"github.com/case-review/backend/internal/vocabulary"
	"github.com/case-review/backend/pkg/config"
	"github.com/case-review/backend/pkg/logger"
)

const (
	BackendFile  = "file"
	BackendMongo = "mongo"
)

// App owns every long-lived client. Close releases them in reverse order.
type App struct {
	Config     *config.Config
	Cases      *sqlite.Client
	Files      *files.Store
	Mongo      *mongostore.Store
	Cache      *redis.Client
	References *references.Client
	Vocabulary *vocabulary.Holder
	Service    *review.Service

	mongoClient *mongo.Client
	scheduler   *cron.Cron
}

// New connects storage, builds the analyzers and returns the assembled
// service. The LLM endpoint must be configured; nothing else is required.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	cases, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite client: %w", err)
	}
	a.Cases = cases
	if err := cases.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	a.Files, err = files.NewStore(cfg.Storage.OutputDir)
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if backend != BackendFile && backend != BackendMongo {
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if backend == BackendMongo || cfg.Vocabulary.Source == BackendMongo {
		if err := a.connectMongo(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.Redis.Enabled {
		a.Cache, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, reference cache disabled", zap.Error(err))
			a.Cache = nil
		}
	}

	refCfg := references.Config{
		KBBaseURL:   cfg.References.KBBaseURL,
		KBToken:     cfg.References.KBToken,
		JiraBaseURL: cfg.References.JiraBaseURL,
		JiraToken:   cfg.References.JiraToken,
		Timeout:     seconds(cfg.References.TimeoutSec),
		CacheTTL:    time.Duration(cfg.Redis.TTLMin) * time.Minute,
	}
	if a.Cache != nil {
		a.References = references.NewClient(refCfg, a.Cache)
	} else {
		a.References = references.NewClient(refCfg, nil)
	}

	llmClient, err := llm.NewClient(llm.Config{
		Endpoint: cfg.LLM.Endpoint,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  seconds(cfg.LLM.TimeoutSec),
	})
	if err != nil {
		return nil, err
	}

	if err := a.loadVocabulary(ctx); err != nil {
		return nil, err
	}

	deps := review.Deps{
		Cases:      cases,
		References: a.References,
		Analyzers: review.Analyzers{
			Issue:     analyzer.NewIssueAnalyzer(llmClient, settings(cfg.LLM.Issue)),
			Bucket:    analyzer.NewBucketAnalyzer(llmClient, settings(cfg.LLM.Bucket)),
			Tags:      analyzer.NewTagAnalyzer(llmClient, settings(cfg.LLM.Tags), a.Vocabulary),
			Relevance: analyzer.NewRelevanceAnalyzer(llmClient, settings(cfg.LLM.Relevance), cfg.Relevance.Threshold),
		},
		Summaries:  a.Files,
		TagOptions: analyzer.TagOptions{UseLLM: cfg.Tags.UseLLM},
	}
	if backend == BackendMongo {
		deps.Store = a.Mongo
	} else {
		deps.Store = a.Files
	}
	if a.Mongo != nil {
		deps.Reports = a.Mongo
		deps.ImportSink = a.Mongo
	}

	a.Service = review.NewService(deps)

	logger.Info("Review pipeline ready",
		zap.String("storage", backend),
		zap.Bool("mongo", a.Mongo != nil),
		zap.Bool("cache", a.Cache != nil),
		zap.String("vocabulary", a.Vocabulary.Current().Source),
	)

	ok = true
	return a, nil
}

func (a *App) connectMongo(ctx context.Context) error {
	client, err := mongostore.Connect(ctx, a.Config.Mongo.URI, seconds(a.Config.Mongo.TimeoutSec))
	if err != nil {
		return err
	}
	a.mongoClient = client
	a.Mongo = mongostore.NewStore(client.Database(a.Config.Mongo.Database))

	if err := a.Mongo.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure mongo indexes", zap.Error(err))
	}
	return nil
}

// loadVocabulary primes the holder from the configured source and starts
// the reload schedule. A failed first load leaves an empty vocabulary; tag
// validation then reports every tag as unknown until a reload succeeds.
func (a *App) loadVocabulary(ctx context.Context) error {
	var loader vocabulary.Loader
	switch a.Config.Vocabulary.Source {
	case BackendMongo:
		loader = a.Mongo.VocabularyLoader()
	case BackendFile, "":
		loader = vocabulary.FileLoader{Path: a.Config.Vocabulary.Path}
	default:
		return fmt.Errorf("unknown vocabulary source %q", a.Config.Vocabulary.Source)
	}

	a.Vocabulary = vocabulary.NewHolder(loader)
	if err := a.Vocabulary.Reload(ctx); err != nil {
		logger.Warn("Initial vocabulary load failed", zap.Error(err))
	}

	scheduler, err := vocabulary.Schedule(a.Vocabulary, a.Config.Vocabulary.ReloadSchedule)
	if err != nil {
		return err
	}
	a.scheduler = scheduler
	return nil
}

func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if a.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongoClient.Disconnect(ctx); err != nil {
			logger.Warn("Failed to disconnect mongo", zap.Error(err))
		}
	}
	if a.Cases != nil {
		if err := a.Cases.Close(); err != nil {
			logger.Warn("Failed to close sqlite client", zap.Error(err))
		}
	}
}

func settings(c config.AnalyzerLLMConfig) analyzer.Settings {
	return analyzer.Settings{
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
