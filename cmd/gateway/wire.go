package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/config"
	"rikapay/apps/gateway/internal/executor"
	"rikapay/apps/gateway/internal/repo"
	"rikapay/apps/gateway/internal/runner"
	"rikapay/apps/gateway/internal/service/batch"
	"rikapay/apps/gateway/internal/service/intent"
	"rikapay/apps/gateway/internal/service/negotiate"
	"rikapay/apps/gateway/internal/service/orchestrator"
	"rikapay/apps/gateway/internal/service/ports"
	"rikapay/apps/gateway/internal/service/validate"
)

const redisKeyPrefix = "payrollgw:session:"

// payrollBackend is what both executor modes provide.
type payrollBackend interface {
	ports.Executor
	ports.PayrollChain
}

type components struct {
	catalog *catalog.Catalog
	orch    *orchestrator.Service
	batch   *batch.Service
	closers []func() error
}

func (c *components) Close() {
	if c.batch != nil {
		c.batch.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
}

func buildComponents(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.catalog = catalog.Default()
	if path := strings.TrimSpace(cfg.CatalogFile); path != "" {
		if c.catalog, err = catalog.Load(path); err != nil {
			return nil, err
		}
	}

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, store.Close)

	resolver, repairer, err := buildResolver(cfg)
	if err != nil {
		return nil, err
	}

	backend := buildBackend(cfg, logger)
	c.orch = orchestrator.NewService(orchestrator.Dependencies{
		Store:          store,
		Resolver:       resolver,
		Validator:      validate.NewValidator(c.catalog, repairer),
		Negotiator:     negotiate.New(c.catalog),
		Executor:       backend,
		Catalog:        c.catalog,
		Logger:         logger.Named("orchestrator"),
		ResolveTimeout: cfg.ResolveTimeout(),
		HistoryLimit:   cfg.Resolver.HistoryLimit,
	})

	if cfg.Batch.Enabled {
		var signer ports.TransactionSigner
		if url := strings.TrimSpace(cfg.Batch.SignerURL); url != "" {
			httpSigner, err := executor.NewHTTPSigner(url, cfg.Batch.OperatorAddress, cfg.ExecutorTimeout())
			if err != nil {
				return nil, err
			}
			signer = httpSigner
		} else {
			logger.Warn("batch signer is not configured, payroll transactions will only be built")
		}
		c.batch, err = batch.NewService(batch.Dependencies{
			Chain:        backend,
			Executor:     backend,
			Signer:       signer,
			Catalog:      c.catalog,
			Logger:       logger.Named("batch"),
			Schedule:     cfg.Batch.Schedule,
			Timezone:     cfg.Batch.Timezone,
			MisfireGrace: time.Duration(cfg.Batch.MisfireGraceSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init batch: %w", err)
		}
	}
	return c, nil
}

type closableStore interface {
	repo.SessionStore
	Close() error
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (closableStore, error) {
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		client, err := repo.DialRedis(ctx, cfg.Session.RedisURL)
		if err != nil {
			return nil, err
		}
		return repo.NewRedisStore(client, repo.RedisOptions{KeyPrefix: redisKeyPrefix, TTL: cfg.SessionTTL()}), nil
	default:
		opts := repo.MemoryOptions{TTL: cfg.SessionTTL(), Logger: logger.Named("sessions")}
		if cfg.Session.Persist {
			opts.DataDir = cfg.DataDir
		}
		return repo.NewStore(opts)
	}
}

func buildResolver(cfg config.Config) (ports.Resolver, ports.Repairer, error) {
	if cfg.Resolver.Backend != config.ResolverLLM {
		return intent.NewRuleResolver(nil), nil, nil
	}
	client := runner.NewClient(runner.New(), runner.GenerateConfig{
		ProviderID: cfg.Resolver.Provider,
		Model:      cfg.Resolver.Model,
		APIKey:     cfg.Resolver.APIKey,
		BaseURL:    cfg.Resolver.BaseURL,
		Headers:    cfg.Resolver.Headers,
		TimeoutMS:  cfg.Resolver.TimeoutSeconds * 1000,
		MaxTokens:  cfg.Resolver.MaxTokens,
	})
	llm, err := intent.NewLLMResolver(client)
	if err != nil {
		return nil, nil, err
	}
	return llm, llm, nil
}

func buildBackend(cfg config.Config, logger *zap.Logger) payrollBackend {
	if cfg.Executor.Mode == config.ExecutorHTTP {
		return executor.NewHTTPExecutor(cfg.Executor.PayrollAPIURL, cfg.ExecutorTimeout(), logger.Named("executor"))
	}
	return executor.NewDryRunExecutor()
}
