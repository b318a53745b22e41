package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"videograb/internal/config"
	"videograb/internal/downloader"
	"videograb/internal/repository"
	"videograb/internal/repository/memory"
	"videograb/internal/repository/redis"
	"videograb/internal/repository/sqlite"
	"videograb/internal/service"
	"videograb/internal/storage"
)

// app holds the components shared by the serve and diagnose commands.
type app struct {
	jobs         service.JobService
	runner       *downloader.ExecRunner
	orchestrator *downloader.Orchestrator
	manager      downloader.Manager
	info         *downloader.InfoProber
	diagnostics  *downloader.Diagnostics
	storage      storage.Service
	closers      []func() error
}

func buildApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{}

	repo, closeRepo, err := openJobRepository(cfg)
	if err != nil {
		return nil, err
	}
	if closeRepo != nil {
		a.closers = append(a.closers, closeRepo)
	}
	if err := repo.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init job repository: %w", err)
	}
	a.jobs = service.NewJobService(repo)
	logger.Infof("job store: %s", cfg.Store.Driver)

	if cfg.Storage.Bucket != "" {
		a.storage, err = buildStorage(ctx, cfg, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("setup storage: %w", err)
		}
	}

	a.buildEngine(cfg, logger)

	a.manager = downloader.NewManager(downloader.Config{
		DownloadRoot:    cfg.Download.DataDir,
		MaxFileAge:      cfg.Download.MaxFileAge,
		CleanupInterval: cfg.Download.CleanupInterval,
		JobTTL:          cfg.Store.TTL,
		SweepInterval:   cfg.Store.SweepInterval,
		UploadOptions: storage.UploadOptions{
			Bucket:    cfg.Storage.Bucket,
			KeyPrefix: cfg.Storage.KeyPrefix,
		},
		Logger: logger,
	}, a.orchestrator, a.jobs, a.storage)

	return a, nil
}

// buildEngine wires the extraction side: proxies, pacing, admission,
// strategies and the subprocess runner.
func (a *app) buildEngine(cfg config.Config, logger *logrus.Logger) {
	proxies := downloader.NewProxyRotator(cfg.ProxyList())
	limiter := downloader.NewRateLimiter(cfg.RequestInterval())

	a.runner = downloader.NewExecRunner(cfg.Extractor.Binary, logger)
	a.orchestrator = downloader.NewOrchestrator(downloader.OrchestratorConfig{
		Builder: downloader.NewStrategyBuilder(downloader.StrategyConfig{
			OutputDir:      cfg.Download.DataDir,
			CookiesFile:    cfg.Extractor.CookiesFile,
			POToken:        cfg.Extractor.POToken,
			POTProviderURL: cfg.Extractor.POTProviderURL,
		}, proxies),
		Runner:   a.runner,
		Limiter:  limiter,
		Governor: downloader.NewGovernor(cfg.Download.MaxConcurrent),
		Proxies:  proxies,
		Logger:   logger,
	})
	a.info = downloader.NewInfoProber(a.runner, limiter, proxies, cfg.Extractor.CookiesFile, logger)
	a.diagnostics = downloader.NewDiagnostics(a.runner, a.runner.Binary(), cfg.Extractor.CookiesFile, a.orchestrator)

	if proxies.Configured() {
		logger.Infof("proxy rotation enabled with %d proxies", proxies.Status().Total)
	}
	logger.Infof("extractor %s, max %d concurrent, %s between launches",
		a.runner.Binary(), cfg.Download.MaxConcurrent, cfg.RequestInterval())
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func openJobRepository(cfg config.Config) (repository.JobRepository, func() error, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return memory.NewJobRepository(), nil, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		return sqlite.NewJobRepository(db), db.Close, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		return redis.NewJobRepository(client, cfg.Store.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("mirroring downloads to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
