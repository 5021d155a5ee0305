package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/config"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/delivery/httpd"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service/analyzer"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service/integration"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/worker"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/worker/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type App struct {
	server      *http.Server
	logger      zerolog.Logger
	config      *config.Config
	db          *sql.DB
	checks      service.CheckService
	checkWorker worker.CheckWorker
	sweeper     *worker.AppealSweeper
	rabbitMQ    repository.RabbitMQRepository
	cancel      context.CancelFunc
}

type repositories struct {
	submissions  repository.SubmissionRepository
	checks       repository.CheckRepository
	baselines    repository.BaselineRepository
	collusion    repository.CollusionRepository
	sessions     repository.SessionRepository
	cases        repository.CaseRepository
	evidence     repository.EvidenceStore
	storage      repository.Pinger
	evidencePing repository.Pinger
}

// New wires the service. db may be nil when the memory driver is configured.
func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	repos, err := newRepositories(cfg, log, db)
	if err != nil {
		return nil, err
	}

	var (
		rabbitMQRepo repository.RabbitMQRepository
		publisher    queue.RabbitMQPublisher
		consumer     queue.RabbitMQConsumer
		events       service.EventPublisher
		queuePing    repository.Pinger
	)
	if cfg.RabbitMQ.Enabled {
		rabbitMQRepo, err = repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, log)
		if err != nil {
			return nil, err
		}
		if err := rabbitMQRepo.SetupQueue(
			cfg.RabbitMQ.Exchange,
			cfg.RabbitMQ.QueueName,
			models.RoutingSubmissionReceived,
		); err != nil {
			rabbitMQRepo.Close()
			return nil, err
		}

		publisher = queue.NewRabbitMQPublisher(rabbitMQRepo.Channel(), cfg.RabbitMQ.Exchange, log)
		consumer = queue.NewRabbitMQConsumer(
			rabbitMQRepo.Channel(),
			cfg.RabbitMQ.QueueName,
			cfg.RabbitMQ.ConsumerTag,
			cfg.RabbitMQ.PrefetchCount,
			log,
		)
		events = publisher
		queuePing = rabbitMQRepo
	}

	detection := cfg.Detection

	embedder := analyzer.NewHashingEmbedder(detection.Similarity.EmbeddingDim)
	corpus := analyzer.NewMemoryCorpusIndex(embedder, detection.Similarity.WindowSize, detection.Similarity.WindowStride)

	similarityConfig := analyzer.DefaultSimilarityConfig()
	similarityConfig.WindowSize = detection.Similarity.WindowSize
	similarityConfig.WindowStride = detection.Similarity.WindowStride
	similarityConfig.MatchFloor = detection.Similarity.MatchFloor
	similarityConfig.LowThreshold = detection.Similarity.LowThreshold
	similarityConfig.HighThreshold = detection.Similarity.HighThreshold
	similarityConfig.ProviderTimeout = cfg.Providers.Plagiarism.Timeout

	var plagiarismProvider analyzer.PlagiarismProvider
	if cfg.Providers.Plagiarism.Enabled {
		plagiarismProvider = integration.NewPlagiarismClient(clientConfig(cfg.Providers.Plagiarism), log)
	}
	similarity := analyzer.NewSimilarityEngine(embedder, corpus, plagiarismProvider, log, similarityConfig)

	styleConfig := analyzer.DefaultStyleConfig()
	styleConfig.LowThreshold = detection.Style.LowThreshold
	styleConfig.MediumThreshold = detection.Style.MediumThreshold
	styleConfig.HighThreshold = detection.Style.HighThreshold
	styleConfig.ProviderTimeout = cfg.Providers.Authorship.Timeout

	var authorshipProvider analyzer.AuthorshipProvider
	if cfg.Providers.Authorship.Enabled {
		authorshipProvider = integration.NewAuthorshipClient(clientConfig(cfg.Providers.Authorship), log)
	}
	style := analyzer.NewStyleProfiler(authorshipProvider, log, styleConfig)

	collusionConfig := analyzer.DefaultCollusionConfig()
	collusionConfig.EdgeThreshold = detection.Collusion.EdgeThreshold
	collusionConfig.TimingWindow = detection.Collusion.TimingWindow
	collusionConfig.MediumThreshold = detection.Collusion.MediumThreshold
	collusionConfig.HighThreshold = detection.Collusion.HighThreshold
	collusionConfig.Parallelism = detection.Collusion.Parallelism
	collusionConfig.EmbeddingTimeout = cfg.Providers.Embedding.Timeout

	var collusionEmbedder analyzer.Embedder = embedder
	if cfg.Providers.Embedding.Enabled {
		collusionEmbedder = integration.NewEmbeddingClient(clientConfig(cfg.Providers.Embedding), log)
	}
	collusionAnalyzer := analyzer.NewCollusionAnalyzer(collusionEmbedder, log, collusionConfig)

	proctoringConfig := analyzer.DefaultProctoringConfig()
	proctoringConfig.FlagThreshold = detection.Proctoring.FlagThreshold
	proctoringConfig.HardStopSeverity = detection.Proctoring.HardStopSeverity
	proctoringAnalyzer := analyzer.NewProctoringAnalyzer(log, proctoringConfig)

	aggregatorConfig := analyzer.DefaultAggregatorConfig()
	aggregatorConfig.FlagThreshold = detection.Fusion.FlagThreshold
	aggregatorConfig.ReviewConfidenceFloor = detection.Fusion.ReviewConfidenceFloor
	aggregatorConfig.DegradedFactor = detection.Fusion.DegradedFactor
	aggregator := analyzer.NewRiskAggregator(aggregatorConfig)

	baselineService := service.NewBaselineService(repos.baselines, style, log, nil)

	caseConfig := service.DefaultCaseConfig()
	caseConfig.AppealWindow = cfg.Cases.AppealWindow
	if cfg.Cases.SweepBatchSize > 0 {
		caseConfig.SweepBatchSize = cfg.Cases.SweepBatchSize
	}
	caseManager := service.NewCaseManager(
		repos.cases,
		repos.evidence,
		repos.submissions,
		baselineService,
		events,
		log,
		caseConfig,
	)

	checkConfig := service.DefaultCheckConfig()
	checkConfig.SimilarityTimeout = detection.Similarity.Timeout
	checkConfig.StyleTimeout = detection.Style.Timeout
	checkService := service.NewCheckService(
		repos.submissions,
		repos.checks,
		repos.collusion,
		similarity,
		style,
		corpus,
		aggregator,
		baselineService,
		caseManager,
		events,
		log,
		checkConfig,
	)

	collusionServiceConfig := service.DefaultCollusionServiceConfig()
	collusionServiceConfig.LockWait = detection.Collusion.LockWait
	collusionService := service.NewCollusionService(
		repos.submissions,
		repos.checks,
		repos.collusion,
		collusionAnalyzer,
		aggregator,
		caseManager,
		events,
		log,
		collusionServiceConfig,
	)

	proctoringService := service.NewProctoringService(
		repos.sessions,
		proctoringAnalyzer,
		aggregator,
		caseManager,
		events,
		log,
		nil,
	)

	workerPool := worker.NewWorkerPool(cfg.Workers.MaxWorkers, cfg.Workers.QueueSize, log)
	checkWorker := worker.NewCheckWorker(
		workerPool,
		consumer,
		publisher,
		checkService,
		log,
		worker.CheckWorkerConfig{ProcessTimeout: cfg.Workers.ProcessTimeout},
	)

	sweeper := worker.NewAppealSweeper(caseManager, cfg.Cases.SweepInterval, log)

	handler := httpd.NewHandler(httpd.Services{
		Checks:     checkService,
		Dispatcher: checkWorker,
		Cases:      caseManager,
		Collusion:  collusionService,
		Proctoring: proctoringService,
		Baselines:  baselineService,
		Storage:    repos.storage,
		Evidence:   repos.evidencePing,
		Queue:      queuePing,
	}, log)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:      server,
		logger:      log,
		config:      cfg,
		db:          db,
		checks:      checkService,
		checkWorker: checkWorker,
		sweeper:     sweeper,
		rabbitMQ:    rabbitMQRepo,
	}, nil
}

func newRepositories(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*repositories, error) {
	repos := &repositories{}

	switch cfg.Database.Driver {
	case "memory":
		repos.submissions = repository.NewMemorySubmissionRepository()
		repos.checks = repository.NewMemoryCheckRepository()
		repos.baselines = repository.NewMemoryBaselineRepository()
		repos.collusion = repository.NewMemoryCollusionRepository()
		repos.sessions = repository.NewMemorySessionRepository()
		repos.cases = repository.NewMemoryCaseRepository()
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("database driver postgres requires a connection")
		}
		repos.submissions = repository.NewSubmissionRepository(db, log)
		repos.checks = repository.NewCheckRepository(db, log)
		repos.baselines = repository.NewBaselineRepository(db, log)
		repos.collusion = repository.NewCollusionRepository(db, log)
		repos.sessions = repository.NewSessionRepository(db, log)
		repos.cases = repository.NewCaseRepository(db, log)
		repos.storage = repository.NewPostgresRepository(db, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	switch cfg.Evidence.Backend {
	case "memory":
		repos.evidence = repository.NewMemoryEvidenceStore()
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("evidence backend postgres requires a database connection")
		}
		repos.evidence = repository.NewEvidenceRepository(db, log)
		repos.evidencePing = repos.storage
	case "minio":
		m := cfg.Evidence.MinIO
		store, err := repository.NewMinIOEvidenceStore(repository.MinIOConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			Bucket:    m.Bucket,
			Region:    m.Region,
			UseSSL:    m.UseSSL,
		}, log)
		if err != nil {
			return nil, err
		}
		repos.evidence = store
		repos.evidencePing = store
	default:
		return nil, fmt.Errorf("unsupported evidence backend %q", cfg.Evidence.Backend)
	}

	return repos, nil
}

func clientConfig(p config.ProviderConfig) integration.ClientConfig {
	return integration.ClientConfig{
		BaseURL:    p.URL,
		APIKey:     p.APIKey,
		Timeout:    p.Timeout,
		RetryCount: p.RetryCount,
		RetryDelay: p.RetryDelay,
		RateLimit:  p.RateLimit,
		Burst:      p.Burst,
	}
}

// Run starts background processing and blocks serving HTTP.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.checkWorker.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to start check worker")
		return err
	}

	warmed, err := a.checks.WarmCorpus(ctx, a.config.Detection.Similarity.WarmupLimit)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to warm similarity corpus")
	} else {
		a.logger.Info().Int("submissions", warmed).Msg("Similarity corpus warmed")
	}

	recovered, err := a.checkWorker.RecoverPending(ctx, a.config.Workers.RecoverLimit)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to recover pending checks")
	} else if recovered > 0 {
		a.logger.Info().Int("checks", recovered).Msg("Recovered pending checks")
	}

	a.sweeper.Start(ctx)

	a.logger.Info().Msgf("Starting integrity service on %s", a.config.Server.Address)
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down integrity service...")

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}

	a.sweeper.Stop()

	if err := a.checkWorker.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop check worker")
	}

	if a.cancel != nil {
		a.cancel()
	}

	if a.rabbitMQ != nil {
		if err := a.rabbitMQ.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
			return err
		}
	}

	a.logger.Info().Msg("Integrity service stopped")
	return nil
}
