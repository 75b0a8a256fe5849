package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coach-assessment-service/internal/app"
	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/config"
	"coach-assessment-service/internal/decision"
	"coach-assessment-service/internal/domain"
	"coach-assessment-service/internal/engine"
	"coach-assessment-service/internal/infra/memory"
	pginfra "coach-assessment-service/internal/infra/postgres"
	redisinfra "coach-assessment-service/internal/infra/redis"
	"coach-assessment-service/internal/llm"
	"coach-assessment-service/internal/logging"
	transport "coach-assessment-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// dependencies are the backends selected by configuration. close releases them in
// reverse order of acquisition.
type dependencies struct {
	sessions app.SessionRepository
	catalogs app.CatalogRepository
	locks    app.SessionLocker
	decider  engine.Decider
	closers  []func()
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer deps.close()

	eng := engine.New(deps.decider, engine.Config{
		DecisionTimeout: decisionTimeout(cfg),
	})
	service := app.NewAssessmentService(deps.sessions, deps.catalogs, deps.locks, eng, logger)
	identity := transport.NewJWTIdentity(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.NewRouter(service, identity, logger),
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 30*time.Second),
	}

	go func() {
		logger.Info("starting assessment service", zap.String("addr", server.Addr), zap.String("ai_provider", cfg.AI.Provider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildDependencies(ctx context.Context, cfg config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}
	fail := func(err error) (*dependencies, error) {
		deps.close()
		return nil, err
	}

	local, err := localArtifact(cfg)
	if err != nil {
		return fail(err)
	}

	var loader memory.CatalogLoader = memory.NewStaticCatalogLoader(local)
	deps.sessions = memory.NewStore()
	if cfg.Postgres.URL != "" {
		db := openBun(cfg.Postgres.URL)
		deps.closers = append(deps.closers, func() { _ = db.Close() })
		if err := migrateDB(ctx, db, logger); err != nil {
			return fail(err)
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fail(err)
		}
		deps.closers = append(deps.closers, pool.Close)

		pgLoader := pginfra.NewCatalogLoader(pool)
		if err := ensureActiveCatalog(ctx, pgLoader, local, cfg.Engine.SeverityThreshold > 0, logger); err != nil {
			return fail(err)
		}
		loader = pgLoader
		deps.sessions = pginfra.NewStore(db)
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		deps.closers = append(deps.closers, func() { _ = client.Close() })
		deps.catalogs = redisinfra.NewCatalogCache(client, loader, catalogTTL)
		deps.locks = redisinfra.NewSessionLocker(client, config.TTLDuration(cfg.Redis.LockTTL, 30*time.Second))
	} else {
		deps.catalogs = memory.NewCatalogRepository(loader, catalogTTL)
		deps.locks = memory.NewSessionLocker()
	}

	deps.decider, err = newDecider(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	return deps, nil
}

// localArtifact is the catalog used when no store holds one: the configured file, or the
// embedded default.
func localArtifact(cfg config.Config) (catalog.Artifact, error) {
	var (
		a   catalog.Artifact
		err error
	)
	if cfg.Catalog.File == "" {
		a, err = catalog.DefaultArtifact()
	} else {
		a, err = catalog.LoadFile(cfg.Catalog.File)
	}
	if err != nil {
		return catalog.Artifact{}, err
	}
	if t := cfg.Engine.SeverityThreshold; t > 0 && t != a.Settings.SeverityThreshold {
		a.Settings.SeverityThreshold = t
		// the source version no longer names this content; Build stamps a content hash
		a.Version = ""
	}
	return catalog.Build(a)
}

// ensureActiveCatalog publishes the local artifact into an empty catalog table so a fresh
// database can serve sessions right away. A pinned artifact, one carrying a config override,
// replaces whatever version is active.
func ensureActiveCatalog(ctx context.Context, loader *pginfra.CatalogLoader, local catalog.Artifact, pinned bool, logger *zap.Logger) error {
	active, err := loader.LoadCatalog(ctx, "")
	switch {
	case err == nil:
		if !pinned || active.Version == local.Version {
			return nil
		}
	case !errors.Is(err, domain.ErrCatalogNotFound):
		return err
	}
	if err := loader.Publish(ctx, local); err != nil {
		return err
	}
	logger.Info("published local catalog", zap.String("catalog_version", local.Version))
	return nil
}

func newDecider(ctx context.Context, cfg config.Config, logger *zap.Logger) (engine.Decider, error) {
	if cfg.AI.Provider == "" || cfg.AI.Provider == config.ProviderRules {
		return engine.CatalogDecider{}, nil
	}
	provider, err := llm.NewProvider(ctx, llmConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	return decision.NewLLMDecider(provider, decision.Config{
		MaxTokens:       cfg.AI.MaxTokens,
		Temperature:     cfg.AI.Temperature,
		RecentResponses: cfg.AI.RecentResponses,
	}, logger), nil
}

// decisionTimeout caps a whole next-step decision. With a hosted model ai.timeout applies to
// each attempt, so the cap covers every attempt plus the backoff between them.
func decisionTimeout(cfg config.Config) time.Duration {
	perAttempt := config.TTLDuration(cfg.AI.Timeout, 20*time.Second)
	if cfg.AI.Provider == "" || cfg.AI.Provider == config.ProviderRules {
		return perAttempt
	}
	return llmConfig(cfg).Retry.Budget()
}

func llmConfig(cfg config.Config) llm.Config {
	lc := llm.DefaultConfig()
	lc.Provider = cfg.AI.Provider
	lc.Anthropic.APIKey = cfg.AI.AnthropicAPIKey
	lc.OpenAI.APIKey = cfg.AI.OpenAIAPIKey
	lc.Gemini.APIKey = cfg.AI.GeminiAPIKey
	if cfg.AI.MaxAttempts > 0 {
		lc.Retry.MaxAttempts = cfg.AI.MaxAttempts
	}
	lc.Retry.AttemptTimeout = config.TTLDuration(cfg.AI.Timeout, 20*time.Second)
	switch cfg.AI.Provider {
	case llm.ProviderAnthropic:
		if cfg.AI.Model != "" {
			lc.Anthropic.Model = cfg.AI.Model
		}
		lc.Anthropic.BaseURL = cfg.AI.BaseURL
	case llm.ProviderOpenAI:
		if cfg.AI.Model != "" {
			lc.OpenAI.Model = cfg.AI.Model
		}
		lc.OpenAI.BaseURL = cfg.AI.BaseURL
	case llm.ProviderGemini:
		if cfg.AI.Model != "" {
			lc.Gemini.Model = cfg.AI.Model
		}
	}
	return lc
}
