package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"postcraft/handler"
	"postcraft/internal/bot"
	"postcraft/internal/config"
	"postcraft/internal/integrations/gemini"
	"postcraft/internal/integrations/paramstore"
	"postcraft/internal/integrations/telegram"
	"postcraft/internal/metrics"
	"postcraft/internal/repository"
	"postcraft/internal/repository/postgres"
	"postcraft/internal/usecase"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "postcraft",
		Short:         "postcraft - turns a day of notes into social media posts",
		SilenceUsage: true,
	}

	lambdaCmd := &cobra.Command{
		Use:   "lambda",
		Short: "Serve Telegram webhooks as an AWS Lambda function",
		RunE:  runLambda,
	}
	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Long-poll Telegram for updates and serve metrics",
		RunE:  runPoll,
	}

	var dsn string
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), dsn)
		},
	}
	migrateCmd.Flags().StringVar(&dsn, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres connection string")

	root.AddCommand(lambdaCmd, pollCmd, migrateCmd)
	return root
}

// store is satisfied by both record store backends.
type store interface {
	usecase.EventStore
	usecase.UserStore
}

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	router   *bot.Router
	telegram *telegram.Client
	registry *prometheus.Registry
	ready    func(context.Context) error
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires every dependency. Configuration is read only here.
func build(ctx context.Context) (*app, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		ready:    func(context.Context) error { return nil },
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("create SSM client: %w", err)
	}

	st, err := a.openStore(ctx, awsCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	geminiClient, err := gemini.NewClient(ssmClient, cfg.ParamPrefix, gemini.WithBaseURL(cfg.GeminiBaseURL))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	token, err := paramstore.Token(ctx, ssmClient, cfg.ParamPrefix+"/telegram-bot-token")
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("resolve Telegram token: %w", err)
	}
	tg, err := telegram.Connect(token, &http.Client{Timeout: 60 * time.Second}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.telegram = tg

	// ---- Service + router ----
	m := metrics.NewMetrics(a.registry)
	svc, err := usecase.NewService(st, st, geminiClient, usecase.Options{
		Model:       cfg.GeminiModel,
		CallTimeout: cfg.GenerationTimeout,
		Location:    cfg.Location,
		Platforms:   cfg.Platforms,
		Recorder:    m,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create service: %w", err)
	}

	a.router, err = bot.NewRouter(tg, svc, bot.Options{
		WelcomeSticker: cfg.WelcomeSticker,
		LoadingSticker: cfg.LoadingSticker,
		Counter:        m,
		Logger:         logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create router: %w", err)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context, awsCfg aws.Config) (store, error) {
	switch a.cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.Connect(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.ready = db.Ready
		return postgres.NewStore(db.Pool)
	default:
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), a.cfg.StateTable)
	}
}

func runLambda(cmd *cobra.Command, _ []string) error {
	a, err := build(cmd.Context())
	if err != nil {
		slog.Error("startup failed", "err", err)
		return err
	}
	defer a.Close()

	h, err := handler.NewHandler(a.router, a.cfg.WebhookSecret, a.logger)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	lambda.Start(h.Handle)
	return nil
}

func runPoll(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx)
	if err != nil {
		slog.Error("startup failed", "err", err)
		return err
	}
	defer a.Close()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           a.opsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics listening", "addr", a.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "err", err)
		}
	}()

	a.telegram.Poll(ctx, a.router.Dispatch)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("metrics server shutdown", "err", err)
	}
	return nil
}

func (a *app) opsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func runMigrate(ctx context.Context, dsn string) error {
	if dsn == "" {
		return errors.New("migrate: --dsn or POSTGRES_DSN is required")
	}
	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("schema applied")
	return nil
}
