package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exam-trainer-service/internal/app"
	"exam-trainer-service/internal/config"
	"exam-trainer-service/internal/domain"
	"exam-trainer-service/internal/infra/memory"
	"exam-trainer-service/internal/infra/postgres"
	rediscache "exam-trainer-service/internal/infra/redis"
	"exam-trainer-service/internal/lib/slogcolor"
	"exam-trainer-service/internal/telegram"
	transport "exam-trainer-service/internal/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	log := slog.New(slogcolor.NewHandler(os.Stdout, slog.LevelInfo))
	slog.SetDefault(log)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var (
		sessions app.SessionStore
		stats    app.StatsStore
		catalog  app.QuestionCatalog
	)
	if cfg.Postgres.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := postgres.NewStore(pool)
		sessions, stats = store, store

		pgCatalog := postgres.NewCatalog(pool)
		if redisClient != nil {
			quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
			catalog = rediscache.NewCatalogCache(redisClient, pgCatalog, quizTTL)
		} else {
			catalog = pgCatalog
		}
	} else {
		log.Warn("postgres not configured, running on in-memory demo state")
		store := memory.NewStore()
		sessions, stats = store, store
		catalog = memory.NewStaticCatalog(sampleCatalog())
	}

	service := app.NewSessionService(sessions, stats, catalog, cfg.Quiz.TestSize, log)

	telegramConfigured := cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0
	var notifier transport.Notifier = transport.NopNotifier{}
	if telegramConfigured {
		client := telegram.NewClient(cfg.Telegram.Token)
		notifier = telegram.NewNotifier(client, cfg.Telegram.ChatID, log)

		pollInterval := config.TTLDuration(cfg.Telegram.PollInterval, 2*time.Second)
		poller := telegram.NewPoller(client, stats, cfg.Telegram.ChatID, cfg.Quiz.MinShown, pollInterval, log)
		pollCtx, stopPoller := context.WithCancel(ctx)
		defer stopPoller()
		go poller.Run(pollCtx)
	}

	handler := transport.NewHandler(service, stats, notifier, telegramConfigured, log)
	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      transport.CORS(cfg.Server.AllowedOrigins, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting exam trainer service", "port", finalPort, "telegram", telegramConfigured)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleCatalog seeds the in-memory demo mode with a tiny question set.
func sampleCatalog() []domain.QuestionRecord {
	return []domain.QuestionRecord{
		{
			Question: domain.Question{
				ID:   1,
				Text: "What is 2 + 2?",
				Answers: []domain.AnswerOption{
					{ID: 1, Text: "3"},
					{ID: 2, Text: "4"},
					{ID: 3, Text: "5"},
				},
			},
			CorrectAnswerID:   2,
			CorrectAnswerText: "4",
		},
		{
			Question: domain.Question{
				ID:   2,
				Text: "Which planet is closest to the sun?",
				Answers: []domain.AnswerOption{
					{ID: 1, Text: "Venus"},
					{ID: 2, Text: "Mercury"},
					{ID: 3, Text: "Mars"},
				},
			},
			CorrectAnswerID:   2,
			CorrectAnswerText: "Mercury",
		},
		{
			Question: domain.Question{
				ID:   3,
				Text: "How many minutes are in an hour?",
				Answers: []domain.AnswerOption{
					{ID: 1, Text: "60"},
					{ID: 2, Text: "100"},
					{ID: 3, Text: "90"},
				},
			},
			CorrectAnswerID:   1,
			CorrectAnswerText: "60",
		},
	}
}
