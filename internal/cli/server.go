package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	pgloader "quizroom-service/internal/infra/postgres"
	redisinfra "quizroom-service/internal/infra/redis"
	transport "quizroom-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz-room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

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
	roomTTL := config.TTLDuration(cfg.Redis.TTL, 0)

	var pgPool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pgPool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.PoolLoader = memory.NewStaticPoolLoader(samplePools())
	if pgPool != nil {
		loader = pgloader.NewPoolLoader(pgPool)
	}

	poolTTL := config.TTLDuration(cfg.Quiz.PoolTTL, 10*time.Minute)
	var pools app.PoolRepository
	if redisClient != nil {
		pools = redisinfra.NewPoolRepository(redisClient, loader, poolTTL)
	} else {
		pools = memory.NewPoolRepository(loader, poolTTL)
	}

	var store app.RoomStore
	if redisClient != nil {
		store = redisinfra.NewRoomStore(redisClient, roomTTL, logger)
	} else {
		store = memory.NewRoomStore()
	}
	service := app.NewRoomService(store, pools)
	handler := transport.NewHandler(service, cfg.QuestionSeconds(), logger)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz-room service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "err", err)
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

// samplePools seeds the original three topics; swap the loader for the
// Postgres-backed one in production.
func samplePools() map[string][]domain.Question {
	return map[string][]domain.Question{
		"dataStructures": {
			{
				Question:      "Which data structure gives O(1) average lookup by key?",
				Options:       []string{"Linked list", "Hash table", "Binary heap", "Stack"},
				CorrectAnswer: 1,
			},
			{
				Question:      "What is the worst-case time to search a balanced BST of n nodes?",
				Options:       []string{"O(1)", "O(log n)", "O(n)", "O(n log n)"},
				CorrectAnswer: 1,
			},
			{
				Question:      "Which structure is the natural fit for breadth-first search?",
				Options:       []string{"Queue", "Stack", "Priority queue", "Set"},
				CorrectAnswer: 0,
			},
			{
				Question:      "A stack follows which ordering discipline?",
				Options:       []string{"FIFO", "LIFO", "Priority", "Random"},
				CorrectAnswer: 1,
			},
			{
				Question:      "Which structure backs an efficient priority queue?",
				Options:       []string{"Array", "Linked list", "Binary heap", "Hash table"},
				CorrectAnswer: 2,
			},
		},
		"networking": {
			{
				Question:      "Which protocol guarantees ordered, reliable delivery?",
				Options:       []string{"UDP", "TCP", "ICMP", "ARP"},
				CorrectAnswer: 1,
			},
			{
				Question:      "DNS primarily resolves what?",
				Options:       []string{"MAC to IP", "Names to IP addresses", "Ports to services", "Routes to gateways"},
				CorrectAnswer: 1,
			},
			{
				Question:      "Which layer of the OSI model does IP belong to?",
				Options:       []string{"Transport", "Network", "Data link", "Session"},
				CorrectAnswer: 1,
			},
			{
				Question:      "What does a default HTTP server listen on?",
				Options:       []string{"Port 21", "Port 25", "Port 80", "Port 443"},
				CorrectAnswer: 2,
			},
		},
		"operatingSystems": {
			{
				Question:      "What schedules which process runs next on a CPU?",
				Options:       []string{"The linker", "The scheduler", "The loader", "The shell"},
				CorrectAnswer: 1,
			},
			{
				Question:      "Which mechanism lets processes share a CPU transparently?",
				Options:       []string{"Paging", "Context switching", "Spooling", "Caching"},
				CorrectAnswer: 1,
			},
			{
				Question:      "A deadlock requires which condition?",
				Options:       []string{"Preemption", "Circular wait", "Infinite memory", "Round-robin scheduling"},
				CorrectAnswer: 1,
			},
			{
				Question:      "Virtual memory maps virtual addresses to what?",
				Options:       []string{"Disk sectors only", "Physical frames", "CPU registers", "Network buffers"},
				CorrectAnswer: 1,
			},
		},
	}
}
