package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wfd-room-service/internal/app"
	"wfd-room-service/internal/config"
	"wfd-room-service/internal/domain"
	"wfd-room-service/internal/infra/memory"
	pgloader "wfd-room-service/internal/infra/postgres"
	redisinfra "wfd-room-service/internal/infra/redis"
	transport "wfd-room-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the practice room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
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

	// Backend selection happens once here; the service only ever sees the
	// repository interfaces.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.PhraseLoader = memory.NewStaticPhraseLoader(samplePhraseSets())
	if pool != nil {
		loader = pgloader.NewPhraseLoader(pool)
	}

	phraseTTL := config.Duration(cfg.Phrases.TTL, 10*time.Minute)
	var phraseRepo app.PhraseRepository
	if redisClient != nil {
		phraseRepo = redisinfra.NewPhraseRepository(redisClient, loader, phraseTTL)
	} else {
		phraseRepo = memory.NewPhraseRepository(loader, phraseTTL)
	}

	var rooms app.RoomRepository
	if redisClient != nil {
		rooms = redisinfra.NewRoomStore(redisClient, redisTTL)
	} else {
		rooms = memory.NewRoomStore()
	}

	countdown := config.Duration(cfg.Room.Countdown, app.DefaultCountdown)
	service := app.NewRoomService(rooms, phraseRepo, countdown)

	defaultSet := cfg.Room.DefaultPhraseSet
	if defaultSet == "" {
		defaultSet = "wfd-core"
	}
	wsHandler := transport.NewWSHandler(service, defaultSet)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting wfd room service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// samplePhraseSets provides a minimal phrase bank; swap this loader with a
// document DB-backed one in production.
func samplePhraseSets() map[string]domain.PhraseSet {
	return map[string]domain.PhraseSet{
		"wfd-core": {
			ID: "wfd-core",
			Phrases: []domain.Phrase{
				{Text: "The lecture will be held in the main hall"},
				{Text: "Students should submit their assignments on time"},
				{Text: "The library opens at nine every morning"},
			},
		},
	}
}
