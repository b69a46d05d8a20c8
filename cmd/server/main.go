package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anonymeet/anonymeet/internal/api"
	"github.com/anonymeet/anonymeet/internal/config"
	"github.com/anonymeet/anonymeet/internal/database"
	"github.com/anonymeet/anonymeet/internal/filter"
	"github.com/anonymeet/anonymeet/internal/server"
	"github.com/anonymeet/anonymeet/internal/stats"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const defaultSigningKey = "6bN0QqEwAsnGhg1b0mAIuA1HNr7tlLJqEWhqKlEQ5dI="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr            string
	dsn             string
	signingKey      string
	allowedOrigins  stringSliceFlag
	roomIdleTimeout time.Duration
)

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// flags fall back to the environment, which a local .env may populate
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", envDefault("ANONYMEET_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envDefault("ANONYMEET_DSN",
		"host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envDefault("ANONYMEET_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&roomIdleTimeout, "room-idle-timeout", config.DefaultRoomIdleTimeout, "how long an empty room stays in memory")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if env := os.Getenv("ANONYMEET_ALLOWED_ORIGINS"); env != "" {
			allowedOrigins = strings.Split(env, ",")
		}
	}

	logger := log.New(os.Stderr, "[anonymeet] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, roomIdleTimeout)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgAnonymeetRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	profanityFilter := filter.Default()

	chatServer, err := server.NewChatServer(logger, dbConn, profanityFilter, statsUpdater, cfg.RoomIdleTimeout)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewAnonymeetApp(mux, logger, chatServer, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	chatServer.Shutdown()

	logger.Println("shutdown complete")
}
