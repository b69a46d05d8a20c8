package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/anonymeet/anonymeet/internal/config"
	"github.com/anonymeet/anonymeet/internal/database"
	"github.com/anonymeet/anonymeet/internal/server"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
)

type AnonymeetApp struct {
	log            *log.Logger
	db             database.AnonymeetRepository
	mux            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
	validate       *validator.Validate
}

func NewAnonymeetApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.AnonymeetRepository, cfg *config.Config) *AnonymeetApp {
	s := &AnonymeetApp{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		validate:       validator.New(),
	}

	mux.HandleFunc("POST /api/auth/signup", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms/history", s.authMiddleware(s.roomHistory))
	mux.Handle("POST /api/rooms/join", s.authMiddleware(s.joinRoom))
	mux.Handle("POST /api/rooms/{roomId}/leave", s.authMiddleware(s.leaveRoom))
	mux.Handle("POST /api/rooms/{roomId}/end", s.authMiddleware(s.endRoom))
	mux.Handle("GET /api/rooms/{roomId}/state", s.authMiddleware(s.roomState))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /health", s.health)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *AnonymeetApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *AnonymeetApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
