package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/chatsync-io/chatsync/internal/config"
	"github.com/chatsync-io/chatsync/internal/database"
	"github.com/chatsync-io/chatsync/internal/server"
	"github.com/chatsync-io/chatsync/internal/stats"
)

type SyncApp struct {
	log             *log.Logger
	db              database.SyncRepository
	srv             *http.Server
	cs              *server.SyncServer
	stats           stats.StatsProvider
	signingKey      []byte
	allowedOrigins  []string
	generateShortId func() (string, error)
}

func NewSyncApp(mux *http.ServeMux, logger *log.Logger, cs *server.SyncServer, db database.SyncRepository, sp stats.StatsProvider, cfg *config.Config) *SyncApp {
	s := &SyncApp{
		log:             logger,
		db:              db,
		cs:              cs,
		stats:           sp,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("GET /api/health", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.Handle("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.Handle("GET /api/conversations/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.Handle("PATCH /api/notifications/{id}/read", s.authMiddleware(s.markNotificationRead))
	mux.Handle("PUT /api/notifications/read-all", s.authMiddleware(s.markAllNotificationsRead))
	mux.Handle("DELETE /api/notifications/{id}", s.authMiddleware(s.deleteNotification))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.srv = srv
	return s
}

func (s *SyncApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *SyncApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
