package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ncog-id/ncog/pkg/config"
	"github.com/ncog-id/ncog/pkg/metrics"
	"github.com/ncog-id/ncog/pkg/registry"
	"github.com/ncog-id/ncog/pkg/server/store"
)

type Server struct {
	Router  *mux.Router
	DB      *gorm.DB
	Store   store.Store
	Clients *registry.Clients
	Config  *config.Config

	srv      *http.Server
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewServer(
	cfg *config.Config,
	db *gorm.DB,
	st store.Store,
	clients *registry.Clients,
	log zerolog.Logger,
) *Server {
	router := mux.NewRouter().UseEncodedPath()
	srv := &http.Server{
		Handler: handlers.LoggingHandler(os.Stdout, router),
		Addr:    cfg.ListenAddr(),
		// The WebSocket endpoint hijacks its connection, so these only
		// bound the plain HTTP surface.
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	s := &Server{
		Router:  router,
		DB:      db,
		Store:   st,
		Clients: clients,
		Config:  cfg,
		srv:     srv,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	router.HandleFunc("/ws", s.handleWebSocket)
	router.HandleFunc("/auth/callback", s.handleAuthCallback).Methods("POST")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/__healthcheck", s.handleHealthcheck).Methods("GET")

	return s
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// RunPingLoop pushes timing probes to every session until the context is
// cancelled.
func (s *Server) RunPingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.Config.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Clients.Ping()
		}
	}
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
