package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"arenachat/internal/api"
	"arenachat/internal/auth"
	"arenachat/internal/config"
	"arenachat/internal/filestore"
	"arenachat/internal/hub"
	"arenachat/internal/metrics"
	"arenachat/internal/storage"
	"arenachat/internal/ws"
)

type APIServer struct {
	server *http.Server
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.Service, h *hub.Hub, files filestore.Store, store *storage.BboltStorage, cfg *config.Config, logger *slog.Logger) *APIServer {
	wsServer := ws.NewServer(authService, h, cfg, logger)
	handlers := api.New(authService, h, files, store, cfg, logger)

	mux := http.NewServeMux()

	// Realtime endpoint
	mux.Handle("/api/chat", wsServer)

	// Provisioning surface
	mux.HandleFunc("GET /api/rooms", handlers.RequireAuth(handlers.ListRoomsHandler))
	mux.HandleFunc("POST /api/rooms", handlers.RequireAuth(handlers.ProvisionRoomHandler))
	mux.HandleFunc("DELETE /api/rooms/{id}", handlers.RequireAuth(handlers.DeleteRoomHandler))

	// Attachments
	mux.HandleFunc("POST /api/upload", handlers.RequireAuth(handlers.UploadHandler))
	mux.HandleFunc("GET /api/files/{id}", handlers.RequireAuth(handlers.GetFileHandler))

	// Web push
	mux.HandleFunc("POST /api/push/subscriptions", handlers.RequireAuth(handlers.SubscribePushHandler))
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", handlers.RequireAuth(handlers.UnsubscribePushHandler))

	mux.HandleFunc("GET /healthz", handlers.HealthzHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	addr := cfg.APIAddr
	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

func (s *APIServer) Start() error {
	s.logger.Info("server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
