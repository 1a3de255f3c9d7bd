package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"jobwatch/internal/jobset"
	"jobwatch/internal/tracker"
)

const (
	gracefulShutdownTimeout = 15 * time.Second
	maxDocumentSize         = 4 << 20
)

type Server struct {
	router     *mux.Router
	httpServer *http.Server
	manager    *Manager
	logger     *zap.Logger
}

// NewServer returns a server for manager listening on addr.
func NewServer(manager *Manager, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	s := &Server{
		router:  router,
		manager: manager,
		logger:  logger.Named("api"),
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	s.router.HandleFunc("/sessions", s.submit).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions", s.list).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}", s.get).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}", s.cancel).Methods(http.MethodDelete)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts the listener and the running
// sessions down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	if err := s.manager.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("sessions stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.manager.Submit(doc)
	switch {
	case errors.Is(err, jobset.ErrInvalid), errors.Is(err, tracker.ErrInvalidGraph):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.logger.Error("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session": id})
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	info, err := s.manager.Get(r.Context(), id)
	switch {
	case errors.Is(err, ErrUnknownSession):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if info.Report != nil {
		writeJSON(w, http.StatusOK, info.Report)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session": id, "state": "cancelling"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
