package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/fgeck/gorsync-homelab/internal/services/catalog"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Queue is the task surface of the daemon.
type Queue interface {
	Submit(kind models.TaskKind, args models.TaskArgs) (models.Task, error)
	Get(id string) (models.Task, error)
	List() []models.Task
	Cancel(id string) (bool, error)
	Clear() int
	Follow(id string) (backlog []string, lines <-chan string, stop func(), err error)
}

// Server serves the control API.
type Server struct {
	socket   string
	queue    Queue
	catalog  catalog.Service
	validate *validator.Validate
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates a control server listening on socket.
func NewServer(logger zerolog.Logger, socket string, queue Queue, cat catalog.Service) *Server {
	return &Server{
		socket:   socket,
		queue:    queue,
		catalog:  cat,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "control").Logger(),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.submit)
		r.Get("/", s.listTasks)
		r.Post("/clear", s.clear)
		r.Get("/{id}", s.getTask)
		r.Delete("/{id}", s.cancel)
		r.Get("/{id}/follow", s.follow)
	})
	r.Route("/generations", func(r chi.Router) {
		r.Get("/", s.listGenerations)
		r.Get("/{name}", s.getGeneration)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Serve listens on the unix socket until ctx is done. A stale socket file
// left by a dead daemon is replaced.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socket), 0o700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := removeStaleSocket(s.socket); err != nil {
		return err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", s.socket)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socket, err)
	}
	defer func() { _ = os.Remove(s.socket) }()
	if err := os.Chmod(s.socket, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info().Str("socket", s.socket).Msg("control server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("control server shutdown incomplete")
	}
	s.logger.Info().Msg("control server stopped")
	return ctx.Err()
}

// String names the server in supervisor logs.
func (s *Server) String() string {
	return "control-server"
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return models.ConfigError("%s exists and is not a socket", path)
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		_ = conn.Close()
		return models.ConfigError("another daemon is listening on %s", path)
	}
	return os.Remove(path)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, models.ConfigError("invalid request body: %v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, models.ConfigError("invalid request: %v", err))
		return
	}

	task, err := s.queue.Submit(req.Kind, req.Args)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	ok, err := s.queue.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, CancelResponse{Cancelled: ok})
}

func (s *Server) clear(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, ClearResponse{Removed: s.queue.Clear()})
}

func (s *Server) listGenerations(w http.ResponseWriter, r *http.Request) {
	gens, err := s.catalog.List(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, gens)
}

func (s *Server) getGeneration(w http.ResponseWriter, r *http.Request) {
	gen, err := s.catalog.Find(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, gen)
}

// follow streams a task's log over a websocket, one text message per line.
// The server closes the connection once the task finishes.
func (s *Server) follow(w http.ResponseWriter, r *http.Request) {
	backlog, lines, stop, err := s.queue.Follow(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	defer stop()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	// Drain client frames so a closing client is noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, line := range backlog {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to write JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindConfig, models.KindEmptySelection:
		status = http.StatusBadRequest
	case models.KindAlreadyRunning, models.KindRetentionSafety:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	s.respondJSON(w, status, ErrorResponse{Kind: kind, Message: err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("request handled")
	})
}
