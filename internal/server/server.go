package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/nataliia-kulatska/gadget/internal/config"
	apperrors "github.com/nataliia-kulatska/gadget/internal/errors"
	"github.com/nataliia-kulatska/gadget/internal/logging"
	"github.com/nataliia-kulatska/gadget/internal/runner"
)

// Logger defines the logging interface used by the server
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC interface of the calibration
// service. Every job runs in its own goroutine; at most
// cfg.Calibration.MaxJobs run at once.
type Server struct {
	cfg    *config.Config
	logger Logger
	runner *runner.Runner

	jobs   map[string]*jobState
	jobsMu sync.RWMutex // Protects jobs and closed
	closed bool
	slots  chan struct{}
	wg     sync.WaitGroup
}

// NewServer creates a new server instance.
func NewServer(cfg *config.Config, logger Logger, r *runner.Runner) *Server {
	maxJobs := cfg.Calibration.MaxJobs
	if maxJobs <= 0 {
		maxJobs = 1
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		runner: r,
		jobs:   make(map[string]*jobState),
		slots:  make(chan struct{}, maxJobs),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/algorithms", s.handleAlgorithms)
		r.Route("/calibrations", func(r chi.Router) {
			r.Post("/", s.handleStart)
			r.Get("/", s.handleList)
			r.Get("/{id}", s.handleStatus)
			r.Delete("/{id}", s.handleCancel)
		})
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Close cancels every running job and waits for them to return.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

// Shutdown cancels every running job and waits until they have recorded
// their results or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobsMu.Lock()
	s.closed = true
	for _, job := range s.jobs {
		job.cancel()
	}
	s.jobsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleAlgorithms(w http.ResponseWriter, r *http.Request) {
	type algorithm struct {
		Name    string   `json:"name"`
		Options []string `json:"options"`
	}
	var out []algorithm
	for _, name := range config.Algorithms() {
		keys, err := config.OptionKeys(name)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		out = append(out, algorithm{Name: name, Options: keys})
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleStart handles POST /api/v1/calibrations
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, apperrors.Wrap(err, "invalid request body").WithKind(apperrors.KindInvalid))
		return
	}

	view, err := s.Start(req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, view)
}

// handleList handles GET /api/v1/calibrations
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.List())
}

// handleStatus handles GET /api/v1/calibrations/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

// handleCancel handles DELETE /api/v1/calibrations/{id}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// respondError maps the error kind to an HTTP status.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.KindOf(err).HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request error", map[string]interface{}{
			"error": err.Error(),
			"path":  r.URL.Path,
		})
	}
	s.respondJSON(w, status, map[string]interface{}{
		"error": err.Error(),
	})
}
