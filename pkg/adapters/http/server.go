package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
)

// maxBodySize bounds request bodies (start arguments and event payloads).
const maxBodySize = 1 << 20

// Engine is the process API the server exposes. *tendril.Engine implements it.
type Engine interface {
	Start(ctx context.Context, id, flow string, args map[string]any) (*domain.ProcessState, error)
	Resume(ctx context.Context, id, event string, payload any) (*domain.ProcessState, error)
	Cancel(ctx context.Context, id string, opts tendril.CancelOptions) (*domain.ProcessState, error)
	Inspect(ctx context.Context, id string) (*domain.ProcessState, error)
	List(ctx context.Context) ([]string, error)
	Flows() []string
}

// Server routes HTTP requests to an Engine.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics serves gatherer at GET /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// WithStreams shares a StreamManager whose Listeners are wired to the engine.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine: engine,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/flows", s.ListFlows)
	r.Route("/processes", func(r chi.Router) {
		r.Get("/", s.ListProcesses)
		r.Post("/", s.StartProcess)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetProcess)
			r.Post("/events/{event}", s.DeliverEvent)
			r.Post("/cancel", s.CancelProcess)
			r.Get("/stream", s.StreamProcess)
		})
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartRequest is the body of POST /processes.
type StartRequest struct {
	ID   string         `json:"id"`
	Flow string         `json:"flow"`
	Args map[string]any `json:"args"`
}

// StartProcess handles POST /processes.
func (s *Server) StartProcess(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readJSON(w, r)
	if !ok {
		return
	}
	var req StartRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Flow == "" {
		req.Flow = domain.DefaultFlow
	}

	state, err := s.Engine.Start(r.Context(), req.ID, req.Flow, req.Args)
	if err != nil {
		s.fail(w, r, "Start", err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// GetProcess handles GET /processes/{id}.
func (s *Server) GetProcess(w http.ResponseWriter, r *http.Request) {
	state, err := s.Engine.Inspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "Inspect", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ListProcesses handles GET /processes.
func (s *Server) ListProcesses(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.List(r.Context())
	if err != nil {
		s.fail(w, r, "List", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// DeliverEvent handles POST /processes/{id}/events/{event}. The JSON body,
// if any, is the resume payload.
func (s *Server) DeliverEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readJSON(w, r)
	if !ok {
		return
	}
	var payload any
	if len(body) > 0 {
		payload = gjson.ParseBytes(body).Value()
	}

	state, err := s.Engine.Resume(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "event"), payload)
	if err != nil {
		s.fail(w, r, "Resume", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// CancelProcess handles POST /processes/{id}/cancel[?nonCatchable=true].
func (s *Server) CancelProcess(w http.ResponseWriter, r *http.Request) {
	var opts tendril.CancelOptions
	if v := r.URL.Query().Get("nonCatchable"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "nonCatchable must be a boolean", http.StatusBadRequest)
			return
		}
		opts.NonCatchable = b
	}

	state, err := s.Engine.Cancel(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		s.fail(w, r, "Cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ListFlows handles GET /flows.
func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Flows())
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "tendril-http",
		"version": tendril.Version,
	})
}

// readJSON reads a bounded body and rejects anything that is not JSON.
// An empty body is allowed.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		s.logger.WarnContext(r.Context(), "Rejected request body", "path", r.URL.Path, "size", len(body))
		return nil, false
	}
	return body, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), op+" failed", "err", err, "request_id", middleware.GetReqID(r.Context()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrProcessNotFound), errors.Is(err, domain.ErrUnknownFlow):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownEvent), errors.Is(err, domain.ErrProcessTerminal):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProgramMismatch):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrInvalidSubmission):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
