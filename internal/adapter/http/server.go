package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
	"github.com/couchcryptid/climate-health-engine/internal/prediction"
	"github.com/couchcryptid/climate-health-engine/internal/registry"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// Predictor scores one region and date.
type Predictor interface {
	Predict(ctx context.Context, req prediction.Request) (domain.PredictionResult, error)
}

// ModelSource yields the serving artifact snapshot.
type ModelSource interface {
	Snapshot() *registry.Snapshot
}

// API holds the collaborators behind the prediction endpoints.
type API struct {
	Predictor Predictor
	Models    ModelSource
	State     domain.StateStore
	Clock     clockwork.Clock
}

// Server exposes the prediction API alongside health, readiness, and metrics.
type Server struct {
	httpServer *http.Server
	api        API
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the prediction, capacity, feedback,
// notes, and model routes plus /healthz, /readyz, and /metrics.
func NewServer(addr string, api API, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		api:    api,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /predict", s.handlePredict)
	mux.HandleFunc("GET /model", s.handleModel)
	mux.HandleFunc("GET /regions", s.handleRegions)
	mux.HandleFunc("GET /capacity", s.handleGetCapacity)
	mux.HandleFunc("PUT /capacity", s.handleSetCapacity)
	mux.HandleFunc("POST /capacity", s.handleSetCapacity)
	mux.HandleFunc("GET /feedback", s.handleListFeedback)
	mux.HandleFunc("POST /feedback", s.handleAddFeedback)
	mux.HandleFunc("GET /notes", s.handleListNotes)
	mux.HandleFunc("POST /notes", s.handleAddNote)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type predictRequest struct {
	Region   string           `json:"region"`
	Date     string           `json:"date,omitempty"`
	Readings *domain.Readings `json:"readings,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var body predictRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := prediction.Request{Region: body.Region, Readings: body.Readings}
	if body.Date != "" {
		d, err := time.Parse(time.DateOnly, body.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("date must be YYYY-MM-DD: %w", err))
			return
		}
		req.Date = &d
	}

	result, err := s.api.Predictor.Predict(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, prediction.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrNoData):
		writeError(w, http.StatusNotFound, err)
	default:
		s.logger.Error("prediction failed", "region", body.Region, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("prediction failed"))
	}
}

type modelResponse struct {
	RunID         string                           `json:"run_id,omitempty"`
	LoadedAt      time.Time                        `json:"loaded_at"`
	TrainedAt     *time.Time                       `json:"trained_at,omitempty"`
	SchemaVersion string                           `json:"schema_version,omitempty"`
	Targets       []domain.Target                  `json:"targets"`
	Scores        map[domain.Target]registry.Score `json:"scores,omitempty"`
	Skipped       map[domain.Target]string         `json:"skipped,omitempty"`
}

func (s *Server) handleModel(w http.ResponseWriter, _ *http.Request) {
	snap := s.api.Models.Snapshot()
	md := snap.Metadata()
	resp := modelResponse{
		RunID:         snap.Version(),
		LoadedAt:      snap.LoadedAt(),
		SchemaVersion: snap.Schema().Version,
		Targets:       snap.AvailableTargets(),
		Scores:        md.Scores,
		Skipped:       md.Skipped,
	}
	if resp.Targets == nil {
		resp.Targets = []domain.Target{}
	}
	if !md.TrainedAt.IsZero() {
		resp.TrainedAt = &md.TrainedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegions(w http.ResponseWriter, _ *http.Request) {
	regions := slices.Clone(s.api.Models.Snapshot().Schema().Regions)
	if regions == nil {
		regions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"regions": regions})
}

func (s *Server) handleGetCapacity(w http.ResponseWriter, r *http.Request) {
	c, err := domain.LoadCapacity(r.Context(), s.api.State)
	if err != nil {
		s.logger.Error("load capacity failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("load capacity failed"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleSetCapacity(w http.ResponseWriter, r *http.Request) {
	var c domain.CapacitySettings
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if c.Beds < 0 || c.Staff < 0 || c.ICU < 0 || c.Ventilators < 0 || c.Ambulances < 0 {
		writeError(w, http.StatusBadRequest, errors.New("capacity values must not be negative"))
		return
	}
	if err := domain.SaveCapacity(r.Context(), s.api.State, c); err != nil {
		s.logger.Error("save capacity failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("save capacity failed"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	items, err := domain.ListFeedback(r.Context(), s.api.State)
	if err != nil {
		s.logger.Error("list feedback failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("list feedback failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Feedback{"feedback": items})
}

func (s *Server) handleAddFeedback(w http.ResponseWriter, r *http.Request) {
	var f domain.Feedback
	if err := decodeJSON(w, r, &f); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f.Region = strings.TrimSpace(f.Region)
	f.IncidentType = strings.TrimSpace(f.IncidentType)
	switch {
	case f.Region == "":
		writeError(w, http.StatusBadRequest, errors.New("city is required"))
		return
	case f.IncidentType == "":
		writeError(w, http.StatusBadRequest, errors.New("incident_type is required"))
		return
	case f.Severity < 1 || f.Severity > 5:
		writeError(w, http.StatusBadRequest, errors.New("severity must be between 1 and 5"))
		return
	}
	f.Timestamp = s.api.Clock.Now().UTC()

	stored, err := domain.AppendFeedback(r.Context(), s.api.State, f)
	if err != nil {
		s.logger.Error("store feedback failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("store feedback failed"))
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := domain.ListNotes(r.Context(), s.api.State, r.URL.Query().Get("city"))
	if err != nil {
		s.logger.Error("list notes failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("list notes failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Note{"notes": notes})
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var n domain.Note
	if err := decodeJSON(w, r, &n); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n.Region = strings.TrimSpace(n.Region)
	n.Text = strings.TrimSpace(n.Text)
	n.Author = strings.TrimSpace(n.Author)
	switch {
	case n.Region == "":
		writeError(w, http.StatusBadRequest, errors.New("city is required"))
		return
	case n.Text == "":
		writeError(w, http.StatusBadRequest, errors.New("note is required"))
		return
	}
	n.Timestamp = s.api.Clock.Now().UTC()

	stored, err := domain.AppendNote(r.Context(), s.api.State, n)
	if err != nil {
		s.logger.Error("store note failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("store note failed"))
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
