// Package server exposes partitioning and density search over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ChicagoDave/parcelgen/pkg/cache"
	"github.com/ChicagoDave/parcelgen/pkg/config"
	"github.com/ChicagoDave/parcelgen/pkg/geo"
	"github.com/ChicagoDave/parcelgen/pkg/logging"
	"github.com/ChicagoDave/parcelgen/pkg/metrics"
	"github.com/ChicagoDave/parcelgen/pkg/osm"
	"github.com/ChicagoDave/parcelgen/pkg/partition"
	"github.com/ChicagoDave/parcelgen/pkg/pipeline"
	"github.com/ChicagoDave/parcelgen/pkg/scenario"
	"github.com/ChicagoDave/parcelgen/pkg/validation"
)

// Server is the HTTP front end of the generator.
type Server struct {
	cfg         config.Config
	projectPath string
	cache       cache.Cache
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	logger      *zap.Logger
}

// New creates a server. projectPath may be empty; the scenario endpoints
// then answer 404. gatherer backs /metrics.
func New(cfg config.Config, projectPath string, c cache.Cache, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	if gatherer == nil {
		gatherer = prometheus.NewRegistry()
	}
	return &Server{
		cfg:         cfg,
		projectPath: projectPath,
		cache:       c,
		metrics:     m,
		gatherer:    gatherer,
		logger:      logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/scenario", s.handleScenario)
		r.Get("/validation", s.handleValidation)
		r.Post("/partition", s.handlePartition)
		r.Post("/evolve", s.handleEvolve)
	})
	return r
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("project", s.projectPath))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// observe logs every request and records it against its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, ww.Status(), elapsed.Seconds())
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", elapsed),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loadProject(w http.ResponseWriter) (*scenario.Scenario, bool) {
	if s.projectPath == "" {
		writeError(w, http.StatusNotFound, "no project loaded")
		return nil, false
	}
	sc, err := scenario.LoadProject(s.projectPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return sc, true
}

func (s *Server) handleScenario(w http.ResponseWriter, _ *http.Request) {
	sc, ok := s.loadProject(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleValidation(w http.ResponseWriter, _ *http.Request) {
	sc, ok := s.loadProject(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, validation.ValidateScenario(sc))
}

// PartitionRequest is one parcel outline and the budget to spend on it.
type PartitionRequest struct {
	Polygon []geo.Point `json:"polygon" validate:"min=3"`
	Budget  float64     `json:"budget" validate:"gte=0"`
	// SplitRoadTag overrides the configured tag; "-" disables split roads.
	SplitRoadTag string `json:"split_road_tag,omitempty"`
}

// PartitionResponse is the partitioned parcel as a scenario document.
type PartitionResponse struct {
	Scenario *scenario.Scenario `json:"scenario"`
	Stats    partition.Stats    `json:"stats"`
}

func (s *Server) handlePartition(w http.ResponseWriter, r *http.Request) {
	var req PartitionRequest
	if !decode(w, r, &req) {
		return
	}

	m := osm.NewMap()
	ids := osm.NewIDAllocator(1)
	cycle := make([]int64, 0, len(req.Polygon))
	for _, p := range req.Polygon {
		cycle = append(cycle, m.NewNode(ids, p).ID)
	}
	m.NewWay(ids, append(append([]int64(nil), cycle...), cycle[0]), osm.Tags{"highway": "residential"})

	p := pipeline.New(s.cfg, nil, s.metrics, s.logger)
	pc := p.PartitionContext(m, ids)
	switch req.SplitRoadTag {
	case "":
	case "-":
		pc.Config.SplitRoadTag = ""
	default:
		pc.Config.SplitRoadTag = req.SplitRoadTag
	}
	if err := pc.Partition(cycle, req.Budget); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PartitionResponse{
		Scenario: scenario.FromMap("partition", m, [][]int64{cycle}),
		Stats:    pc.Stats,
	})
}

// EvolveRequest is a scenario and the search settings to override.
type EvolveRequest struct {
	Scenario     scenario.Scenario `json:"scenario"`
	Seed         *uint64           `json:"seed,omitempty"`
	Generations  *int              `json:"generations,omitempty" validate:"omitempty,gte=0"`
	MaxBuildings *float64          `json:"max_buildings,omitempty" validate:"omitempty,gt=0"`
	PopRange     *int              `json:"pop_range,omitempty" validate:"omitempty,min=1"`
	TopK         *int              `json:"top_k,omitempty" validate:"omitempty,min=1"`
}

// EvolveResponse carries the search result, the best materialized map and
// one materialized scenario per top elite.
type EvolveResponse struct {
	*pipeline.Result
	Materialized *scenario.Scenario `json:"materialized,omitempty"`
	Layouts      []CellLayout       `json:"layouts"`
}

// CellLayout is a materialized elite with its scenario document.
type CellLayout struct {
	pipeline.Layout
	Scenario *scenario.Scenario `json:"scenario"`
}

func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	var req EvolveRequest
	if !decode(w, r, &req) {
		return
	}

	cfg := s.cfg
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.Generations != nil {
		cfg.MapElites.Generations = *req.Generations
	}
	if req.MaxBuildings != nil {
		cfg.MapElites.MaxBuildings = *req.MaxBuildings
	}
	if req.PopRange != nil {
		cfg.MapElites.PopRange = *req.PopRange
	}
	if req.TopK != nil {
		cfg.MapElites.TopK = *req.TopK
	}
	if limit := cfg.Server.MaxGenerations; limit > 0 && cfg.MapElites.Generations > limit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("generations must not exceed %d", limit))
		return
	}

	report := validation.ValidateScenario(&req.Scenario)
	report.Merge(validation.ValidateStruct(cfg.MapElites))
	if !report.Valid {
		writeJSON(w, http.StatusBadRequest, report)
		return
	}
	if req.Scenario.Name == "" {
		req.Scenario.Name = "request"
	}

	p := pipeline.New(cfg, s.cache, s.metrics, s.logger)
	prep, err := p.Prepare(r.Context(), &req.Scenario)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	res, err := p.Evolve(r.Context(), prep)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := EvolveResponse{Result: res, Layouts: make([]CellLayout, len(res.Layouts))}
	if res.Map != nil {
		resp.Materialized = scenario.FromMap(req.Scenario.Name, res.Map, prep.Cycles)
	}
	for i, l := range res.Layouts {
		resp.Layouts[i] = CellLayout{Layout: l, Scenario: scenario.FromMap(pipeline.LayoutName(req.Scenario.Name, l), l.Map, prep.Cycles)}
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v and validates its tags, answering 400 on
// failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return false
	}
	if report := validation.ValidateStruct(v); !report.Valid {
		writeJSON(w, http.StatusBadRequest, report)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
