package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/importer"
	"github.com/turbolytics/pimsync/pkg/inriver"
	"github.com/turbolytics/pimsync/pkg/transform"
)

const missingEntityData = "Missing required entity data"

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSink sets where webhook entities are written.
func WithSink(sink importer.Sink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

func WithObjectType(objectType string) Option {
	return func(s *Server) {
		s.objectType = objectType
	}
}

func WithMapping(mapping transform.Mapping) Option {
	return func(s *Server) {
		s.mapping = mapping.WithDefaults()
	}
}

func WithChannelID(channelID string) Option {
	return func(s *Server) {
		s.channelID = channelID
	}
}

type Server struct {
	logger     *zap.Logger
	sink       importer.Sink
	objectType string
	mapping    transform.Mapping
	channelID  string

	importers map[string]*importer.Importer
	mu        sync.RWMutex
}

type RunInfo struct {
	ID     string              `json:"id"`
	Job    string              `json:"job"`
	Phase  importer.State      `json:"phase"`
	Status *importer.Status    `json:"status,omitempty"`
	Stats  importer.Stats      `json:"stats"`
	Sink   *importer.SinkStats `json:"sink,omitempty"`
}

func New(opts ...Option) *Server {
	s := &Server{
		logger:     zap.NewNop(),
		objectType: transform.DefaultObjectType,
		mapping:    transform.DefaultMapping,
		importers:  make(map[string]*importer.Importer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterImporter(i *importer.Importer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.importers[i.ID] = i
	s.logger.Info("importer registered",
		zap.String("run_id", i.ID),
		zap.String("job", i.Job.Label))
}

func (s *Server) UnregisterImporter(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.importers[id]; exists {
		delete(s.importers, id)
		s.logger.Info("importer unregistered", zap.String("run_id", id))
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Post("/webhooks/inriver/entity", s.handleEntity)

	r.Get("/api/v1/sink", s.getSink)

	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleEntity receives an entity pushed by inriver and writes it straight
// to the sink. It is never retried.
func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	var entity inriver.Entity
	if err := json.NewDecoder(r.Body).Decode(&entity); err != nil {
		s.logger.Warn("Invalid entity data received", zap.Error(err))
		writeText(w, http.StatusBadRequest, missingEntityData)
		return
	}
	if err := transform.ValidateEntity(&entity); err != nil {
		s.logger.Warn("Invalid entity data received", zap.Int64("entity_id", entity.ID))
		writeText(w, http.StatusBadRequest, missingEntityData)
		return
	}

	s.logger.Info("Processing inriver entity",
		zap.Int64("entity_id", entity.ID),
		zap.String("entity_type", entity.EntityTypeID))

	if err := s.writeEntity(r.Context(), &entity); err != nil {
		s.logger.Error("Error processing inriver webhook", zap.Error(err))
		writeText(w, http.StatusInternalServerError, fmt.Sprintf("An unexpected error occurred: %s", err))
		return
	}

	s.logger.Info("Successfully processed entity", zap.Int64("entity_id", entity.ID))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"entityId": entity.ID,
	})
}

func (s *Server) writeEntity(ctx context.Context, entity *inriver.Entity) error {
	if s.sink == nil {
		return errors.New("no sink configured")
	}
	payload := s.mapping.FromEntity(entity, "", s.channelID)
	return s.sink.Write(ctx, s.objectType, []transform.Payload{payload})
}

func (s *Server) info(i *importer.Importer) RunInfo {
	stats := i.Stats()
	return RunInfo{
		ID:     i.ID,
		Job:    i.Job.Label,
		Phase:  stats.Phase,
		Status: i.Status(),
		Stats:  stats,
		Sink:   sinkStats(i.Sink),
	}
}

func sinkStats(sink importer.Sink) *importer.SinkStats {
	reporter, ok := sink.(importer.SinkStatsReporter)
	if !ok {
		return nil
	}
	stats := reporter.Stats()
	return &stats
}

// getSink reports the stats of the webhook sink.
func (s *Server) getSink(w http.ResponseWriter, r *http.Request) {
	stats := sinkStats(s.sink)
	if stats == nil {
		http.Error(w, "sink does not report stats", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	runs := make([]RunInfo, 0, len(s.importers))
	for _, i := range s.importers {
		runs = append(runs, s.info(i))
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(a, b int) bool { return runs[a].ID < runs[b].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	i, exists := s.importers[id]
	s.mu.RUnlock()

	if !exists {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, s.info(i))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
