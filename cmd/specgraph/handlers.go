package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/WessleyAI/specgraph/engine/graph"
	"github.com/WessleyAI/specgraph/engine/indexer"
	"github.com/WessleyAI/specgraph/pkg/metrics"
	"github.com/WessleyAI/specgraph/pkg/resilience"
)

// defaultRelatedDepth is used when /related is called without depth.
const defaultRelatedDepth = 3

// server serves the query API. Index and clear requests are serialized
// so the store only ever has one writer.
type server struct {
	ix       *indexer.Indexer
	events   *indexer.Events
	metrics  *metrics.Registry
	specPath string
	logger   *slog.Logger
	writeMu  sync.Mutex
}

func newServer(ix *indexer.Indexer, specPath string, logger *slog.Logger) *server {
	return &server{ix: ix, metrics: metrics.New(), specPath: specPath, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/backend", s.handleBackend)
	mux.HandleFunc("GET /api/schemas/{name}/related", s.handleRelatedSchemas)
	mux.HandleFunc("GET /api/endpoints/dependencies", s.handleEndpointDependencies)
	mux.HandleFunc("GET /api/specifications/{file...}", s.handleSpecification)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/traverse", s.handleTraverse)
	mux.HandleFunc("POST /api/index", s.handleIndex)
	mux.HandleFunc("DELETE /api/graph", s.handleClear)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// reindex loads and indexes specPath, publishing events when configured.
func (s *server) reindex(ctx context.Context) (indexer.Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	progress := []indexer.ProgressFunc{func(p indexer.Progress) {
		s.metrics.ItemProcessed(string(p.Phase))
	}}
	if s.events != nil {
		progress = append(progress, s.events.Progress(ctx))
	}
	start := time.Now()
	res, err := s.ix.LoadAndIndex(ctx, s.specPath, indexer.MultiProgress(progress...))
	s.observe(ctx, res, err, time.Since(start))
	if err != nil {
		return res, err
	}
	if s.events != nil {
		s.events.Completed(ctx, res)
	}
	return res, nil
}

// observe records a finished pass and refreshes the graph gauges.
func (s *server) observe(ctx context.Context, res indexer.Result, err error, d time.Duration) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
	case !res.Success:
		outcome = metrics.OutcomePartial
	}
	s.metrics.ObserveRun(outcome, d)
	for _, e := range res.Errors {
		s.metrics.ItemFailed(string(e.Phase))
	}
	s.refreshGraphMetrics(ctx)
}

func (s *server) refreshGraphMetrics(ctx context.Context) {
	st, err := s.ix.Statistics(ctx)
	if err != nil {
		s.logger.Debug("graph statistics unavailable for metrics", "err", err)
		return
	}
	s.metrics.SetGraph(st.NodesByLabel, st.RelationshipsByType)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps query errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, indexer.ErrNotIndexed):
		return http.StatusConflict
	case errors.Is(err, indexer.ErrInvalidParameter),
		errors.Is(err, graph.ErrInvalidLabel),
		errors.Is(err, graph.ErrInvalidRelationshipType),
		errors.Is(err, graph.ErrInvalidPattern):
		return http.StatusBadRequest
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("query failed", "path", r.URL.Path, "err", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "indexed": s.ix.Indexed()})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.ix.Statistics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleBackend(w http.ResponseWriter, _ *http.Request) {
	backend := "memory"
	if s.ix.IsUsingPersistentBackend() {
		backend = "neo4j"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"persistent": s.ix.IsUsingPersistentBackend(),
		"backend":    backend,
	})
}

func (s *server) handleRelatedSchemas(w http.ResponseWriter, r *http.Request) {
	depth := defaultRelatedDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "depth must be an integer")
			return
		}
		depth = d
	}
	related, err := s.ix.FindRelatedSchemas(r.Context(), r.PathValue("name"), r.URL.Query().Get("spec"), depth)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, related)
}

func (s *server) handleEndpointDependencies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deps, err := s.ix.EndpointDependencies(r.Context(), q.Get("path"), q.Get("method"), q.Get("spec"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if deps == nil {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

func (s *server) handleSpecification(w http.ResponseWriter, r *http.Request) {
	g, err := s.ix.SpecificationGraph(r.Context(), r.PathValue("file"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "specification not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// SearchRequest is the JSON body for POST /api/search.
type SearchRequest struct {
	NodeType graph.NodeType `json:"nodeType" validate:"required,nodetype"`
	Pattern  map[string]any `json:"pattern"`
	Limit    int            `json:"limit" validate:"gte=0"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if msg, ok := decodeBody(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := s.ix.SearchByPattern(r.Context(), req.NodeType, req.Pattern, req.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleTraverse(w http.ResponseWriter, r *http.Request) {
	var req indexer.TraverseRequest
	if msg, ok := decodeBody(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	res, err := s.ix.TraverseGraph(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	res, err := s.reindex(r.Context())
	if err != nil {
		s.logger.Warn("indexing request failed", "spec_path", s.specPath, "err", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.clear(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// clear empties the graph. The caller holds writeMu.
func (s *server) clear(ctx context.Context) error {
	if err := s.ix.ClearAll(ctx); err != nil {
		return err
	}
	s.refreshGraphMetrics(ctx)
	if s.events != nil {
		s.events.Cleared(ctx)
	}
	return nil
}

// specsChanged reindexes after the watcher reports paths. Merging cannot
// remove nodes, so when a file disappeared the graph is rebuilt from empty.
func (s *server) specsChanged(ctx context.Context, paths []string) {
	removed := slices.ContainsFunc(paths, func(p string) bool {
		_, err := os.Stat(p)
		return errors.Is(err, fs.ErrNotExist)
	})
	if removed {
		s.writeMu.Lock()
		err := s.clear(ctx)
		s.writeMu.Unlock()
		if err != nil {
			s.logger.Warn("clearing graph after removal failed", "err", err)
			return
		}
	}
	res, err := s.reindex(ctx)
	if err != nil {
		s.logger.Warn("reindex after change failed", "paths", paths, "err", err)
		return
	}
	s.logger.Info("reindexed after change",
		"changed", len(paths), "rebuilt", removed, "run_id", res.RunID, "success", res.Success)
}
