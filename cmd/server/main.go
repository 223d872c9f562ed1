package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/witrules/collection"
	"github.com/liamcoop/witrules/internal/logger"
	"github.com/liamcoop/witrules/metadata"
	"github.com/liamcoop/witrules/rules"
	"github.com/liamcoop/witrules/workitem"
)

type Server struct {
	db          *sql.DB
	collections *collection.Manager
	router      *chi.Mux
}

func NewServer(databaseURL string, cacheConfig rules.CacheConfig) (*Server, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewServerWithDB(db, cacheConfig)
}

// NewServerWithDB creates a server over db. A nil db serves in-memory
// collections only.
func NewServerWithDB(db *sql.DB, cacheConfig rules.CacheConfig) (*Server, error) {
	manager := collection.NewManager(db, cacheConfig)

	if db != nil {
		logger.Info("loading collections from database")
		if err := manager.LoadAll(); err != nil {
			return nil, fmt.Errorf("failed to load collections: %w", err)
		}
	}

	s := &Server{
		db:          db,
		collections: manager,
	}
	s.setupRoutes()

	return s, nil
}

// LoadFixtures loads a YAML fixture file, or every .yaml and .yml file of a directory
func (s *Server) LoadFixtures(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files = nil
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(path, pattern))
			if err != nil {
				return fmt.Errorf("failed to list fixtures: %w", err)
			}
			files = append(files, matches...)
		}
		slices.Sort(files)
	}

	for _, file := range files {
		if _, err := s.collections.LoadFixtureFile(file); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Collection management
	r.Route("/api/v1/collections", func(r chi.Router) {
		r.Get("/", s.handleListCollections)
		r.Post("/", s.handleCreateCollection)

		r.Route("/{collectionId}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteCollection)

			// Rule management
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)

			// Evaluation
			r.Post("/workitems/open", s.handleOpenWorkItem)
			r.Post("/workitems/field-changed", s.handleFieldChanged)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:            "healthy",
		CollectionsLoaded: len(s.collections.List()),
		Counters:          logger.Snapshot(),
	}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// List collections handler
func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	list := s.collections.List()
	resp := CollectionsListResponse{Collections: make([]CollectionResponse, 0, len(list))}
	for _, c := range list {
		resp.Collections = append(resp.Collections, CollectionResponse{ID: c.ID, Name: c.Name, Fields: len(c.Fields)})
	}
	respondJSON(w, http.StatusOK, resp)
}

// Create collection handler
func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	c, err := s.collections.Create(req.Name)
	if errors.Is(err, collection.ErrDuplicateName) {
		respondError(w, http.StatusConflict, "collection already exists", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create collection", err)
		return
	}

	respondJSON(w, http.StatusCreated, CollectionResponse{ID: c.ID, Name: c.Name})
}

// Delete collection handler
func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.collections.Delete(chi.URLParam(r, "collectionId")); err != nil {
		if errors.Is(err, collection.ErrCollectionNotFound) {
			respondError(w, http.StatusNotFound, "collection not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete collection", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// collection resolves the collectionId URL parameter, answering 404 itself
func (s *Server) collection(w http.ResponseWriter, r *http.Request) (*collection.Collection, bool) {
	c, err := s.collections.Get(chi.URLParam(r, "collectionId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "collection not found", err)
		return nil, false
	}
	return c, true
}

func ruleIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "ruleId"))
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "ruleId must be a positive integer", err)
		return 0, false
	}
	return id, true
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	row, err := req.toRow()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid flags", err)
		return
	}
	row.Deleted = false

	if err := c.AddRule(row); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, newRuleResponse(row))
}

// List rules handler. The optional filter parameter is a CEL expression over rule.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}

	var filter *rules.RuleFilter
	if expr := r.URL.Query().Get("filter"); expr != "" {
		f, err := rules.CompileRuleFilter(expr)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid filter", err)
			return
		}
		filter = f
	}

	rows, err := c.Rules(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	resp := RulesListResponse{Rules: make([]RuleResponse, 0, len(rows))}
	if filter != nil {
		resp.Filter = filter.String()
	}
	for _, row := range rows {
		resp.Rules = append(resp.Rules, newRuleResponse(row))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	row, err := c.Store.Get(id)
	if err != nil {
		respondRuleStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, newRuleResponse(row))
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	row, err := req.toRow()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid flags", err)
		return
	}
	row.RuleID = id

	if err := c.UpdateRule(row); err != nil {
		respondRuleStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, newRuleResponse(row))
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	id, ok := ruleIDParam(w, r)
	if !ok {
		return
	}

	if err := c.DeleteRule(id); err != nil {
		respondRuleStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Open work item handler
func (s *Server) handleOpenWorkItem(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	wi, ok := s.openWorkItem(w, r, req)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, newWorkItemResponse(wi, nil))
}

// Field changed handler: opens the work item, then applies each edit in order
func (s *Server) handleFieldChanged(w http.ResponseWriter, r *http.Request) {
	var req FieldChangedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Changes) == 0 {
		respondError(w, http.StatusBadRequest, "changes are required", nil)
		return
	}

	wi, ok := s.openWorkItem(w, r, req.OpenRequest)
	if !ok {
		return
	}

	affected := make(map[int]struct{})
	wi.OnFieldChange(func(f *workitem.Field) { affected[f.ID()] = struct{}{} })

	for _, change := range req.Changes {
		if _, err := wi.FieldByID(change.FieldID); err != nil {
			respondError(w, http.StatusBadRequest, "unknown field", err)
			return
		}
		if err := wi.SetFieldValue(change.FieldID, change.Value); err != nil {
			respondEvaluationError(w, err)
			return
		}
	}

	ids := make([]int, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	respondJSON(w, http.StatusOK, newWorkItemResponse(wi, ids))
}

func (s *Server) openWorkItem(w http.ResponseWriter, r *http.Request, req OpenRequest) (*workitem.WorkItem, bool) {
	c, ok := s.collection(w, r)
	if !ok {
		return nil, false
	}

	start := time.Now()
	wi, err := c.NewWorkItem(req.ID, req.AreaID, req.Fields, req.Values, req.User)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid work item", err)
		return nil, false
	}
	if err := wi.Open(); err != nil {
		respondEvaluationError(w, err)
		return nil, false
	}

	logger.Debug("work item opened",
		"collectionId", c.ID, "workItemId", req.ID, "areaId", req.AreaID,
		"elapsed", time.Since(start).String())
	return wi, true
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	logger.CountHTTPStatus(status)

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
		if status >= http.StatusInternalServerError {
			logger.Error(message, "status", status, "error", err)
		}
	}
	respondJSON(w, status, response)
}

func respondRuleStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, "rule not found", err)
	case errors.Is(err, collection.ErrInvalidRule):
		respondError(w, http.StatusBadRequest, "invalid rule", err)
	default:
		respondError(w, http.StatusInternalServerError, "rule store failure", err)
	}
}

// respondEvaluationError answers rule-state failures with 422 and the offending rule
func respondEvaluationError(w http.ResponseWriter, err error) {
	var stateErr *rules.UnhandledRuleStateError
	var constErr *rules.UnhandledSpecialConstantIDError

	switch {
	case errors.As(err, &stateErr):
		logger.CountRuleStateError()
		logger.Warn("unhandled rule state", "ruleId", stateErr.Rule.RuleID, "error", err)
		logger.CountHTTPStatus(http.StatusUnprocessableEntity)
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "unhandled rule state", Details: err.Error(), RuleID: stateErr.Rule.RuleID,
		})
	case errors.As(err, &constErr):
		logger.CountRuleStateError()
		logger.Warn("unhandled special constant", "ruleId", constErr.Rule.RuleID, "position", constErr.Position, "error", err)
		logger.CountHTTPStatus(http.StatusUnprocessableEntity)
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "unhandled special constant", Details: err.Error(), RuleID: constErr.Rule.RuleID,
		})
	case errors.Is(err, rules.ErrFieldNotFound), errors.Is(err, metadata.ErrConstantNotFound):
		respondError(w, http.StatusUnprocessableEntity, "rules reference unknown metadata", err)
	default:
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
	}
}

func cacheConfigFromEnv() rules.CacheConfig {
	cfg := rules.DefaultCacheConfig()
	if v := os.Getenv("RULE_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			logger.Warn("ignoring invalid RULE_CACHE_TTL", "value", v, "error", err)
			return cfg
		}
		cfg.TTL = ttl
	}
	return cfg
}

func main() {
	ctx := context.Background()
	if err := logger.Setup(ctx, logger.ConfigFromEnv()); err != nil {
		logger.Warn("logging setup degraded", "error", err)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	fixturePath := os.Getenv("FIXTURE_PATH")
	if databaseURL == "" && fixturePath == "" {
		logger.Fatal("DATABASE_URL or FIXTURE_PATH environment variable is required")
	}

	var server *Server
	var err error
	if databaseURL != "" {
		server, err = NewServer(databaseURL, cacheConfigFromEnv())
	} else {
		server, err = NewServerWithDB(nil, cacheConfigFromEnv())
	}
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	if fixturePath != "" {
		if err := server.LoadFixtures(fixturePath); err != nil {
			logger.Fatal("failed to load fixtures", "error", err)
		}
	}
	logger.Info("collections ready", "count", len(server.collections.List()))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		logger.Error("log exporter shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
