package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nimbusworks/envlift/internal/audit"
	"github.com/nimbusworks/envlift/internal/auth"
	"github.com/nimbusworks/envlift/internal/environment"
	"github.com/nimbusworks/envlift/internal/models"
	"github.com/nimbusworks/envlift/internal/promotion"
	"github.com/nimbusworks/envlift/internal/repo"
	"github.com/nimbusworks/envlift/internal/testdata"
)

// EntityAdmin is the slice of a repository the admin routes need.
type EntityAdmin interface {
	ApproveForPromotion(ctx context.Context, id uuid.UUID) (bool, error)
	MarkAsTestData(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	IsTestData(ctx context.Context, id uuid.UUID) (bool, error)
	CountByEnvironment(ctx context.Context, env environment.Environment) (int64, error)
}

// ScanFunc runs one test-data sweep for an entity type in one environment.
type ScanFunc func(ctx context.Context, env environment.Environment, batchSize int) (testdata.Report, error)

type entityHooks struct {
	admin func(environment.Environment) EntityAdmin
	scan  ScanFunc
}

type Server struct {
	verifier   *auth.Verifier
	orch       *promotion.Orchestrator
	recorder   *audit.Recorder
	ping       func(context.Context) error
	defaultEnv environment.Environment
	entities   map[string]entityHooks
}

func New(verifier *auth.Verifier, orch *promotion.Orchestrator, recorder *audit.Recorder, ping func(context.Context) error, defaultEnv environment.Environment) *Server {
	if !defaultEnv.Valid() {
		defaultEnv = environment.Dev
	}
	return &Server{
		verifier:   verifier,
		orch:       orch,
		recorder:   recorder,
		ping:       ping,
		defaultEnv: defaultEnv,
		entities:   make(map[string]entityHooks),
	}
}

// RegisterEntity wires the per-type admin routes (approve, mark-test, scan,
// count) for one promotable entity type.
func (s *Server) RegisterEntity(entityType string, admin func(environment.Environment) EntityAdmin, scan ScanFunc) {
	s.entities[entityType] = entityHooks{admin: admin, scan: scan}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/lifecycle", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/promotions", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Post("/preview", s.handlePreview)
				r.Get("/", s.handleListPromotions)
				r.Get("/{id}", s.handleGetPromotion)
			})
			// Execute and rollback move payloads between stores and can
			// legitimately run for minutes on large batches.
			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(10 * time.Minute))
				r.Post("/execute", s.handleExecute)
				r.Post("/{id}/rollback", s.handleRollback)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(2 * time.Minute))
			r.Post("/test-data/scan", s.handleScan)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/items/{type}/{id}/approve", s.handleApprove)
			r.Post("/items/{type}/{id}/mark-test", s.handleMarkTest)
			r.Get("/environments/{env}/count", s.handleCount)
		})
	})

	return r
}

type ctxKey int

const subjectKey ctxKey = 0

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := s.verifier.Verify(r)
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
	})
}

func subjectFrom(ctx context.Context) string {
	if sub, ok := ctx.Value(subjectKey).(string); ok {
		return sub
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if s.ping != nil {
		if err := s.ping(ctx); err != nil {
			status["ok"] = false
			status["db"] = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	respondJSON(w, http.StatusOK, status)
}

type previewRequest struct {
	Type              string   `json:"type"`
	SourceEnvironment string   `json:"sourceEnvironment"`
	TargetEnvironment string   `json:"targetEnvironment"`
	ItemIDs           []string `json:"itemIds"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := parseUUIDs(req.ItemIDs)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pv, err := s.orch.Preview(r.Context(), promotion.Request{
		EntityType: req.Type,
		Source:     environment.Environment(req.SourceEnvironment),
		Target:     environment.Environment(req.TargetEnvironment),
		ItemIDs:    ids,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pv)
}

type executeRequest struct {
	Type              string   `json:"type"`
	SourceEnvironment string   `json:"sourceEnvironment"`
	TargetEnvironment string   `json:"targetEnvironment"`
	ItemIDs           []string `json:"itemIds"`
	PromotedByUserID  string   `json:"promotedByUserId"`
	Reason            string   `json:"reason"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := uuid.Parse(req.PromotedByUserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid promotedByUserId")
		return
	}
	ids, err := parseUUIDs(req.ItemIDs)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.orch.Execute(r.Context(), promotion.Request{
		EntityType: req.Type,
		Source:     environment.Environment(req.SourceEnvironment),
		Target:     environment.Environment(req.TargetEnvironment),
		ItemIDs:    ids,
		PromotedBy: userID,
		Reason:     req.Reason,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type rollbackRequest struct {
	RolledBackByUserID string `json:"rolledBackByUserId"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid promotion id")
		return
	}
	var req rollbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := uuid.Parse(req.RolledBackByUserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rolledBackByUserId")
		return
	}
	run, err := s.orch.Rollback(r.Context(), id, userID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetPromotion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid promotion id")
		return
	}
	run, err := s.orch.Get(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListPromotions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := promotion.ListFilter{
		PromotionType:     q.Get("type"),
		SourceEnvironment: environment.Environment(q.Get("sourceEnvironment")),
		TargetEnvironment: environment.Environment(q.Get("targetEnvironment")),
		Status:            models.RunStatus(q.Get("status")),
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, err := s.orch.List(r.Context(), filter, offset, limit)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.EnvironmentPromotion{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"promotions": runs,
		"count":      len(runs),
	})
}

type scanRequest struct {
	Type        string `json:"type"`
	Environment string `json:"environment"`
	BatchSize   int    `json:"batchSize"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	hooks, ok := s.entities[req.Type]
	if !ok || hooks.scan == nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown entity type %q", req.Type))
		return
	}
	env, err := environment.Parse(req.Environment)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := hooks.scan(r.Context(), env, req.BatchSize)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r.Context(), audit.ActionTestDataScanned, req.Type, nil, env, report)
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	hooks, id, env, ok := s.itemTarget(w, r)
	if !ok {
		return
	}
	approved, err := hooks.admin(env).ApproveForPromotion(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !approved {
		respondError(w, http.StatusConflict, "item is missing or is test data")
		return
	}
	s.audit(r.Context(), audit.ActionItemApproved, chi.URLParam(r, "type"), &id, env, nil)
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id})
}

type markTestRequest struct {
	Reason      string `json:"reason"`
	Environment string `json:"environment"`
}

func (s *Server) handleMarkTest(w http.ResponseWriter, r *http.Request) {
	var req markTestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "reason required")
		return
	}
	hooks, id, env, ok := s.itemTargetIn(w, r, req.Environment)
	if !ok {
		return
	}
	marked, err := hooks.admin(env).MarkAsTestData(r.Context(), id, req.Reason)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !marked {
		// The mark only fires on unflagged rows; tell apart a record that is
		// already quarantined from one that does not exist.
		flagged, err := hooks.admin(env).IsTestData(r.Context(), id)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			respondError(w, http.StatusNotFound, "item not found")
		case err != nil:
			respondError(w, http.StatusInternalServerError, err.Error())
		case flagged:
			// Already the requested end state; the original reason stands.
			respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id, "alreadyMarked": true})
		default:
			respondError(w, http.StatusConflict, "item state changed, retry")
		}
		return
	}
	s.audit(r.Context(), audit.ActionItemMarkedTestData, chi.URLParam(r, "type"), &id, env, map[string]string{"reason": req.Reason})
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "id": id})
}

// handleCount serves the privileged cross-environment count. Every hit is
// access-logged with the authenticated subject.
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	env, err := environment.Parse(chi.URLParam(r, "env"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	entityType := r.URL.Query().Get("type")
	hooks, ok := s.entities[entityType]
	if !ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown entity type %q", entityType))
		return
	}
	count, err := hooks.admin(env).CountByEnvironment(r.Context(), env)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r.Context(), audit.ActionCrossEnvAccess, entityType, nil, env, map[string]interface{}{
		"subject": subjectFrom(r.Context()),
		"count":   count,
	})
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"environment": env,
		"type":        entityType,
		"count":       count,
	})
}

// itemTarget resolves the {type}/{id} route pair, defaulting to the process's
// configured environment.
func (s *Server) itemTarget(w http.ResponseWriter, r *http.Request) (entityHooks, uuid.UUID, environment.Environment, bool) {
	return s.itemTargetIn(w, r, r.URL.Query().Get("environment"))
}

func (s *Server) itemTargetIn(w http.ResponseWriter, r *http.Request, rawEnv string) (entityHooks, uuid.UUID, environment.Environment, bool) {
	hooks, ok := s.entities[chi.URLParam(r, "type")]
	if !ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown entity type %q", chi.URLParam(r, "type")))
		return entityHooks{}, uuid.Nil, "", false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid item id")
		return entityHooks{}, uuid.Nil, "", false
	}
	env := s.defaultEnv
	if rawEnv != "" {
		env, err = environment.Parse(rawEnv)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return entityHooks{}, uuid.Nil, "", false
		}
	}
	return hooks, id, env, true
}

func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, promotion.ErrUnknownEntityType),
		errors.Is(err, environment.ErrInvalidEnvironment),
		errors.Is(err, environment.ErrPromotionOrder):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, promotion.ErrNoCandidates):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, promotion.ErrRollbackNotAllowed):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) audit(ctx context.Context, action, targetType string, targetID *uuid.UUID, env environment.Environment, detail interface{}) {
	if s.recorder == nil {
		return
	}
	userID, _ := uuid.Parse(subjectFrom(ctx))
	if err := s.recorder.Record(ctx, userID, action, targetType, targetID, env, detail); err != nil {
		log.Printf("[http] record %s audit: %v", action, err)
	}
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid item id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
