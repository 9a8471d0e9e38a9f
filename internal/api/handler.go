package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
	"github.com/nidhogg/majordomo/internal/draft"
	"github.com/nidhogg/majordomo/internal/gateway"
	"github.com/nidhogg/majordomo/internal/store"
)

// Coordinator is the request-handling surface exposed over HTTP.
type Coordinator interface {
	Handle(ctx context.Context, sessionID, userID, request string) (string, error)
	HandleConfirmation(ctx context.Context, sessionID string, positive bool) (string, error)
}

// RunsLister reads the workflow audit trail.
type RunsLister interface {
	RecentRuns(ctx context.Context, sessionID string, limit int) ([]*store.RunRow, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	coord       Coordinator
	registry    *agent.Registry
	drafts      *draft.Manager
	runs        RunsLister // optional
	broadcaster *gateway.Broadcaster
	restGW      *gateway.RESTAdapter
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	coord Coordinator,
	registry *agent.Registry,
	drafts *draft.Manager,
	runs RunsLister,
	broadcaster *gateway.Broadcaster,
	restGW *gateway.RESTAdapter,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		coord:       coord,
		registry:    registry,
		drafts:      drafts,
		runs:        runs,
		broadcaster: broadcaster,
		restGW:      restGW,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/agents", h.listAgents)

		r.Post("/requests", h.handleRequest)
		r.Post("/requests/confirm", h.handleConfirm)

		r.Get("/sessions/{sessionID}/drafts", h.listDrafts)
		r.Delete("/sessions/{sessionID}/drafts", h.cancelDraft)
		r.Get("/sessions/{sessionID}/runs", h.listRuns)

		r.Post("/broadcast", h.sendBroadcast)
		if h.restGW != nil {
			r.Mount("/gateway/rest", h.restGW.Routes())
		}
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "majordomo"})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.ListEnabled())
}

type requestBody struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

type requestResponse struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

// handleRequest runs one natural-language request through the
// coordination loop and returns the composed reply.
func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req requestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	if req.UserID == "" {
		req.UserID = "api"
	}
	if req.SessionID == "" {
		req.SessionID = "api:" + req.UserID
	}

	response, err := h.coord.Handle(r.Context(), req.SessionID, req.UserID, req.Message)
	if err != nil {
		h.logger.Error("request handling failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, requestResponse{SessionID: req.SessionID, Response: response})
}

type confirmBody struct {
	SessionID string `json:"session_id"`
	Decision  string `json:"decision"` // "yes" or "no"
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	if req.Decision != "yes" && req.Decision != "no" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `decision must be "yes" or "no"`})
		return
	}

	response, err := h.coord.HandleConfirmation(r.Context(), req.SessionID, req.Decision == "yes")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, requestResponse{SessionID: req.SessionID, Response: response})
}

func (h *Handler) listDrafts(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	pending, err := h.drafts.Pending(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if pending == nil {
		pending = []*draft.Draft{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) cancelDraft(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	d, err := h.drafts.ResolveNegative(r.Context(), sessionID)
	if err == draft.ErrNoPendingDraft {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pending draft"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "type": d.Type})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history not available"})
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.runs.RecentRuns(r.Context(), sessionID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*store.RunRow{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) sendBroadcast(w http.ResponseWriter, r *http.Request) {
	if h.broadcaster == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "broadcaster not initialized"})
		return
	}
	var msg gateway.BroadcastMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if msg.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type is required"})
		return
	}
	if err := h.broadcaster.Send(r.Context(), &msg); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "broadcast sent"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
