// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offlog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kulmistechsolutions/go-offqueue/internal/auth"
)

// ClientAuthenticator extracts both user and device identity from HTTP requests
// Implementations should validate auth (e.g., JWT) and provide both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetDeviceID(r *http.Request) (string, error)
}

// LogStore is the service surface the HTTP layer needs. *Service satisfies it.
type LogStore interface {
	Ingest(ctx context.Context, userID, deviceID string, entries []LogEntry) (int, error)
	Recent(ctx context.Context, userID string, limit int) ([]DeviceLog, error)
}

// HTTPLogHandlers provides the HTTP surface for sync-log ingestion
type HTTPLogHandlers struct {
	store         LogStore
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPLogHandlers creates a new instance of log handlers
func NewHTTPLogHandlers(store LogStore, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPLogHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPLogHandlers{
		store:         store,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Router wires the log endpoints onto a chi router with standard middleware.
func (h *HTTPLogHandlers) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Post("/sync/logs", h.HandleIngest)
	r.Get("/sync/logs", h.HandleRecent)
	return r
}

// HandleIngest accepts a batch of client audit entries. Clients treat this
// endpoint as fire-and-forget, so responses are small and failures cheap.
func (h *HTTPLogHandlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse ingest request")
		return
	}

	ctx := auth.SetAuthContext(r.Context(), userID, deviceID)
	accepted, err := h.store.Ingest(ctx, userID, deviceID, req.Logs)
	if err != nil {
		// Validation problems are the client's fault; anything else is ours.
		if errors.Is(err, ErrInvalidLogs) {
			h.writeError(w, http.StatusUnprocessableEntity, "invalid_logs", err.Error())
			return
		}
		h.logger.Error("Failed to ingest device logs", "error", err,
			"user_id", userID, "device_id", deviceID)
		h.writeError(w, http.StatusInternalServerError, "ingest_failed", "Failed to store logs")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(IngestResponse{Accepted: accepted}); err != nil {
		h.logger.Error("Failed to encode ingest response", "error", err, "device_id", deviceID)
	}
}

// HandleRecent returns the newest stored entries for the authenticated user.
func (h *HTTPLogHandlers) HandleRecent(w http.ResponseWriter, r *http.Request) {
	userID, deviceID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsedLimit
	}

	ctx := auth.SetAuthContext(r.Context(), userID, deviceID)
	logs, err := h.store.Recent(ctx, userID, limit)
	if err != nil {
		h.logger.Error("Failed to list device logs", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "query_failed", "Failed to list logs")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RecentResponse{Logs: logs}); err != nil {
		h.logger.Error("Failed to encode logs response", "error", err, "user_id", userID)
	}
}

func (h *HTTPLogHandlers) authenticate(w http.ResponseWriter, r *http.Request) (userID, deviceID string, ok bool) {
	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return "", "", false
	}
	deviceID, err = h.authenticator.GetDeviceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return "", "", false
	}
	return userID, deviceID, true
}

func (h *HTTPLogHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
