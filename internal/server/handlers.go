package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dtravers/tokenward/internal/credentials"
	"github.com/dtravers/tokenward/internal/metrics"
	"github.com/dtravers/tokenward/internal/response"
	"github.com/dtravers/tokenward/internal/scheduler"
	"github.com/dtravers/tokenward/internal/util"
)

const maxRequestBody = 1 << 20 // 1MB

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRegisterUser issues a fresh opaque user id.
func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	userID, err := s.registry.Register(r.Context())
	if err != nil {
		util.Error("Failed to register user", "error", err)
		response.WriteInternalError(w, "Failed to register user")
		return
	}
	response.JSON(w, http.StatusCreated, map[string]string{"user_id": userID})
}

// handleEraseUser removes the user and everything owned by them:
// credentials, notifications, registration. Nothing survives.
func (s *Server) handleEraseUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if err := s.registry.Erase(r.Context(), userID); err != nil {
		util.Error("Failed to erase user", "user_id", userID, "error", err)
		response.WriteInternalError(w, "Failed to erase user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type putCredentialsRequest struct {
	Provider      string `json:"provider"`
	AccessSecret  string `json:"access_secret"`
	RefreshSecret string `json:"refresh_secret"`
	TokenKind     string `json:"token_kind"`
	ExpiresIn     int64  `json:"expires_in"` // seconds
	Scope         string `json:"scope"`
}

// handlePutCredentials stores the token material the extension obtained
// through its authorization flow. This is the explicit hand-off point:
// secrets arrive once, are encrypted, and are never returned.
func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req putCredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.WriteValidationError(w, "Invalid request body")
		return
	}
	if req.Provider == "" || req.AccessSecret == "" || req.RefreshSecret == "" {
		response.WriteValidationError(w, "provider, access_secret and refresh_secret are required")
		return
	}
	if _, ok := s.cfg.Providers[req.Provider]; !ok {
		response.WriteValidationError(w, "Unknown provider: "+req.Provider)
		return
	}
	if req.ExpiresIn <= 0 {
		response.WriteValidationError(w, "expires_in must be a positive number of seconds")
		return
	}

	expiresAt := time.Now().UTC().Add(time.Duration(req.ExpiresIn) * time.Second)
	err := s.store.Put(r.Context(), userID, req.Provider,
		[]byte(req.AccessSecret), []byte(req.RefreshSecret),
		req.TokenKind, expiresAt, req.Scope)
	if err != nil {
		util.Error("Failed to store credential", "user_id", userID, "provider", req.Provider, "error", err)
		response.WriteInternalError(w, "Failed to store credential")
		return
	}

	util.Info("Credential stored", "user_id", userID, "provider", req.Provider)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteCredential deactivates one provider's credential without
// touching the rest of the user's state.
func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	provider := chi.URLParam(r, "provider")

	if err := s.store.Deactivate(r.Context(), userID, provider); err != nil {
		util.Error("Failed to deactivate credential", "user_id", userID, "provider", provider, "error", err)
		response.WriteInternalError(w, "Failed to remove credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type providerStatus struct {
	Provider         string             `json:"provider"`
	Status           string             `json:"status"`
	State            string             `json:"state,omitempty"`
	ExpiresInSeconds int64              `json:"expires_in_seconds"`
	LastRefreshedAt  *time.Time         `json:"last_refreshed_at,omitempty"`
	RefreshCounts    scheduler.Counters `json:"refresh_counts"`
}

type statusResponse struct {
	UserID    string           `json:"user_id"`
	Providers []providerStatus `json:"providers"`
}

// handleStatus reports each provider's connection status. Secrets never
// appear here, only lifecycle facts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	metas, err := s.store.ListForUser(r.Context(), userID)
	if err != nil {
		util.Error("Failed to list credentials", "user_id", userID, "error", err)
		response.WriteInternalError(w, "Failed to load status")
		return
	}

	out := statusResponse{UserID: userID, Providers: make([]providerStatus, 0, len(metas))}
	now := time.Now().UTC()
	for _, m := range metas {
		state, counters := s.scheduler.StateFor(m.UserID, m.Provider)
		ps := providerStatus{
			Provider:         m.Provider,
			Status:           presentStatus(m, state, now),
			State:            string(state),
			ExpiresInSeconds: int64(m.ExpiresAt.Sub(now) / time.Second),
			RefreshCounts:    counters,
		}
		if m.LastRefreshedAt.Valid {
			t := m.LastRefreshedAt.Time
			ps.LastRefreshedAt = &t
		}
		out.Providers = append(out.Providers, ps)
	}

	response.JSON(w, http.StatusOK, out)
}

// presentStatus folds the internal refresh state into the three-value
// answer the extension popup shows. A credential mid-refresh or mid-retry
// is still "refreshing" from the user's point of view; only a terminal
// state or an inactive record reads as signed out.
func presentStatus(m credentials.Metadata, state scheduler.State, now time.Time) string {
	if !m.Active {
		return "not_authenticated"
	}
	switch state {
	case scheduler.StateFresh:
		return "authenticated"
	case scheduler.StateDue, scheduler.StateRefreshing, scheduler.StateRetryBackoff, scheduler.StateFailed:
		return "refreshing"
	case scheduler.StateExpired:
		return "not_authenticated"
	}
	// No scheduler state yet: judge by expiry alone.
	if now.After(m.ExpiresAt) {
		return "not_authenticated"
	}
	return "authenticated"
}

// handleTriggerRefresh forces an immediate refresh for one provider,
// bypassing the expiry threshold. The work runs asynchronously.
func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	provider := chi.URLParam(r, "provider")

	metas, err := s.store.ListForUser(r.Context(), userID)
	if err != nil {
		util.Error("Failed to list credentials", "user_id", userID, "error", err)
		response.WriteInternalError(w, "Failed to trigger refresh")
		return
	}
	found := false
	for _, m := range metas {
		if m.Provider == provider && m.Active {
			found = true
			break
		}
	}
	if !found {
		response.WriteNotFound(w, "No active credential for provider: "+provider)
		return
	}

	s.scheduler.TriggerRefresh(userID, provider)
	response.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleEvents returns recent lifecycle events, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			response.WriteValidationError(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"events": s.events.Recent(limit),
	})
}

// handleFetchNotifications returns the user's pending reminders without
// consuming them. A storage failure is reported as unavailable, never as
// an empty mailbox.
func (s *Server) handleFetchNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	pending, err := s.queue.FetchPending(r.Context(), userID)
	if err != nil {
		util.Error("Failed to fetch notifications", "user_id", userID, "error", err)
		response.WriteUnavailable(w, "Notifications temporarily unavailable")
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"notifications": pending,
	})
}

type enqueueNotificationRequest struct {
	Title   string          `json:"title"`
	Body    string          `json:"body"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// handleEnqueueNotification durably appends a reminder to the user's
// mailbox. The producer gets the id back once the row is committed.
func (s *Server) handleEnqueueNotification(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req enqueueNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		response.WriteValidationError(w, "Invalid request body")
		return
	}
	if req.Title == "" {
		response.WriteValidationError(w, "title is required")
		return
	}

	id, err := s.queue.Enqueue(r.Context(), userID, req.Title, req.Body, req.Kind, req.Payload)
	if err != nil {
		util.Error("Failed to enqueue notification", "user_id", userID, "error", err)
		response.WriteUnavailable(w, "Notifications temporarily unavailable")
		return
	}

	metrics.NotificationsEnqueued.Inc()
	response.JSON(w, http.StatusCreated, map[string]int64{"id": id})
}

type ackNotificationsRequest struct {
	IDs []int64 `json:"ids"`
}

// handleAckNotifications marks delivered reminders. Re-acknowledging an
// already delivered id is a no-op, so clients can retry freely.
func (s *Server) handleAckNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req ackNotificationsRequest
	if err := decodeJSON(r, &req); err != nil {
		response.WriteValidationError(w, "Invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		response.WriteValidationError(w, "ids is required")
		return
	}

	if err := s.queue.Acknowledge(r.Context(), userID, req.IDs); err != nil {
		util.Error("Failed to acknowledge notifications", "user_id", userID, "error", err)
		response.WriteUnavailable(w, "Notifications temporarily unavailable")
		return
	}

	metrics.NotificationsAcknowledged.Add(float64(len(req.IDs)))
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Reject trailing garbage after the object.
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}
