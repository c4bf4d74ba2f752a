package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"copytrade/internal/webhook"
	"copytrade/pkg/middleware"
)

const maxPayloadBytes = 64 * 1024

type Handler struct {
	Service *webhook.Service
	Log     *zap.Logger
}

func NewHandler(svc *webhook.Service, log *zap.Logger) *Handler {
	return &Handler{Service: svc, Log: log}
}

// RegisterPublic монтирует неавторизованные эндпоинты приема сигналов.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/webhook/system/{token}", h.SystemWebhook)
	r.Post("/webhook/{userID}/{token}", h.UserWebhook)
}

// RegisterProtected монтирует JWT-защищенные эндпоинты управления вебхуком.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Get("/webhook/config", h.GetConfig)
	r.Post("/webhook/config/regenerate", h.RegenerateToken)
	r.Patch("/webhook/config/active", h.SetActive)
	r.Get("/webhook/logs", h.Logs)
}

// RegisterAdmin монтирует аудит-эндпоинт по всем пользователям.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/webhook/logs", h.AllLogs)
}

type webhookResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	UsersQueued  *int   `json:"usersQueued,omitempty"`
	ResponseTime string `json:"responseTime"`
}

func (h *Handler) SystemWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	token := chi.URLParam(r, "token")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.writeSignalError(w, start, http.StatusBadRequest, "failed to read body")
		return
	}

	result, err := h.Service.ProcessSystemWebhook(r.Context(), token, raw)
	if err != nil {
		h.handleSignalError(w, start, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Success:      true,
		Message:      "Webhook processed",
		UsersQueued:  &result.UsersQueued,
		ResponseTime: responseTime(start),
	})
}

func (h *Handler) UserWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := chi.URLParam(r, "userID")
	token := chi.URLParam(r, "token")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.writeSignalError(w, start, http.StatusBadRequest, "failed to read body")
		return
	}

	if _, err := h.Service.ProcessUserWebhook(r.Context(), userID, token, raw); err != nil {
		h.handleSignalError(w, start, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Success:      true,
		Message:      "Webhook queued",
		ResponseTime: responseTime(start),
	})
}

func (h *Handler) handleSignalError(w http.ResponseWriter, start time.Time, err error) {
	switch {
	case errors.Is(err, webhook.ErrInvalidToken):
		h.writeSignalError(w, start, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, webhook.ErrWebhookDisabled):
		h.writeSignalError(w, start, http.StatusForbidden, "webhook is disabled")
	default:
		h.Log.Error("webhook processing failed", zap.Error(err))
		h.writeSignalError(w, start, http.StatusBadRequest, err.Error())
	}
}

func (h *Handler) writeSignalError(w http.ResponseWriter, start time.Time, status int, message string) {
	writeJSON(w, status, webhookResponse{
		Success:      false,
		Message:      message,
		ResponseTime: responseTime(start),
	})
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)
	cfg, err := h.Service.GetOrCreateConfig(r.Context(), userID)
	if err != nil {
		h.Log.Error("failed to load webhook config", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":         cfg.Token,
		"isActive":      cfg.IsActive,
		"triggerCount":  cfg.TriggerCount,
		"lastTriggered": cfg.LastTriggered,
		"url":           fmt.Sprintf("/webhook/%s/%s", userID, cfg.Token),
	})
}

func (h *Handler) RegenerateToken(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)
	token, err := h.Service.RegenerateToken(r.Context(), userID)
	if err != nil {
		h.Log.Error("failed to regenerate webhook token", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"url":   fmt.Sprintf("/webhook/%s/%s", userID, token),
	})
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	var body struct {
		IsActive bool `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Service.SetActive(r.Context(), userID, body.IsActive); err != nil {
		h.Log.Error("failed to toggle webhook", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isActive": body.IsActive})
}

func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)
	limit, offset := pagination(r)

	logs, err := h.Service.Logs(r.Context(), userID, limit, offset)
	if err != nil {
		h.Log.Error("failed to list webhook logs", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logsToJSON(logs))
}

func (h *Handler) AllLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	logs, err := h.Service.AllLogs(r.Context(), limit, offset)
	if err != nil {
		h.Log.Error("failed to list all webhook logs", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logsToJSON(logs))
}

type logJSON struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Action      string          `json:"action"`
	Symbol      string          `json:"symbol"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Response    string          `json:"response,omitempty"`
	IsSystem    bool            `json:"isSystem"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func logsToJSON(logs []*webhook.Log) []logJSON {
	out := make([]logJSON, 0, len(logs))
	for _, l := range logs {
		out = append(out, logJSON{
			ID:          l.ID,
			UserID:      l.UserID,
			Action:      l.Action,
			Symbol:      l.Symbol,
			Payload:     json.RawMessage(l.Payload),
			Status:      l.Status,
			Response:    l.Response,
			IsSystem:    l.IsSystem,
			ProcessedAt: l.ProcessedAt,
			CreatedAt:   l.CreatedAt,
		})
	}
	return out
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func responseTime(start time.Time) string {
	return fmt.Sprintf("%dms", time.Since(start).Milliseconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
