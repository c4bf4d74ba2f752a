package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"copytrade/internal/apikeys"
	"copytrade/pkg/middleware"
)

type Handler struct {
	Service  *apikeys.Service
	Log      *zap.Logger
	validate *validator.Validate
}

func NewHandler(svc *apikeys.Service, log *zap.Logger) *Handler {
	return &Handler{Service: svc, Log: log, validate: validator.New()}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/keys", h.Save)
	r.Post("/keys/verify", h.Verify)
	r.Delete("/keys/{exchange}", h.Remove)
}

type saveRequest struct {
	Exchange   string `json:"exchange" validate:"required,oneof=binance bybit"`
	APIKey     string `json:"apiKey" validate:"required"`
	APISecret  string `json:"apiSecret" validate:"required"`
	Passphrase string `json:"passphrase"`
}

// Save сохраняет ключи в зашифрованном виде; ответ их не возвращает.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	var body saveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key, err := h.Service.Save(r.Context(), userID, body.Exchange, body.APIKey, body.APISecret, body.Passphrase)
	if err != nil {
		h.Log.Error("failed to save api key", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange": key.Exchange,
		"isValid":  key.IsValid,
	})
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	valid, err := h.Service.Verify(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isValid": valid})
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)
	exchangeName := chi.URLParam(r, "exchange")

	if err := h.Service.Remove(r.Context(), userID, exchangeName); err != nil {
		h.Log.Error("failed to remove api key", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
