package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"copytrade/internal/bot"
	"copytrade/pkg/middleware"
)

type Handler struct {
	Service *bot.Service
	Log     *zap.Logger
}

func NewHandler(svc *bot.Service, log *zap.Logger) *Handler {
	return &Handler{Service: svc, Log: log}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/bot/settings", h.GetSettings)
	r.Put("/bot/settings", h.UpdateSettings)
	r.Post("/bot/toggle", h.Toggle)
}

type settingsJSON struct {
	IsEnabled          bool     `json:"isEnabled"`
	MaxPositions       int      `json:"maxPositions"`
	DefaultLeverage    int      `json:"defaultLeverage"`
	MaxLeverage        int      `json:"maxLeverage"`
	RiskPerTrade       float64  `json:"riskPerTrade"`
	StopLossPercent    float64  `json:"stopLossPercent"`
	TakeProfitPercent  float64  `json:"takeProfitPercent"`
	AllowedSymbols     []string `json:"allowedSymbols"`
	BlacklistedSymbols []string `json:"blacklistedSymbols"`
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	settings, err := h.Service.Get(r.Context(), userID)
	if err != nil {
		h.Log.Error("failed to load bot settings", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(settings))
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	var body settingsJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	settings := &bot.Settings{
		UserID:             userID,
		IsEnabled:          body.IsEnabled,
		MaxPositions:       body.MaxPositions,
		DefaultLeverage:    body.DefaultLeverage,
		MaxLeverage:        body.MaxLeverage,
		RiskPerTrade:       body.RiskPerTrade,
		StopLossPercent:    body.StopLossPercent,
		TakeProfitPercent:  body.TakeProfitPercent,
		AllowedSymbols:     body.AllowedSymbols,
		BlacklistedSymbols: body.BlacklistedSymbols,
	}
	if err := h.Service.Update(r.Context(), settings); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, toJSON(settings))
}

func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	var body struct {
		IsEnabled bool `json:"isEnabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Service.SetEnabled(r.Context(), userID, body.IsEnabled); err != nil {
		h.Log.Error("failed to toggle bot", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"isEnabled": body.IsEnabled})
}

func toJSON(s *bot.Settings) settingsJSON {
	return settingsJSON{
		IsEnabled:          s.IsEnabled,
		MaxPositions:       s.MaxPositions,
		DefaultLeverage:    s.DefaultLeverage,
		MaxLeverage:        s.MaxLeverage,
		RiskPerTrade:       s.RiskPerTrade,
		StopLossPercent:    s.StopLossPercent,
		TakeProfitPercent:  s.TakeProfitPercent,
		AllowedSymbols:     s.AllowedSymbols,
		BlacklistedSymbols: s.BlacklistedSymbols,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
