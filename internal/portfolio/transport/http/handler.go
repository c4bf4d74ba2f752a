package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"copytrade/internal/portfolio/repository"
	"copytrade/pkg/middleware"
)

type Handler struct {
	Positions repository.PositionRepository
	Orders    repository.OrderRepository
	Trades    repository.TradeRepository
	Snapshots repository.SnapshotRepository
	Log       *zap.Logger
}

func NewHandler(
	positions repository.PositionRepository,
	orders repository.OrderRepository,
	trades repository.TradeRepository,
	snapshots repository.SnapshotRepository,
	log *zap.Logger,
) *Handler {
	return &Handler{
		Positions: positions,
		Orders:    orders,
		Trades:    trades,
		Snapshots: snapshots,
		Log:       log,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/portfolio", h.GetPortfolio)
	r.Get("/portfolio/positions", h.GetPositions)
	r.Get("/portfolio/orders", h.GetOrders)
	r.Get("/portfolio/trades", h.GetTrades)
}

// GetPortfolio возвращает последний снапшот и открытые позиции.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	snap, err := h.Snapshots.Get(r.Context(), userID)
	if err != nil {
		h.Log.Error("failed to load snapshot", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	positions, err := h.Positions.ListOpen(r.Context(), userID)
	if err != nil {
		h.Log.Error("failed to list positions", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":   snap,
		"positions": positions,
	})
}

func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	positions, err := h.Positions.ListOpen(r.Context(), userID)
	if err != nil {
		h.Log.Error("failed to list positions", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	orders, err := h.Orders.ListByUser(r.Context(), userID, queryLimit(r))
	if err != nil {
		h.Log.Error("failed to list orders", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(middleware.UserIDKey).(string)

	trades, err := h.Trades.ListByUser(r.Context(), userID, queryLimit(r))
	if err != nil {
		h.Log.Error("failed to list trades", zap.String("userId", userID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
