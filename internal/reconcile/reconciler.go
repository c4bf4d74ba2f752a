// Package reconcile периодически сверяет сохраненный портфель с тем, что
// реально отдает биржа. Страховка от пропущенных close-сигналов и позиций,
// закрытых на бирже вручную.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"copytrade/internal/exchange"
	"copytrade/internal/metrics"
	"copytrade/internal/notify"
	"copytrade/internal/portfolio"
	"copytrade/internal/queue"
)

type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (string, exchange.Credentials, error)
}

type PositionStore interface {
	ListOpen(ctx context.Context, userID string) ([]*portfolio.Position, error)
	// SyncLive обновляет рыночные поля строки и не трогает is_open/closed_at.
	SyncLive(ctx context.Context, pos *portfolio.Position) error
	Close(ctx context.Context, id string, closedAt time.Time) error
}

type SnapshotStore interface {
	Upsert(ctx context.Context, snap *portfolio.Snapshot) error
}

type TradeStore interface {
	Create(ctx context.Context, trade *portfolio.TradeHistory) error
}

type Notifier interface {
	EmitToUser(userID, event string, payload any)
}

// Reconciler обходит всех активных пользователей бота с фиксированным
// интервалом.
type Reconciler struct {
	active    queue.ActiveSet
	creds     CredentialSource
	positions PositionStore
	snapshots SnapshotStore
	trades    TradeStore
	notifier  Notifier
	factory   exchange.Factory
	interval  time.Duration
	log       *zap.Logger
}

func New(
	active queue.ActiveSet,
	creds CredentialSource,
	positions PositionStore,
	snapshots SnapshotStore,
	trades TradeStore,
	notifier Notifier,
	factory exchange.Factory,
	interval time.Duration,
	log *zap.Logger,
) *Reconciler {
	return &Reconciler{
		active:    active,
		creds:     creds,
		positions: positions,
		snapshots: snapshots,
		trades:    trades,
		notifier:  notifier,
		factory:   factory,
		interval:  interval,
		log:       log,
	}
}

// Run делает проход сразу, затем по тикеру до отмены ctx.
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("reconciler started", zap.Duration("interval", r.interval))
	r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep сверяет каждого активного пользователя. Ошибка по одному логируется
// и пропускается, проход не прерывает.
func (r *Reconciler) Sweep(ctx context.Context) {
	userIDs, err := r.active.Members(ctx)
	if err != nil {
		r.log.Error("failed to list active users", zap.Error(err))
		metrics.ReconcileSweepsTotal.WithLabelValues("error").Inc()
		return
	}

	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		if err := r.SyncUser(ctx, userID); err != nil {
			r.log.Warn("user reconciliation failed",
				zap.String("userId", userID), zap.Error(err))
			metrics.ReconcileUsersTotal.WithLabelValues("error").Inc()
			continue
		}
		metrics.ReconcileUsersTotal.WithLabelValues("ok").Inc()
	}
	metrics.ReconcileSweepsTotal.WithLabelValues("ok").Inc()
}

// SyncUser обновляет снапшот и позиции пользователя и закрывает строки,
// которых биржа больше не отдает.
func (r *Reconciler) SyncUser(ctx context.Context, userID string) error {
	exchangeName, creds, err := r.creds.Credentials(ctx, userID)
	if err != nil {
		return err
	}
	adapter, err := r.factory(exchangeName, creds)
	if err != nil {
		return err
	}

	balance, err := adapter.GetBalance(ctx)
	if err != nil {
		return err
	}
	live, err := adapter.GetPositions(ctx)
	if err != nil {
		return err
	}

	snap := &portfolio.Snapshot{
		UserID:           userID,
		TotalBalance:     balance.TotalBalance,
		AvailableBalance: balance.AvailableBalance,
		UnrealizedPnl:    balance.UnrealizedPnl,
		Equity:           balance.Equity,
		MarginUsed:       balance.MarginUsed,
		MarginAvailable:  balance.MarginAvailable,
		LastUpdated:      time.Now(),
	}
	if err := r.snapshots.Upsert(ctx, snap); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	stored, err := r.positions.ListOpen(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list stored positions: %w", err)
	}

	liveByID := make(map[string]exchange.Position, len(live))
	for _, p := range live {
		id := portfolio.PositionID(userID, p.Symbol, p.Side)
		liveByID[id] = p

		row := &portfolio.Position{
			ID:                   id,
			UserID:               userID,
			Exchange:             adapter.Name(),
			Symbol:               p.Symbol,
			Side:                 p.Side,
			Size:                 p.Size,
			EntryPrice:           p.EntryPrice,
			MarkPrice:            p.MarkPrice,
			Leverage:             p.Leverage,
			UnrealizedPnl:        p.UnrealizedPnl,
			UnrealizedPnlPercent: p.UnrealizedPnlPercent,
			LiquidationPrice:     p.LiquidationPrice,
			Margin:               p.Margin,
			IsOpen:               true,
			OpenedAt:             time.Now(), // только для insert-ветки, существующие строки не трогает
		}
		if err := r.positions.SyncLive(ctx, row); err != nil {
			return fmt.Errorf("failed to sync position %s: %w", id, err)
		}
	}

	for _, pos := range stored {
		if _, ok := liveByID[pos.ID]; ok {
			continue
		}
		if err := r.closeDisappeared(ctx, pos); err != nil {
			return err
		}
	}

	r.notifier.EmitToUser(userID, notify.EventPortfolioUpdate, map[string]any{
		"balance":   snap,
		"positions": live,
	})
	return nil
}

// closeDisappeared рассчитывает позицию, открытую в БД, но пропавшую с
// биржи: одна строка TradeHistory по последней mark price, затем строка
// закрывается.
func (r *Reconciler) closeDisappeared(ctx context.Context, pos *portfolio.Position) error {
	exitPrice := pos.MarkPrice
	if exitPrice == 0 {
		exitPrice = pos.EntryPrice
	}

	now := time.Now()
	dir := 1.0
	if pos.Side == exchange.SideShort {
		dir = -1
	}
	pnl := (exitPrice - pos.EntryPrice) * pos.Size * dir
	var pnlPercent float64
	if notional := pos.EntryPrice * pos.Size; notional > 0 {
		pnlPercent = pnl / notional * float64(pos.Leverage) * 100
	}

	if err := r.trades.Create(ctx, &portfolio.TradeHistory{
		ID:              uuid.NewString(),
		UserID:          pos.UserID,
		Exchange:        pos.Exchange,
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       exitPrice,
		Quantity:        pos.Size,
		Leverage:        pos.Leverage,
		Pnl:             pnl,
		PnlPercent:      pnlPercent,
		DurationSeconds: int64(now.Sub(pos.OpenedAt).Seconds()),
		OpenedAt:        pos.OpenedAt,
		ClosedAt:        now,
	}); err != nil {
		return fmt.Errorf("failed to record disappeared trade: %w", err)
	}
	if err := r.positions.Close(ctx, pos.ID, now); err != nil {
		return fmt.Errorf("failed to close disappeared position: %w", err)
	}

	metrics.StalePositionsClosed.Inc()
	r.log.Info("closed position no longer reported by exchange",
		zap.String("userId", pos.UserID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", pos.Side),
		zap.Float64("exitPrice", exitPrice),
		zap.Float64("pnl", pnl))
	return nil
}
