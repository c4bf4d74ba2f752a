package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"copytrade/internal/bot"
	"copytrade/internal/exchange"
	"copytrade/internal/notify"
	"copytrade/internal/portfolio"
	"copytrade/internal/webhook"
)

// Узкие интерфейсы над репозиториями, чтобы в тестах подставлять фейки.

type LogStore interface {
	SetProcessing(ctx context.Context, id string) error
	SetSuccess(ctx context.Context, id, response string) error
	SetFailed(ctx context.Context, id, response string) error
}

type SettingsStore interface {
	GetByUserID(ctx context.Context, userID string) (*bot.Settings, error)
}

// CredentialSource отдает биржу пользователя и расшифрованные ключи.
type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (string, exchange.Credentials, error)
}

type PositionStore interface {
	GetOpen(ctx context.Context, userID, symbol string) (*portfolio.Position, error)
	GetOpenBySide(ctx context.Context, userID, symbol, side string) (*portfolio.Position, error)
	CountOpen(ctx context.Context, userID string) (int, error)
	Upsert(ctx context.Context, pos *portfolio.Position) error
	Close(ctx context.Context, id string, closedAt time.Time) error
	SetStopLoss(ctx context.Context, id string, price float64) error
}

type OrderStore interface {
	Create(ctx context.Context, order *portfolio.Order) error
}

type TradeStore interface {
	Create(ctx context.Context, trade *portfolio.TradeHistory) error
}

type Notifier interface {
	EmitToUser(userID, event string, payload any)
}

// Executor исполняет одно задание сигнала на бирже пользователя.
type Executor struct {
	logs      LogStore
	settings  SettingsStore
	creds     CredentialSource
	positions PositionStore
	orders    OrderStore
	trades    TradeStore
	notifier  Notifier
	factory   exchange.Factory
	log       *zap.Logger
}

func NewExecutor(
	logs LogStore,
	settings SettingsStore,
	creds CredentialSource,
	positions PositionStore,
	orders OrderStore,
	trades TradeStore,
	notifier Notifier,
	factory exchange.Factory,
	log *zap.Logger,
) *Executor {
	return &Executor{
		logs:      logs,
		settings:  settings,
		creds:     creds,
		positions: positions,
		orders:    orders,
		trades:    trades,
		notifier:  notifier,
		factory:   factory,
		log:       log,
	}
}

// Execute переводит лог в PROCESSING и диспетчеризует по action. При ошибке
// лог остается в PROCESSING, классификацию и MarkFailed делает воркер.
func (e *Executor) Execute(ctx context.Context, job *webhook.Job) error {
	if err := e.logs.SetProcessing(ctx, job.LogID); err != nil {
		return fmt.Errorf("failed to mark log processing: %w", err)
	}

	action, side := normalizeAction(job.Payload.Action, job.Payload.Side)

	result, err := e.dispatch(ctx, job, action, side)
	if err != nil {
		return err
	}

	if err := e.logs.SetSuccess(ctx, job.LogID, result); err != nil {
		e.log.Error("failed to mark log success",
			zap.String("logId", job.LogID), zap.Error(err))
	}
	e.notifier.EmitToUser(job.UserID, notify.EventTradeExecuted, map[string]any{
		"action": action,
		"symbol": job.Payload.Symbol,
		"side":   side,
		"result": result,
	})
	return nil
}

// MarkFailed добивает брошенное задание: лог FAILED плюс пуш об ошибке.
func (e *Executor) MarkFailed(ctx context.Context, job *webhook.Job, cause error) {
	if err := e.logs.SetFailed(ctx, job.LogID, cause.Error()); err != nil {
		e.log.Error("failed to mark log failed",
			zap.String("logId", job.LogID), zap.Error(err))
	}
	e.notifier.EmitToUser(job.UserID, notify.EventTradeError, map[string]any{
		"action": job.Payload.Action,
		"symbol": job.Payload.Symbol,
		"error":  cause.Error(),
	})
}

func (e *Executor) dispatch(ctx context.Context, job *webhook.Job, action, side string) (string, error) {
	settings, err := e.settings.GetByUserID(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to load bot settings: %w", err)
	}
	if settings == nil || !settings.IsEnabled {
		return "", fmt.Errorf("bot is disabled for user %s", job.UserID)
	}

	exchangeName, creds, err := e.creds.Credentials(ctx, job.UserID)
	if err != nil {
		return "", err
	}
	adapter, err := e.factory(exchangeName, creds)
	if err != nil {
		return "", err
	}

	switch action {
	case webhook.ActionOpen:
		return e.openPosition(ctx, job, settings, adapter, side)
	case webhook.ActionClose, webhook.ActionSLClose, webhook.ActionTPClose:
		return e.closePosition(ctx, job, adapter, action)
	case webhook.ActionBep:
		return e.moveStopToBreakEven(ctx, job, adapter)
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

func (e *Executor) openPosition(ctx context.Context, job *webhook.Job, settings *bot.Settings, adapter exchange.Adapter, side string) (string, error) {
	symbol := job.Payload.Symbol

	if err := settings.AllowsSymbol(symbol); err != nil {
		return "", err
	}

	existing, err := e.positions.GetOpen(ctx, job.UserID, symbol)
	if err != nil {
		return "", fmt.Errorf("failed to check open positions: %w", err)
	}
	if existing != nil {
		return "", fmt.Errorf("user already has open position for %s", symbol)
	}

	openCount, err := e.positions.CountOpen(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to count open positions: %w", err)
	}
	if openCount >= settings.MaxPositions {
		return "", fmt.Errorf("max positions reached (%d)", settings.MaxPositions)
	}

	leverage := settings.Leverage()
	if err := adapter.SetLeverage(ctx, symbol, leverage); err != nil {
		// Плечо часто остается с прошлых сессий; если биржа реально против,
		// упадет сам ордер.
		e.log.Warn("failed to set leverage",
			zap.String("userId", job.UserID),
			zap.String("symbol", symbol),
			zap.Int("leverage", leverage),
			zap.Error(err))
	}

	balance, err := adapter.GetBalance(ctx)
	if err != nil {
		return "", err
	}
	ticker, err := adapter.GetTicker(ctx, symbol)
	if err != nil {
		return "", err
	}

	quantity, err := OrderQuantity(balance.AvailableBalance, settings.RiskPerTrade, leverage, ticker.LastPrice)
	if err != nil {
		return "", err
	}

	orderSide := exchange.OrderSideBuy
	if side == exchange.SideShort {
		orderSide = exchange.OrderSideSell
	}
	order, err := adapter.CreateOrder(ctx, exchange.OrderParams{
		Symbol:   symbol,
		Side:     orderSide,
		Type:     exchange.OrderTypeMarket,
		Quantity: quantity,
		Leverage: leverage,
	})
	if err != nil {
		return "", err
	}

	entryPrice := order.Price
	if entryPrice == 0 {
		entryPrice = ticker.LastPrice
	}
	now := time.Now()

	if err := e.orders.Create(ctx, &portfolio.Order{
		ID:              uuid.NewString(),
		UserID:          job.UserID,
		Exchange:        adapter.Name(),
		ExchangeOrderID: order.ID,
		Symbol:          symbol,
		Side:            orderSide,
		Type:            exchange.OrderTypeMarket,
		Status:          "FILLED",
		Price:           entryPrice,
		Quantity:        quantity,
		FilledQuantity:  quantity,
		Leverage:        leverage,
		ExecutedAt:      now,
	}); err != nil {
		return "", fmt.Errorf("failed to record order: %w", err)
	}

	stopLoss := job.Payload.StopLoss
	takeProfit := job.Payload.TakeProfit
	dir := direction(side)
	if stopLoss == 0 && settings.StopLossPercent > 0 {
		stopLoss = entryPrice * (1 - dir*settings.StopLossPercent/100)
	}
	if takeProfit == 0 && settings.TakeProfitPercent > 0 {
		takeProfit = entryPrice * (1 + dir*settings.TakeProfitPercent/100)
	}

	if err := e.positions.Upsert(ctx, &portfolio.Position{
		ID:         portfolio.PositionID(job.UserID, symbol, side),
		UserID:     job.UserID,
		Exchange:   adapter.Name(),
		Symbol:     symbol,
		Side:       side,
		Size:       quantity,
		EntryPrice: entryPrice,
		MarkPrice:  entryPrice,
		Leverage:   leverage,
		Margin:     quantity * entryPrice / float64(leverage),
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		IsOpen:     true,
		OpenedAt:   now,
	}); err != nil {
		return "", fmt.Errorf("failed to record position: %w", err)
	}

	e.log.Info("position opened",
		zap.String("userId", job.UserID),
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("quantity", quantity),
		zap.Float64("entryPrice", entryPrice),
		zap.Int("leverage", leverage))

	return fmt.Sprintf("opened %s %s qty=%v entry=%v leverage=%d",
		side, symbol, quantity, entryPrice, leverage), nil
}

func (e *Executor) closePosition(ctx context.Context, job *webhook.Job, adapter exchange.Adapter, closeType string) (string, error) {
	symbol := job.Payload.Symbol

	position, err := e.findPosition(ctx, job.UserID, symbol, job.Payload.Side)
	if err != nil {
		return "", err
	}
	if position == nil {
		// Лишний close после ручного вмешательства — норма, не ошибка.
		return fmt.Sprintf("no open position for %s, nothing to close", symbol), nil
	}

	var exitPrice float64
	order, err := adapter.ClosePosition(ctx, symbol)
	switch {
	case err == nil:
		exitPrice = order.Price
	case isBenignCloseError(err):
		// На бирже уже пусто; закрываем строку по лучшей доступной цене.
	default:
		return "", err
	}

	if exitPrice == 0 {
		if ticker, err := adapter.GetTicker(ctx, symbol); err == nil {
			exitPrice = ticker.LastPrice
		}
	}
	if exitPrice == 0 {
		exitPrice = position.MarkPrice
	}
	if exitPrice == 0 {
		exitPrice = position.EntryPrice
	}

	now := time.Now()
	pnl := (exitPrice - position.EntryPrice) * position.Size * direction(position.Side)
	var pnlPercent float64
	if notional := position.EntryPrice * position.Size; notional > 0 {
		pnlPercent = pnl / notional * float64(position.Leverage) * 100
	}

	if err := e.trades.Create(ctx, &portfolio.TradeHistory{
		ID:              uuid.NewString(),
		UserID:          job.UserID,
		Exchange:        position.Exchange,
		Symbol:          symbol,
		Side:            position.Side,
		EntryPrice:      position.EntryPrice,
		ExitPrice:       exitPrice,
		Quantity:        position.Size,
		Leverage:        position.Leverage,
		Pnl:             pnl,
		PnlPercent:      pnlPercent,
		DurationSeconds: int64(now.Sub(position.OpenedAt).Seconds()),
		OpenedAt:        position.OpenedAt,
		ClosedAt:        now,
	}); err != nil {
		return "", fmt.Errorf("failed to record trade: %w", err)
	}
	if err := e.positions.Close(ctx, position.ID, now); err != nil {
		return "", fmt.Errorf("failed to close position: %w", err)
	}

	e.log.Info("position closed",
		zap.String("userId", job.UserID),
		zap.String("symbol", symbol),
		zap.String("side", position.Side),
		zap.String("closeType", closeType),
		zap.Float64("exitPrice", exitPrice),
		zap.Float64("pnl", pnl))

	return fmt.Sprintf("closed %s %s exit=%v pnl=%.4f (%s)",
		position.Side, symbol, exitPrice, pnl, closeType), nil
}

func (e *Executor) moveStopToBreakEven(ctx context.Context, job *webhook.Job, adapter exchange.Adapter) (string, error) {
	symbol := job.Payload.Symbol

	position, err := e.findPosition(ctx, job.UserID, symbol, job.Payload.Side)
	if err != nil {
		return "", err
	}
	if position == nil {
		return "", fmt.Errorf("no open position for %s", symbol)
	}

	if err := adapter.SetStopLoss(ctx, symbol, position.Side, position.EntryPrice); err != nil {
		return "", err
	}
	if err := e.positions.SetStopLoss(ctx, position.ID, position.EntryPrice); err != nil {
		return "", fmt.Errorf("failed to store stop loss: %w", err)
	}

	return fmt.Sprintf("stop loss moved to break-even at %v for %s",
		position.EntryPrice, symbol), nil
}

func (e *Executor) findPosition(ctx context.Context, userID, symbol, side string) (*portfolio.Position, error) {
	var position *portfolio.Position
	var err error
	if side != "" {
		position, err = e.positions.GetOpenBySide(ctx, userID, symbol, side)
	} else {
		position, err = e.positions.GetOpen(ctx, userID, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	return position, nil
}

// normalizeAction сворачивает устаревшие buy/sell в open с неявной стороной,
// по умолчанию сторона long.
func normalizeAction(action, side string) (string, string) {
	switch action {
	case webhook.ActionBuy:
		return webhook.ActionOpen, exchange.SideLong
	case webhook.ActionSell:
		return webhook.ActionOpen, exchange.SideShort
	}
	if side == "" {
		side = exchange.SideLong
	}
	return action, side
}

func direction(side string) float64 {
	if side == exchange.SideShort {
		return -1
	}
	return 1
}
