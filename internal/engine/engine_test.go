package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"copytrade/internal/bot"
	"copytrade/internal/exchange"
	"copytrade/internal/notify"
	"copytrade/internal/portfolio"
	"copytrade/internal/webhook"
)

type fakeLogs struct {
	processing []string
	success    map[string]string
	failed     map[string]string
}

func newFakeLogs() *fakeLogs {
	return &fakeLogs{success: map[string]string{}, failed: map[string]string{}}
}

func (f *fakeLogs) SetProcessing(_ context.Context, id string) error {
	f.processing = append(f.processing, id)
	return nil
}
func (f *fakeLogs) SetSuccess(_ context.Context, id, response string) error {
	f.success[id] = response
	return nil
}
func (f *fakeLogs) SetFailed(_ context.Context, id, response string) error {
	f.failed[id] = response
	return nil
}

type fakeSettings struct {
	settings *bot.Settings
}

func (f *fakeSettings) GetByUserID(context.Context, string) (*bot.Settings, error) {
	return f.settings, nil
}

type fakeCreds struct {
	err error
}

func (f *fakeCreds) Credentials(context.Context, string) (string, exchange.Credentials, error) {
	if f.err != nil {
		return "", exchange.Credentials{}, f.err
	}
	return "binance", exchange.Credentials{APIKey: "k", SecretKey: "s"}, nil
}

type fakePositions struct {
	open     []*portfolio.Position
	upserts  []*portfolio.Position
	closed   []string
	stopLoss map[string]float64
}

func newFakePositions(open ...*portfolio.Position) *fakePositions {
	return &fakePositions{open: open, stopLoss: map[string]float64{}}
}

func (f *fakePositions) GetOpen(_ context.Context, userID, symbol string) (*portfolio.Position, error) {
	for _, p := range f.open {
		if p.UserID == userID && p.Symbol == symbol && p.IsOpen {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePositions) GetOpenBySide(_ context.Context, userID, symbol, side string) (*portfolio.Position, error) {
	for _, p := range f.open {
		if p.UserID == userID && p.Symbol == symbol && p.Side == side && p.IsOpen {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePositions) CountOpen(_ context.Context, userID string) (int, error) {
	count := 0
	for _, p := range f.open {
		if p.UserID == userID && p.IsOpen {
			count++
		}
	}
	return count, nil
}

// Upsert повторяет контракт SQL движка: строка с тем же id полностью
// перезаписывается, включая opened_at и стопы.
func (f *fakePositions) Upsert(_ context.Context, pos *portfolio.Position) error {
	f.upserts = append(f.upserts, pos)
	for i, p := range f.open {
		if p.ID == pos.ID {
			f.open[i] = pos
			return nil
		}
	}
	f.open = append(f.open, pos)
	return nil
}

func (f *fakePositions) Close(_ context.Context, id string, _ time.Time) error {
	f.closed = append(f.closed, id)
	for _, p := range f.open {
		if p.ID == id {
			p.IsOpen = false
		}
	}
	return nil
}

func (f *fakePositions) SetStopLoss(_ context.Context, id string, price float64) error {
	f.stopLoss[id] = price
	return nil
}

type fakeOrders struct {
	created []*portfolio.Order
}

func (f *fakeOrders) Create(_ context.Context, order *portfolio.Order) error {
	f.created = append(f.created, order)
	return nil
}

type fakeTrades struct {
	created []*portfolio.TradeHistory
}

func (f *fakeTrades) Create(_ context.Context, trade *portfolio.TradeHistory) error {
	f.created = append(f.created, trade)
	return nil
}

type event struct {
	userID, name string
	payload      any
}

type fakeNotifier struct {
	events []event
}

func (f *fakeNotifier) EmitToUser(userID, name string, payload any) {
	f.events = append(f.events, event{userID, name, payload})
}

type fakeAdapter struct {
	balance       exchange.Balance
	tickerPrice   float64
	tickerErr     error
	fillPrice     float64
	createErr     error
	closeFill     float64
	closeErr      error
	leverageSet   []int
	stopLossPrice float64
	stopLossErr   error
}

func (f *fakeAdapter) Name() string { return "binance" }
func (f *fakeAdapter) GetBalance(context.Context) (*exchange.Balance, error) {
	return &f.balance, nil
}
func (f *fakeAdapter) GetPositions(context.Context) ([]exchange.Position, error) {
	return nil, nil
}
func (f *fakeAdapter) GetOpenOrders(context.Context, string) ([]exchange.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) CreateOrder(_ context.Context, params exchange.OrderParams) (*exchange.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &exchange.Order{
		ID:       "ex-1",
		Symbol:   params.Symbol,
		Side:     params.Side,
		Type:     params.Type,
		Status:   "FILLED",
		Price:    f.fillPrice,
		Quantity: params.Quantity,
	}, nil
}
func (f *fakeAdapter) CancelOrder(context.Context, string, string) error { return nil }
func (f *fakeAdapter) ClosePosition(_ context.Context, symbol string) (*exchange.Order, error) {
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return &exchange.Order{ID: "ex-close", Symbol: symbol, Price: f.closeFill}, nil
}
func (f *fakeAdapter) SetLeverage(_ context.Context, _ string, leverage int) error {
	f.leverageSet = append(f.leverageSet, leverage)
	return nil
}
func (f *fakeAdapter) SetStopLoss(_ context.Context, _, _ string, price float64) error {
	if f.stopLossErr != nil {
		return f.stopLossErr
	}
	f.stopLossPrice = price
	return nil
}
func (f *fakeAdapter) GetTicker(_ context.Context, symbol string) (*exchange.Ticker, error) {
	if f.tickerErr != nil {
		return nil, f.tickerErr
	}
	return &exchange.Ticker{Symbol: symbol, LastPrice: f.tickerPrice}, nil
}

type testRig struct {
	executor  *Executor
	logs      *fakeLogs
	positions *fakePositions
	orders    *fakeOrders
	trades    *fakeTrades
	notifier  *fakeNotifier
	adapter   *fakeAdapter
}

func defaultSettings() *bot.Settings {
	return &bot.Settings{
		UserID:          "u1",
		IsEnabled:       true,
		MaxPositions:    5,
		DefaultLeverage: 3,
		MaxLeverage:     10,
		RiskPerTrade:    10,
	}
}

func newRig(settings *bot.Settings, adapter *fakeAdapter, positions *fakePositions) *testRig {
	rig := &testRig{
		logs:      newFakeLogs(),
		positions: positions,
		orders:    &fakeOrders{},
		trades:    &fakeTrades{},
		notifier:  &fakeNotifier{},
		adapter:   adapter,
	}
	factory := func(string, exchange.Credentials) (exchange.Adapter, error) {
		return adapter, nil
	}
	rig.executor = NewExecutor(
		rig.logs, &fakeSettings{settings: settings}, &fakeCreds{},
		rig.positions, rig.orders, rig.trades,
		rig.notifier, factory, zap.NewNop())
	return rig
}

func openJob(action string) *webhook.Job {
	return &webhook.Job{
		LogID:  "log-1",
		UserID: "u1",
		Payload: webhook.Payload{
			Action: action,
			Symbol: "BTCUSDT",
			Side:   "long",
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestExecuteOpenPosition(t *testing.T) {
	adapter := &fakeAdapter{
		balance:     exchange.Balance{AvailableBalance: 1000},
		tickerPrice: 50000,
		fillPrice:   50010,
	}
	rig := newRig(defaultSettings(), adapter, newFakePositions())

	err := rig.executor.Execute(context.Background(), openJob("open"))
	require.NoError(t, err)

	require.Len(t, rig.orders.created, 1)
	order := rig.orders.created[0]
	assert.InDelta(t, 0.006, order.Quantity, 1e-9)
	assert.Equal(t, 3, order.Leverage)
	assert.Equal(t, "buy", order.Side)
	assert.Equal(t, "FILLED", order.Status)
	assert.Equal(t, 50010.0, order.Price) // fill важнее тикера

	require.Len(t, rig.positions.upserts, 1)
	pos := rig.positions.upserts[0]
	assert.Equal(t, "u1-BTCUSDT-long", pos.ID)
	assert.Equal(t, 50010.0, pos.EntryPrice)
	assert.True(t, pos.IsOpen)

	assert.Equal(t, []int{3}, adapter.leverageSet)
	assert.Contains(t, rig.logs.success, "log-1")

	require.Len(t, rig.notifier.events, 1)
	assert.Equal(t, notify.EventTradeExecuted, rig.notifier.events[0].name)
}

func TestExecuteOpenIgnoresSignalLeverage(t *testing.T) {
	adapter := &fakeAdapter{
		balance:     exchange.Balance{AvailableBalance: 1000},
		tickerPrice: 50000,
	}
	rig := newRig(defaultSettings(), adapter, newFakePositions())

	job := openJob("open")
	job.Payload.Leverage = 50

	require.NoError(t, rig.executor.Execute(context.Background(), job))
	assert.Equal(t, []int{3}, adapter.leverageSet)
	assert.Equal(t, 3, rig.orders.created[0].Leverage)
}

func TestExecuteOpenRejectsWhenBotDisabled(t *testing.T) {
	settings := defaultSettings()
	settings.IsEnabled = false
	rig := newRig(settings, &fakeAdapter{}, newFakePositions())

	err := rig.executor.Execute(context.Background(), openJob("open"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
	assert.True(t, IsNonRetryable(err))
	assert.Empty(t, rig.orders.created)
}

func TestExecuteOpenRejectsBlacklistedSymbol(t *testing.T) {
	settings := defaultSettings()
	settings.BlacklistedSymbols = []string{"BTCUSDT"}
	rig := newRig(settings, &fakeAdapter{}, newFakePositions())

	err := rig.executor.Execute(context.Background(), openJob("open"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blacklisted")
	assert.True(t, IsNonRetryable(err))
}

func TestExecuteOpenRejectsDuplicatePosition(t *testing.T) {
	existing := &portfolio.Position{
		ID: "u1-BTCUSDT-long", UserID: "u1", Symbol: "BTCUSDT", Side: "long", IsOpen: true,
	}
	rig := newRig(defaultSettings(), &fakeAdapter{}, newFakePositions(existing))

	err := rig.executor.Execute(context.Background(), openJob("open"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has open")
	assert.True(t, IsNonRetryable(err))
	assert.Empty(t, rig.orders.created)
}

func TestExecuteOpenRejectsAtMaxPositions(t *testing.T) {
	settings := defaultSettings()
	settings.MaxPositions = 1
	other := &portfolio.Position{
		ID: "u1-ETHUSDT-long", UserID: "u1", Symbol: "ETHUSDT", Side: "long", IsOpen: true,
	}
	rig := newRig(settings, &fakeAdapter{}, newFakePositions(other))

	err := rig.executor.Execute(context.Background(), openJob("open"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max positions")
	assert.True(t, IsNonRetryable(err))
}

func TestExecuteBuyAliasOpensLong(t *testing.T) {
	adapter := &fakeAdapter{
		balance:     exchange.Balance{AvailableBalance: 1000},
		tickerPrice: 50000,
	}
	rig := newRig(defaultSettings(), adapter, newFakePositions())

	job := openJob("buy")
	job.Payload.Side = ""

	require.NoError(t, rig.executor.Execute(context.Background(), job))
	require.Len(t, rig.positions.upserts, 1)
	assert.Equal(t, "long", rig.positions.upserts[0].Side)
}

func TestExecuteSellAliasOpensShort(t *testing.T) {
	adapter := &fakeAdapter{
		balance:     exchange.Balance{AvailableBalance: 1000},
		tickerPrice: 50000,
	}
	rig := newRig(defaultSettings(), adapter, newFakePositions())

	job := openJob("sell")
	job.Payload.Side = ""

	require.NoError(t, rig.executor.Execute(context.Background(), job))
	require.Len(t, rig.positions.upserts, 1)
	assert.Equal(t, "short", rig.positions.upserts[0].Side)
	assert.Equal(t, "sell", rig.orders.created[0].Side)
}

func TestExecuteReopenRefreshesStalePosition(t *testing.T) {
	// Строка с тем же (user, symbol, side) уже закрывалась раньше: повторное
	// открытие должно дать свежие opened_at и стопы, а не реликты старой сделки.
	stale := &portfolio.Position{
		ID:         "u1-BTCUSDT-long",
		UserID:     "u1",
		Symbol:     "BTCUSDT",
		Side:       "long",
		EntryPrice: 40000,
		StopLoss:   38000,
		TakeProfit: 44000,
		IsOpen:     false,
		OpenedAt:   time.Now().Add(-48 * time.Hour),
	}
	settings := defaultSettings()
	settings.StopLossPercent = 5
	settings.TakeProfitPercent = 10
	adapter := &fakeAdapter{
		balance:     exchange.Balance{AvailableBalance: 1000},
		tickerPrice: 50000,
	}
	rig := newRig(settings, adapter, newFakePositions(stale))

	before := time.Now()
	require.NoError(t, rig.executor.Execute(context.Background(), openJob("open")))

	require.Len(t, rig.positions.upserts, 1)
	pos := rig.positions.upserts[0]
	assert.Equal(t, "u1-BTCUSDT-long", pos.ID)
	assert.True(t, pos.IsOpen)
	assert.False(t, pos.OpenedAt.Before(before), "opened_at must be reset on reopen")
	assert.InDelta(t, 50000*0.95, pos.StopLoss, 1e-6)
	assert.InDelta(t, 50000*1.10, pos.TakeProfit, 1e-6)
}

func TestExecuteCloseWithoutPositionIsNoOp(t *testing.T) {
	rig := newRig(defaultSettings(), &fakeAdapter{}, newFakePositions())

	err := rig.executor.Execute(context.Background(), openJob("close"))
	require.NoError(t, err)

	assert.Contains(t, rig.logs.success["log-1"], "nothing to close")
	assert.Empty(t, rig.trades.created)
	assert.Empty(t, rig.positions.closed)
}

func openPosition(side string, entry, size float64) *portfolio.Position {
	return &portfolio.Position{
		ID:         portfolio.PositionID("u1", "BTCUSDT", side),
		UserID:     "u1",
		Exchange:   "binance",
		Symbol:     "BTCUSDT",
		Side:       side,
		Size:       size,
		EntryPrice: entry,
		MarkPrice:  entry,
		Leverage:   3,
		IsOpen:     true,
		OpenedAt:   time.Now().Add(-time.Hour),
	}
}

func TestExecuteCloseLongComputesPnl(t *testing.T) {
	adapter := &fakeAdapter{closeFill: 51000, tickerPrice: 50990}
	rig := newRig(defaultSettings(), adapter, newFakePositions(openPosition("long", 50000, 0.01)))

	require.NoError(t, rig.executor.Execute(context.Background(), openJob("close")))

	require.Len(t, rig.trades.created, 1)
	trade := rig.trades.created[0]
	assert.Equal(t, 51000.0, trade.ExitPrice) // fill важнее тикера
	assert.InDelta(t, 10.0, trade.Pnl, 1e-9)  // (51000-50000)*0.01
	assert.Equal(t, []string{"u1-BTCUSDT-long"}, rig.positions.closed)
}

func TestExecuteCloseShortPnlSign(t *testing.T) {
	adapter := &fakeAdapter{closeFill: 90}
	rig := newRig(defaultSettings(), adapter, newFakePositions(openPosition("short", 100, 2)))

	job := openJob("close")
	job.Payload.Side = "short"
	require.NoError(t, rig.executor.Execute(context.Background(), job))

	require.Len(t, rig.trades.created, 1)
	assert.InDelta(t, 20.0, rig.trades.created[0].Pnl, 1e-9) // (90-100)*2*-1
}

func TestExecuteCloseFallsBackToTickerPrice(t *testing.T) {
	adapter := &fakeAdapter{closeFill: 0, tickerPrice: 50500}
	rig := newRig(defaultSettings(), adapter, newFakePositions(openPosition("long", 50000, 0.01)))

	require.NoError(t, rig.executor.Execute(context.Background(), openJob("close")))
	require.Len(t, rig.trades.created, 1)
	assert.Equal(t, 50500.0, rig.trades.created[0].ExitPrice)
}

func TestExecuteCloseSettlesWhenExchangeAlreadyFlat(t *testing.T) {
	adapter := &fakeAdapter{
		closeErr:  errors.New("position not found for BTCUSDT"),
		tickerErr: errors.New("ticker unavailable"),
	}
	rig := newRig(defaultSettings(), adapter, newFakePositions(openPosition("long", 50000, 0.01)))

	require.NoError(t, rig.executor.Execute(context.Background(), openJob("close")))

	// Цена выхода: сначала fill, затем тикер, затем mark price.
	require.Len(t, rig.trades.created, 1)
	assert.Equal(t, 50000.0, rig.trades.created[0].ExitPrice)
	assert.Len(t, rig.positions.closed, 1)
}

func TestExecuteBepMovesStopToEntry(t *testing.T) {
	adapter := &fakeAdapter{}
	rig := newRig(defaultSettings(), adapter, newFakePositions(openPosition("long", 50000, 0.01)))

	require.NoError(t, rig.executor.Execute(context.Background(), openJob("bep")))

	assert.Equal(t, 50000.0, adapter.stopLossPrice)
	assert.Equal(t, 50000.0, rig.positions.stopLoss["u1-BTCUSDT-long"])
}

func TestExecuteBepWithoutPositionFailsHard(t *testing.T) {
	rig := newRig(defaultSettings(), &fakeAdapter{}, newFakePositions())

	err := rig.executor.Execute(context.Background(), openJob("bep"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open position")
	assert.True(t, IsNonRetryable(err))
}

func TestMarkFailedNotifiesUser(t *testing.T) {
	rig := newRig(defaultSettings(), &fakeAdapter{}, newFakePositions())

	job := openJob("open")
	rig.executor.MarkFailed(context.Background(), job, errors.New("balance too low"))

	assert.Equal(t, "balance too low", rig.logs.failed["log-1"])
	require.Len(t, rig.notifier.events, 1)
	assert.Equal(t, notify.EventTradeError, rig.notifier.events[0].name)
}
