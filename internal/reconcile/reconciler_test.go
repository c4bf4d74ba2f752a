package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"copytrade/internal/exchange"
	"copytrade/internal/notify"
	"copytrade/internal/portfolio"
	"copytrade/internal/queue"
)

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
	open   []*portfolio.Position
	synced []*portfolio.Position
	closed []string
}

func (f *fakePositions) ListOpen(_ context.Context, userID string) ([]*portfolio.Position, error) {
	var out []*portfolio.Position
	for _, p := range f.open {
		if p.UserID == userID && p.IsOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

// SyncLive повторяет контракт SQL: существующая строка получает только
// рыночные поля, is_open и opened_at не меняются.
func (f *fakePositions) SyncLive(_ context.Context, pos *portfolio.Position) error {
	f.synced = append(f.synced, pos)
	for _, p := range f.open {
		if p.ID == pos.ID {
			p.Size = pos.Size
			p.MarkPrice = pos.MarkPrice
			p.Leverage = pos.Leverage
			p.UnrealizedPnl = pos.UnrealizedPnl
			p.UnrealizedPnlPercent = pos.UnrealizedPnlPercent
			p.LiquidationPrice = pos.LiquidationPrice
			p.Margin = pos.Margin
			return nil
		}
	}
	cp := *pos
	f.open = append(f.open, &cp)
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

type fakeSnapshots struct {
	upserts []*portfolio.Snapshot
}

func (f *fakeSnapshots) Upsert(_ context.Context, snap *portfolio.Snapshot) error {
	f.upserts = append(f.upserts, snap)
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
}

type fakeNotifier struct {
	events []event
}

func (f *fakeNotifier) EmitToUser(userID, name string, _ any) {
	f.events = append(f.events, event{userID, name})
}

type fakeAdapter struct {
	balance    exchange.Balance
	positions  []exchange.Position
	balanceErr error
}

func (f *fakeAdapter) Name() string { return "binance" }
func (f *fakeAdapter) GetBalance(context.Context) (*exchange.Balance, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &f.balance, nil
}
func (f *fakeAdapter) GetPositions(context.Context) ([]exchange.Position, error) {
	return f.positions, nil
}
func (f *fakeAdapter) GetOpenOrders(context.Context, string) ([]exchange.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) CreateOrder(context.Context, exchange.OrderParams) (*exchange.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) CancelOrder(context.Context, string, string) error { return nil }
func (f *fakeAdapter) ClosePosition(context.Context, string) (*exchange.Order, error) {
	return nil, nil
}
func (f *fakeAdapter) SetLeverage(context.Context, string, int) error { return nil }
func (f *fakeAdapter) SetStopLoss(context.Context, string, string, float64) error {
	return nil
}
func (f *fakeAdapter) GetTicker(context.Context, string) (*exchange.Ticker, error) {
	return nil, nil
}

type rig struct {
	reconciler *Reconciler
	active     *queue.MemoryQueue
	positions  *fakePositions
	snapshots  *fakeSnapshots
	trades     *fakeTrades
	notifier   *fakeNotifier
}

func newRig(adapter *fakeAdapter, positions *fakePositions, credsErr error) *rig {
	r := &rig{
		active:    queue.NewMemoryQueue(),
		positions: positions,
		snapshots: &fakeSnapshots{},
		trades:    &fakeTrades{},
		notifier:  &fakeNotifier{},
	}
	factory := func(string, exchange.Credentials) (exchange.Adapter, error) {
		return adapter, nil
	}
	r.reconciler = New(
		r.active, &fakeCreds{err: credsErr}, r.positions, r.snapshots, r.trades,
		r.notifier, factory, 30*time.Second, zap.NewNop())
	return r
}

func storedPosition(userID, symbol, side string, entry, mark, size float64) *portfolio.Position {
	return &portfolio.Position{
		ID:         portfolio.PositionID(userID, symbol, side),
		UserID:     userID,
		Exchange:   "binance",
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entry,
		MarkPrice:  mark,
		Leverage:   3,
		IsOpen:     true,
		OpenedAt:   time.Now().Add(-2 * time.Hour),
	}
}

func TestSyncUserUpdatesSnapshotAndPositions(t *testing.T) {
	adapter := &fakeAdapter{
		balance: exchange.Balance{TotalBalance: 1500, AvailableBalance: 1200, UnrealizedPnl: 30},
		positions: []exchange.Position{
			{Symbol: "BTCUSDT", Side: "long", Size: 0.01, EntryPrice: 50000, MarkPrice: 51000, Leverage: 3},
		},
	}
	r := newRig(adapter, &fakePositions{}, nil)

	require.NoError(t, r.reconciler.SyncUser(context.Background(), "u1"))

	require.Len(t, r.snapshots.upserts, 1)
	assert.Equal(t, 1500.0, r.snapshots.upserts[0].TotalBalance)

	require.Len(t, r.positions.synced, 1)
	pos := r.positions.synced[0]
	assert.Equal(t, "u1-BTCUSDT-long", pos.ID)
	assert.Equal(t, 51000.0, pos.MarkPrice)
	assert.True(t, pos.IsOpen)

	require.Len(t, r.notifier.events, 1)
	assert.Equal(t, notify.EventPortfolioUpdate, r.notifier.events[0].name)
	assert.Equal(t, "u1", r.notifier.events[0].userID)
}

func TestSyncUserClosesDisappearedPosition(t *testing.T) {
	stored := storedPosition("u1", "ETHUSDT", "long", 3000, 3100, 0.5)
	adapter := &fakeAdapter{} // биржа не видит открытых позиций
	r := newRig(adapter, &fakePositions{open: []*portfolio.Position{stored}}, nil)

	require.NoError(t, r.reconciler.SyncUser(context.Background(), "u1"))

	// Ровно одна строка TradeHistory, закрытая по последней mark price.
	require.Len(t, r.trades.created, 1)
	trade := r.trades.created[0]
	assert.Equal(t, 3100.0, trade.ExitPrice)
	assert.InDelta(t, 50.0, trade.Pnl, 1e-9) // (3100-3000)*0.5
	assert.Equal(t, []string{"u1-ETHUSDT-long"}, r.positions.closed)

	// Второй обход не находит ничего для закрытия.
	require.NoError(t, r.reconciler.SyncUser(context.Background(), "u1"))
	assert.Len(t, r.trades.created, 1)
}

func TestSyncUserKeepsPositionsStillOnExchange(t *testing.T) {
	stored := storedPosition("u1", "BTCUSDT", "long", 50000, 50500, 0.01)
	adapter := &fakeAdapter{
		positions: []exchange.Position{
			{Symbol: "BTCUSDT", Side: "long", Size: 0.01, EntryPrice: 50000, MarkPrice: 50600},
		},
	}
	r := newRig(adapter, &fakePositions{open: []*portfolio.Position{stored}}, nil)

	require.NoError(t, r.reconciler.SyncUser(context.Background(), "u1"))

	assert.Empty(t, r.trades.created)
	assert.Empty(t, r.positions.closed)
}

func TestSyncUserDoesNotReopenClosedPosition(t *testing.T) {
	// Гонка: позиция уже закрыта в БД, но биржа отдала устаревший снимок,
	// где она ещё числится открытой.
	closed := storedPosition("u1", "BTCUSDT", "long", 50000, 50500, 0.01)
	closed.IsOpen = false
	now := time.Now()
	closed.ClosedAt = &now

	adapter := &fakeAdapter{
		positions: []exchange.Position{
			{Symbol: "BTCUSDT", Side: "long", Size: 0.01, EntryPrice: 50000, MarkPrice: 50600},
		},
	}
	r := newRig(adapter, &fakePositions{open: []*portfolio.Position{closed}}, nil)

	require.NoError(t, r.reconciler.SyncUser(context.Background(), "u1"))
	assert.False(t, closed.IsOpen, "sync must not resurrect a closed row")

	// Следующий тик: биржа больше не отдаёт позицию. Строка закрыта, поэтому
	// второго TradeHistory быть не должно.
	adapter.positions = nil
	require.NoError(t, r.reconciler.SyncUser(context.Background(), "u1"))
	assert.Empty(t, r.trades.created)
	assert.Empty(t, r.positions.closed)
}

func TestSweepSkipsFailingUser(t *testing.T) {
	ctx := context.Background()
	adapter := &fakeAdapter{balanceErr: errors.New("exchange down")}
	r := newRig(adapter, &fakePositions{}, nil)
	require.NoError(t, r.active.Add(ctx, "u1"))
	require.NoError(t, r.active.Add(ctx, "u2"))

	// Без паники и прерывания; оба пользователя обработаны, уведомлений нет.
	r.reconciler.Sweep(ctx)
	assert.Empty(t, r.notifier.events)
}

func TestSweepWithCredentialFailure(t *testing.T) {
	ctx := context.Background()
	r := newRig(&fakeAdapter{}, &fakePositions{}, errors.New("no valid api key for user u1"))
	require.NoError(t, r.active.Add(ctx, "u1"))

	r.reconciler.Sweep(ctx)
	assert.Empty(t, r.snapshots.upserts)
}
