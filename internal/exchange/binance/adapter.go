// Package binance — адаптер Binance USD-M futures под общую модель биржи.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"copytrade/internal/exchange"
)

const name = "binance"

type Adapter struct {
	client *futures.Client
}

func New(creds exchange.Credentials) *Adapter {
	return &Adapter{
		client: binance.NewFuturesClient(creds.APIKey, creds.SecretKey),
	}
}

func (a *Adapter) Name() string {
	return name
}

func (a *Adapter) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	account, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, exchange.WrapErr(name, "get balance", err)
	}

	return &exchange.Balance{
		TotalBalance:     parseFloat(account.TotalWalletBalance),
		AvailableBalance: parseFloat(account.AvailableBalance),
		UnrealizedPnl:    parseFloat(account.TotalUnrealizedProfit),
		Equity:           parseFloat(account.TotalMarginBalance),
		MarginUsed:       parseFloat(account.TotalInitialMargin),
		MarginAvailable:  parseFloat(account.AvailableBalance),
	}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := a.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, exchange.WrapErr(name, "get positions", err)
	}

	var positions []exchange.Position
	for _, p := range risks {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}

		side := exchange.SideLong
		if amt < 0 {
			side = exchange.SideShort
			amt = -amt
		}

		entry := parseFloat(p.EntryPrice)
		mark := parseFloat(p.MarkPrice)
		pnl := parseFloat(p.UnRealizedProfit)
		margin := parseFloat(p.IsolatedMargin)

		pnlPercent := 0.0
		if margin > 0 {
			pnlPercent = pnl / margin * 100
		}

		positions = append(positions, exchange.Position{
			Symbol:               p.Symbol,
			Side:                 side,
			Size:                 amt,
			EntryPrice:           entry,
			MarkPrice:            mark,
			Leverage:             int(parseFloat(p.Leverage)),
			UnrealizedPnl:        pnl,
			UnrealizedPnlPercent: pnlPercent,
			LiquidationPrice:     parseFloat(p.LiquidationPrice),
			Margin:               margin,
		})
	}
	return positions, nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	svc := a.client.NewListOpenOrdersService()
	if symbol != "" {
		svc.Symbol(symbol)
	}
	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, exchange.WrapErr(name, "get orders", err)
	}

	orders := make([]exchange.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, exchange.Order{
			ID:             strconv.FormatInt(o.OrderID, 10),
			Symbol:         o.Symbol,
			Side:           toOrderSide(o.Side),
			Type:           string(o.Type),
			Status:         string(o.Status),
			Price:          parseFloat(o.Price),
			Quantity:       parseFloat(o.OrigQuantity),
			FilledQuantity: parseFloat(o.ExecutedQuantity),
			CreatedAt:      time.UnixMilli(o.Time),
		})
	}
	return orders, nil
}

func (a *Adapter) CreateOrder(ctx context.Context, params exchange.OrderParams) (*exchange.Order, error) {
	svc := a.client.NewCreateOrderService().
		Symbol(params.Symbol).
		Side(toBinanceSide(params.Side)).
		Quantity(formatQty(params.Quantity))

	switch params.Type {
	case exchange.OrderTypeLimit:
		svc.Type(futures.OrderTypeLimit).
			Price(strconv.FormatFloat(params.Price, 'f', -1, 64)).
			TimeInForce(futures.TimeInForceTypeGTC)
	default:
		svc.Type(futures.OrderTypeMarket)
	}
	if params.ReduceOnly {
		svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, exchange.WrapErr(name, "create order", err)
	}

	price := parseFloat(resp.AvgPrice)
	if price == 0 {
		price = parseFloat(resp.Price)
	}

	return &exchange.Order{
		ID:             strconv.FormatInt(resp.OrderID, 10),
		Symbol:         resp.Symbol,
		Side:           toOrderSide(resp.Side),
		Type:           string(resp.Type),
		Status:         string(resp.Status),
		Price:          price,
		Quantity:       parseFloat(resp.OrigQuantity),
		FilledQuantity: parseFloat(resp.ExecutedQuantity),
		CreatedAt:      time.UnixMilli(resp.UpdateTime),
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.WrapErr(name, "cancel order", fmt.Errorf("invalid order id %q", orderID))
	}
	_, err = a.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return exchange.WrapErr(name, "cancel order", err)
}

// ClosePosition отправляет reduce-only маркет-ордер против живой позиции.
// Текст "position not found" позволяет движку считать лишний close no-op'ом.
func (a *Adapter) ClosePosition(ctx context.Context, symbol string) (*exchange.Order, error) {
	positions, err := a.GetPositions(ctx)
	if err != nil {
		return nil, err
	}

	var pos *exchange.Position
	for i := range positions {
		if positions[i].Symbol == symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return nil, exchange.WrapErr(name, "close position", fmt.Errorf("position not found for %s", symbol))
	}

	side := exchange.OrderSideSell
	if pos.Side == exchange.SideShort {
		side = exchange.OrderSideBuy
	}

	return a.CreateOrder(ctx, exchange.OrderParams{
		Symbol:     symbol,
		Side:       side,
		Type:       exchange.OrderTypeMarket,
		Quantity:   pos.Size,
		ReduceOnly: true,
	})
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := a.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return exchange.WrapErr(name, "set leverage", err)
}

// SetStopLoss ставит стоп-маркет ордер closePosition по заданной цене.
func (a *Adapter) SetStopLoss(ctx context.Context, symbol, side string, price float64) error {
	orderSide := futures.SideTypeSell
	if side == exchange.SideShort {
		orderSide = futures.SideTypeBuy
	}

	_, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(strconv.FormatFloat(price, 'f', -1, 64)).
		ClosePosition(true).
		Do(ctx)
	return exchange.WrapErr(name, "set stop loss", err)
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	stats, err := a.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, exchange.WrapErr(name, "get ticker", err)
	}
	if len(stats) == 0 {
		return nil, exchange.WrapErr(name, "get ticker", fmt.Errorf("no ticker data for %s", symbol))
	}

	s := stats[0]
	return &exchange.Ticker{
		Symbol:           s.Symbol,
		LastPrice:        parseFloat(s.LastPrice),
		High24h:          parseFloat(s.HighPrice),
		Low24h:           parseFloat(s.LowPrice),
		Volume24h:        parseFloat(s.Volume),
		ChangePercent24h: parseFloat(s.PriceChangePercent),
	}, nil
}

func toBinanceSide(side string) futures.SideType {
	if side == exchange.OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func toOrderSide(side futures.SideType) string {
	if side == futures.SideTypeSell {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
