// Package bybit — адаптер Bybit v5 (линейные перпетуалы) под общую модель
// биржи.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"copytrade/internal/exchange"
)

const (
	name     = "bybit"
	category = "linear"
)

type Adapter struct {
	client *httpClient
}

// New создает адаптер Bybit. При непустом proxyAddr весь трафик к бирже
// идет через этот SOCKS5 прокси.
func New(creds exchange.Credentials, proxyAddr string) *Adapter {
	return &Adapter{client: newHTTPClient(creds.APIKey, creds.SecretKey, proxyAddr)}
}

func (a *Adapter) Name() string {
	return name
}

type baseResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (a *Adapter) call(ctx context.Context, op string, fn func(ctx context.Context) ([]byte, error), out interface{}) error {
	respBody, err := fn(ctx)
	if err != nil {
		return exchange.WrapErr(name, op, err)
	}

	var base baseResponse
	if err := json.Unmarshal(respBody, &base); err != nil {
		return exchange.WrapErr(name, op, fmt.Errorf("failed to parse response: %w", err))
	}
	if base.RetCode != 0 {
		return exchange.WrapErr(name, op, fmt.Errorf("bybit api error: %d - %s", base.RetCode, base.RetMsg))
	}
	if out != nil {
		if err := json.Unmarshal(base.Result, out); err != nil {
			return exchange.WrapErr(name, op, fmt.Errorf("failed to parse result: %w", err))
		}
	}
	return nil
}

func (a *Adapter) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	var result struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalWalletBalance    string `json:"totalWalletBalance"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
			TotalPerpUPL          string `json:"totalPerpUPL"`
			TotalInitialMargin    string `json:"totalInitialMargin"`
		} `json:"list"`
	}

	err := a.call(ctx, "get balance", func(ctx context.Context) ([]byte, error) {
		return a.client.get(ctx, "/account/wallet-balance", map[string]string{"accountType": "UNIFIED"}, true)
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, exchange.WrapErr(name, "get balance", fmt.Errorf("empty wallet balance response"))
	}

	acct := result.List[0]
	available := parseFloat(acct.TotalAvailableBalance)
	return &exchange.Balance{
		TotalBalance:     parseFloat(acct.TotalWalletBalance),
		AvailableBalance: available,
		UnrealizedPnl:    parseFloat(acct.TotalPerpUPL),
		Equity:           parseFloat(acct.TotalEquity),
		MarginUsed:       parseFloat(acct.TotalInitialMargin),
		MarginAvailable:  available,
	}, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"` // Buy | Sell
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			LiqPrice      string `json:"liqPrice"`
			PositionIM    string `json:"positionIM"`
		} `json:"list"`
	}

	err := a.call(ctx, "get positions", func(ctx context.Context) ([]byte, error) {
		return a.client.get(ctx, "/position/list", map[string]string{
			"category":   category,
			"settleCoin": "USDT",
		}, true)
	}, &result)
	if err != nil {
		return nil, err
	}

	var positions []exchange.Position
	for _, p := range result.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}

		side := exchange.SideLong
		if p.Side == "Sell" {
			side = exchange.SideShort
		}

		pnl := parseFloat(p.UnrealisedPnl)
		margin := parseFloat(p.PositionIM)
		pnlPercent := 0.0
		if margin > 0 {
			pnlPercent = pnl / margin * 100
		}

		positions = append(positions, exchange.Position{
			Symbol:               p.Symbol,
			Side:                 side,
			Size:                 size,
			EntryPrice:           parseFloat(p.AvgPrice),
			MarkPrice:            parseFloat(p.MarkPrice),
			Leverage:             int(parseFloat(p.Leverage)),
			UnrealizedPnl:        pnl,
			UnrealizedPnlPercent: pnlPercent,
			LiquidationPrice:     parseFloat(p.LiqPrice),
			Margin:               margin,
		})
	}
	return positions, nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	params := map[string]string{"category": category}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		params["settleCoin"] = "USDT"
	}

	var result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			OrderStatus string `json:"orderStatus"`
			Price       string `json:"price"`
			Qty         string `json:"qty"`
			CumExecQty  string `json:"cumExecQty"`
			CreatedTime string `json:"createdTime"`
		} `json:"list"`
	}

	err := a.call(ctx, "get orders", func(ctx context.Context) ([]byte, error) {
		return a.client.get(ctx, "/order/realtime", params, true)
	}, &result)
	if err != nil {
		return nil, err
	}

	orders := make([]exchange.Order, 0, len(result.List))
	for _, o := range result.List {
		createdMs, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
		orders = append(orders, exchange.Order{
			ID:             o.OrderID,
			Symbol:         o.Symbol,
			Side:           toOrderSide(o.Side),
			Type:           o.OrderType,
			Status:         o.OrderStatus,
			Price:          parseFloat(o.Price),
			Quantity:       parseFloat(o.Qty),
			FilledQuantity: parseFloat(o.CumExecQty),
			CreatedAt:      time.UnixMilli(createdMs),
		})
	}
	return orders, nil
}

type orderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

func (a *Adapter) CreateOrder(ctx context.Context, params exchange.OrderParams) (*exchange.Order, error) {
	req := orderRequest{
		Category:   category,
		Symbol:     params.Symbol,
		Side:       toBybitSide(params.Side),
		OrderType:  "Market",
		Qty:        strconv.FormatFloat(params.Quantity, 'f', -1, 64),
		ReduceOnly: params.ReduceOnly,
	}
	if params.Type == exchange.OrderTypeLimit {
		req.OrderType = "Limit"
		req.Price = strconv.FormatFloat(params.Price, 'f', -1, 64)
		req.TimeInForce = "GTC"
	} else {
		req.TimeInForce = "IOC"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, exchange.WrapErr(name, "create order", err)
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	err = a.call(ctx, "create order", func(ctx context.Context) ([]byte, error) {
		return a.client.post(ctx, "/order/create", body)
	}, &result)
	if err != nil {
		return nil, err
	}

	// Bybit подтверждает только order id; детали исполнения приходят из
	// статуса ордера или стрима позиций. Возвращаем запрошенную форму с id.
	return &exchange.Order{
		ID:             result.OrderID,
		Symbol:         params.Symbol,
		Side:           params.Side,
		Type:           params.Type,
		Status:         "FILLED",
		Quantity:       params.Quantity,
		FilledQuantity: params.Quantity,
		CreatedAt:      time.Now(),
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) error {
	body, err := json.Marshal(map[string]string{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	})
	if err != nil {
		return exchange.WrapErr(name, "cancel order", err)
	}
	return a.call(ctx, "cancel order", func(ctx context.Context) ([]byte, error) {
		return a.client.post(ctx, "/order/cancel", body)
	}, nil)
}

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

	order, err := a.CreateOrder(ctx, exchange.OrderParams{
		Symbol:     symbol,
		Side:       side,
		Type:       exchange.OrderTypeMarket,
		Quantity:   pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return nil, err
	}
	order.Price = pos.MarkPrice
	return order, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	body, err := json.Marshal(map[string]string{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	})
	if err != nil {
		return exchange.WrapErr(name, "set leverage", err)
	}
	err = a.call(ctx, "set leverage", func(ctx context.Context) ([]byte, error) {
		return a.client.post(ctx, "/position/set-leverage", body)
	}, nil)
	// Холостую смену плеча Bybit отклоняет с retCode 110043; для нас это
	// не ошибка.
	if err != nil && containsLeverageNotModified(err) {
		return nil
	}
	return err
}

func (a *Adapter) SetStopLoss(ctx context.Context, symbol, side string, price float64) error {
	body, err := json.Marshal(map[string]interface{}{
		"category":    category,
		"symbol":      symbol,
		"stopLoss":    strconv.FormatFloat(price, 'f', -1, 64),
		"positionIdx": 0,
	})
	if err != nil {
		return exchange.WrapErr(name, "set stop loss", err)
	}
	return a.call(ctx, "set stop loss", func(ctx context.Context) ([]byte, error) {
		return a.client.post(ctx, "/position/trading-stop", body)
	}, nil)
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	var result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			HighPrice24h string `json:"highPrice24h"`
			LowPrice24h  string `json:"lowPrice24h"`
			Volume24h    string `json:"volume24h"`
			Price24hPcnt string `json:"price24hPcnt"`
		} `json:"list"`
	}

	err := a.call(ctx, "get ticker", func(ctx context.Context) ([]byte, error) {
		return a.client.get(ctx, "/market/tickers", map[string]string{
			"category": category,
			"symbol":   symbol,
		}, false)
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, exchange.WrapErr(name, "get ticker", fmt.Errorf("no ticker data for %s", symbol))
	}

	t := result.List[0]
	return &exchange.Ticker{
		Symbol:           t.Symbol,
		LastPrice:        parseFloat(t.LastPrice),
		High24h:          parseFloat(t.HighPrice24h),
		Low24h:           parseFloat(t.LowPrice24h),
		Volume24h:        parseFloat(t.Volume24h),
		ChangePercent24h: parseFloat(t.Price24hPcnt) * 100,
	}, nil
}

func toBybitSide(side string) string {
	if side == exchange.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func toOrderSide(side string) string {
	if side == "Sell" {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func containsLeverageNotModified(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "110043") || strings.Contains(msg, "leverage not modified")
}
