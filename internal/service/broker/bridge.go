package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	xhttp "TradeCore/pkg/http"
	applogger "TradeCore/pkg/logger"
)

type BridgeConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Attempts int
}

// BridgeBroker speaks the sidecar's JSON contract:
//
//	GET  /account
//	POST /orders          (Idempotency-Key header)
//	GET  /bars?symbol=&window=
type BridgeBroker struct {
	base     string
	attempts int
	client   *xhttp.Client
	l        *applogger.Logger
}

var _ drepo.Broker = (*BridgeBroker)(nil)

func NewBridgeBroker(cfg BridgeConfig, l *applogger.Logger) *BridgeBroker {
	if l == nil {
		l = applogger.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &BridgeBroker{
		base:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		attempts: cfg.Attempts,
		client:   xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		l:        l.With(applogger.String("component", "bridge_broker")),
	}
}

type bridgeOrder struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Notional float64 `json:"notional"`
}

type bridgeFill struct {
	Success     bool    `json:"success"`
	OrderID     string  `json:"order_id"`
	FilledPrice float64 `json:"filled_price"`
	Error       string  `json:"error"`
}

func (b *BridgeBroker) GetAccount(ctx context.Context) (models.PortfolioSnapshot, error) {
	var out models.PortfolioSnapshot
	err := b.send(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: b.base + "/account"}, &out)
	if err != nil {
		return models.PortfolioSnapshot{}, fmt.Errorf("get account: %w", err)
	}
	return out, nil
}

// PlaceOrder is safe to retry: the sidecar deduplicates on the key.
func (b *BridgeBroker) PlaceOrder(ctx context.Context, symbol string, side models.Side, notional float64, key string) (models.ExecutionResult, error) {
	var out bridgeFill
	err := b.send(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.base + "/orders",
		Headers: map[string]string{"Idempotency-Key": key},
		Body:    bridgeOrder{Symbol: symbol, Side: string(side), Notional: notional},
	}, &out)
	if err != nil {
		return models.ExecutionResult{}, fmt.Errorf("place order: %w", err)
	}
	return models.ExecutionResult{
		Success:     out.Success,
		OrderID:     out.OrderID,
		FilledPrice: out.FilledPrice,
		Error:       out.Error,
	}, nil
}

func (b *BridgeBroker) GetPriceHistory(ctx context.Context, symbol string, window int) ([]models.PriceBar, error) {
	var out []models.PriceBar
	err := b.send(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    b.base + "/bars",
		QueryParams: map[string][]string{
			"symbol": {symbol},
			"window": {strconv.Itoa(window)},
		},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("get bars %s: %w", symbol, err)
	}
	for i := range out {
		if out[i].Symbol == "" {
			out[i].Symbol = symbol
		}
	}
	return out, nil
}

// send retries transport and 5xx failures with a linear backoff until ctx
// is done. A 4xx reply is returned at once.
func (b *BridgeBroker) send(ctx context.Context, opts *xhttp.RequestOptions, dest interface{}) error {
	var err error
	for i := 1; i <= b.attempts; i++ {
		if err = b.client.SendAndParse(ctx, opts, dest); err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		if i == b.attempts {
			break
		}
		b.l.Debug("bridge request failed, retrying",
			applogger.String("url", opts.URL),
			applogger.Int("attempt", i),
			applogger.Error(err),
		)
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
