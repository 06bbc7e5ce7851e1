package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	"TradeCore/internal/repository"
	"TradeCore/internal/services/analytics"
	"TradeCore/internal/services/execution"
	"TradeCore/internal/services/risk"
	"TradeCore/internal/services/sizing"
	"TradeCore/internal/usecase"
	"TradeCore/pkg/circuit"
	xhttp "TradeCore/pkg/http"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/util"
)

// Agent is the slice of the trading agent the control surface drives.
type Agent interface {
	EvaluateAndMaybeExecute(ctx context.Context, symbol string) (usecase.Decision, error)
	Stats() usecase.ExecutionStats
	ActiveStrategy() string
}

type RiskSettings interface {
	Config() risk.Config
}

type ReportSource interface {
	LastReport() (analytics.Report, bool)
}

type EventHistory interface {
	Recent(n int) []models.Event
}

type BreakerStater interface {
	BreakerState() circuit.State
}

// ControlDeps groups what the handler reads and mutates. Bars, Preview,
// Events and Breaker are optional.
type ControlDeps struct {
	Agent   Agent
	Guard   *execution.Guard
	Risk    RiskSettings
	Sizing  sizing.Config
	Reports ReportSource
	Trades  drepo.TradeStore
	Bars    *usecase.BarsUseCase
	Preview *usecase.SignalsPreviewUseCase
	Events  EventHistory
	Breaker BreakerStater
	Symbols []string
}

// ControlEchoHandler is the operator surface under /api.
type ControlEchoHandler struct {
	d      ControlDeps
	logger *applogger.Logger
	now    func() time.Time
}

func NewControlEchoHandler(logger *applogger.Logger, d ControlDeps) *ControlEchoHandler {
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &ControlEchoHandler{
		d:      d,
		logger: logger.With(applogger.String("component", "control_api")),
		now:    time.Now,
	}
}

func (h *ControlEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/control/status", h.Status)
	g.POST("/control/execution", h.SetExecution)
	g.GET("/control/config", h.GetConfig)
	g.PUT("/control/config", h.UpdateConfig)
	g.GET("/analytics/report", h.Report)
	g.POST("/evaluate/:symbol", h.Evaluate)
	g.POST("/trades/:id/close", h.CloseTrade)
	g.GET("/bars/:symbol", h.Bars)
	g.GET("/signals", h.Signals)
	g.GET("/events", h.Events)
}

type StatusResponse struct {
	ExecutionEnabled bool                             `json:"execution_enabled"`
	OrdersToday      int                              `json:"orders_today"`
	DailyOrderLimit  int                              `json:"daily_order_limit"`
	ActiveStrategy   string                           `json:"active_strategy"`
	Stats            usecase.ExecutionStats           `json:"stats"`
	Symbols          map[string]execution.SymbolState `json:"symbols,omitempty"`
	Breaker          string                           `json:"breaker,omitempty"`
}

func (h *ControlEchoHandler) Status(c echo.Context) error {
	cfg := h.d.Guard.Config()
	res := StatusResponse{
		ExecutionEnabled: cfg.Enabled,
		OrdersToday:      h.d.Guard.OrdersToday(),
		DailyOrderLimit:  cfg.DailyOrderLimit,
		ActiveStrategy:   h.d.Agent.ActiveStrategy(),
		Stats:            h.d.Agent.Stats(),
		Symbols:          h.d.Guard.SymbolStates(),
	}
	if h.d.Breaker != nil {
		res.Breaker = h.d.Breaker.BreakerState().String()
	}
	return xhttp.SuccessResponse(c, res)
}

type ExecutionToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *ControlEchoHandler) SetExecution(c echo.Context) error {
	req := &ExecutionToggleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.d.Guard.SetEnabled(*req.Enabled)
	h.logger.Warn("execution switched via api", applogger.Bool("enabled", *req.Enabled), applogger.String("remote", c.RealIP()))
	return xhttp.SuccessResponse(c, map[string]bool{"execution_enabled": *req.Enabled})
}

type ConfigResponse struct {
	ExecutionEnabled    bool          `json:"execution_enabled"`
	MinConfidence       float64       `json:"min_confidence"`
	DailyOrderLimit     int           `json:"daily_order_limit"`
	CooldownSeconds     float64       `json:"cooldown_seconds"`
	MinConfidenceBuy    float64       `json:"min_confidence_buy"`
	MinConfidenceSell   float64       `json:"min_confidence_sell"`
	MaxDailyLossPercent float64       `json:"max_daily_loss_percent"`
	MaxPositionSize     float64       `json:"max_position_size"`
	MaxSectorExposure   float64       `json:"max_sector_exposure"`
	MaxCorrelation      float64       `json:"max_correlation"`
	Sizing              sizing.Config `json:"sizing"`
}

func (h *ControlEchoHandler) config() ConfigResponse {
	g := h.d.Guard.Config()
	r := h.d.Risk.Config()
	return ConfigResponse{
		ExecutionEnabled:    g.Enabled,
		MinConfidence:       g.MinConfidence,
		DailyOrderLimit:     g.DailyOrderLimit,
		CooldownSeconds:     g.Cooldown.Seconds(),
		MinConfidenceBuy:    r.MinConfidenceBuy,
		MinConfidenceSell:   r.MinConfidenceSell,
		MaxDailyLossPercent: r.MaxDailyLossPercent,
		MaxPositionSize:     r.MaxPositionSize,
		MaxSectorExposure:   r.MaxSectorExposure,
		MaxCorrelation:      r.MaxCorrelation,
		Sizing:              h.d.Sizing,
	}
}

func (h *ControlEchoHandler) GetConfig(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.config())
}

// ConfigUpdateRequest changes guard limits at runtime. Omitted fields keep
// their current value.
type ConfigUpdateRequest struct {
	MinConfidence   *float64 `json:"min_confidence" validate:"omitempty,gte=0,lte=1"`
	DailyOrderLimit *int     `json:"daily_order_limit" validate:"omitempty,gte=1,lte=1000"`
	CooldownSeconds *int     `json:"cooldown_seconds" validate:"omitempty,gte=0,lte=86400"`
}

func (h *ControlEchoHandler) UpdateConfig(c echo.Context) error {
	req := &ConfigUpdateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.MinConfidence == nil && req.DailyOrderLimit == nil && req.CooldownSeconds == nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("no changes requested"))
	}
	u := execution.GuardUpdate{MinConfidence: req.MinConfidence, DailyOrderLimit: req.DailyOrderLimit}
	if req.CooldownSeconds != nil {
		d := time.Duration(*req.CooldownSeconds) * time.Second
		u.Cooldown = &d
	}
	cfg := h.d.Guard.Update(u)
	h.logger.Info("guard config updated",
		applogger.Float64("min_confidence", cfg.MinConfidence),
		applogger.Int("daily_order_limit", cfg.DailyOrderLimit),
		applogger.Duration("cooldown", cfg.Cooldown),
	)
	return xhttp.SuccessResponse(c, h.config())
}

type ReportResponse struct {
	Learning      *analytics.Report          `json:"learning,omitempty"`
	RecentQuality analytics.ExecutionQuality `json:"recent_execution"`
	QualityWindow string                     `json:"recent_window"`
}

const qualityWindow = 24 * time.Hour

func (h *ControlEchoHandler) Report(c echo.Context) error {
	res := ReportResponse{QualityWindow: qualityWindow.String()}
	if h.d.Reports != nil {
		if r, ok := h.d.Reports.LastReport(); ok {
			res.Learning = &r
		}
	}
	trades, err := h.d.Trades.QueryTrades(c.Request().Context(), h.now().Add(-qualityWindow), 1000)
	if err != nil {
		h.logger.Error("trade query failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("trade ledger unavailable").WithError(err))
	}
	res.RecentQuality = analytics.MeasureExecution(trades)
	return xhttp.SuccessResponse(c, res)
}

type SymbolRequest struct {
	Symbol string `param:"symbol" validate:"required,max=16"`
}

// Evaluate runs one decision now. Classified outcomes (hold, rejections,
// blocks, failed orders) are a normal 200 reply carrying the decision.
func (h *ControlEchoHandler) Evaluate(c echo.Context) error {
	req := &SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	d, err := h.d.Agent.EvaluateAndMaybeExecute(c.Request().Context(), req.Symbol)
	if err != nil {
		h.logger.Info("manual evaluation ended without an order",
			applogger.String("symbol", d.Symbol),
			applogger.String("outcome", string(d.Outcome)),
			applogger.Error(err),
		)
	}
	if d.Outcome == usecase.OutcomeInternalError {
		return xhttp.AppErrorResponse(c, xhttp.InternalError("evaluation failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, d)
}

type CloseTradeRequest struct {
	ID          string   `param:"id" validate:"required"`
	RealizedPnL *float64 `json:"realized_pnl" validate:"required"`
}

func (h *ControlEchoHandler) CloseTrade(c echo.Context) error {
	req := &CloseTradeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	err := h.d.Trades.CloseTrade(c.Request().Context(), req.ID, *req.RealizedPnL, h.now())
	switch {
	case errors.Is(err, repository.ErrTradeNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("trade not found"))
	case errors.Is(err, repository.ErrTradeClosed):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("trade already closed"))
	case errors.Is(err, repository.ErrTradeNotFilled):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("trade was not filled"))
	case err != nil:
		h.logger.Error("close trade failed", applogger.String("trade_id", req.ID), applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("trade ledger unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{"trade_id": req.ID, "realized_pnl": *req.RealizedPnL})
}

type BarsRequest struct {
	Symbol string `param:"symbol" validate:"required,max=16"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

func (h *ControlEchoHandler) Bars(c echo.Context) error {
	if h.d.Bars == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("bars unavailable"))
	}
	req := &BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.d.Bars.GetBars(c.Request().Context(), req.Symbol, req.Limit)
	if err != nil {
		h.logger.Warn("bars usecase error", applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("price history unavailable").WithError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

type SignalsRequest struct {
	Symbols string `query:"symbols"`
}

// Signals previews consensus without the guard or the order path. With no
// symbols it previews the configured universe.
func (h *ControlEchoHandler) Signals(c echo.Context) error {
	if h.d.Preview == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("signal preview unavailable"))
	}
	req := &SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbols := h.d.Symbols
	if req.Symbols != "" {
		symbols = splitSymbols(req.Symbols)
	}
	if len(symbols) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbols required"))
	}
	if len(symbols) > 50 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("at most 50 symbols, got %d", len(symbols)))
	}
	res, err := h.d.Preview.Preview(c.Request().Context(), symbols)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	return xhttp.SuccessResponse(c, res)
}

type EventsRequest struct {
	Limit int `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

func (h *ControlEchoHandler) Events(c echo.Context) error {
	if h.d.Events == nil {
		return xhttp.ListResponse(c, []models.Event{}, 0)
	}
	req := &EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	events := h.d.Events.Recent(req.Limit)
	return xhttp.ListResponse(c, events, len(events))
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		s := util.NormalizeSymbol(p)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
