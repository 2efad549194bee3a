package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	models "GridVol/internal/domain/models"
	"GridVol/internal/usecase"
	xhttp "GridVol/pkg/http"
	"GridVol/pkg/http/middleware"
	xlogger "GridVol/pkg/logger"
	"GridVol/pkg/queue"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// ForecastEchoHandler serves forecasts, backtests and price history.
type ForecastEchoHandler struct {
	logger  *xlogger.Logger
	fleet   *usecase.ZoneFleet
	prices  *usecase.PricesUseCase
	jobs    queue.Enqueuer
	limiter middleware.KeyedLimiter
	checks  map[string]HealthCheck
	now     func() time.Time
}

func NewForecastEchoHandler(logger *xlogger.Logger, fleet *usecase.ZoneFleet, prices *usecase.PricesUseCase) *ForecastEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &ForecastEchoHandler{
		logger: logger,
		fleet:  fleet,
		prices: prices,
		checks: make(map[string]HealthCheck),
		now:    time.Now,
	}
}

// SetJobs enables the asynchronous backtest endpoints.
func (h *ForecastEchoHandler) SetJobs(q queue.Enqueuer) { h.jobs = q }

func (h *ForecastEchoHandler) SetLimiter(l middleware.KeyedLimiter) { h.limiter = l }

func (h *ForecastEchoHandler) AddHealthCheck(name string, check HealthCheck) { h.checks[name] = check }

func (h *ForecastEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api/v1")
	if h.limiter != nil {
		g.Use(middleware.RateLimit(h.limiter))
	}
	g.GET("/zones", h.Zones)
	g.GET("/forecast/latest", h.LatestForecast)
	g.POST("/forecast/run", h.RunForecast)
	g.POST("/forecast/run_all", h.RunAll)
	g.GET("/backtest", h.Backtest)
	g.POST("/backtest/jobs", h.EnqueueBacktest)
	g.GET("/backtest/jobs/:id", h.JobStatus)
	g.GET("/prices", h.Prices)
	g.POST("/prices", h.StorePrices)
}

func (h *ForecastEchoHandler) Zones(c echo.Context) error {
	zones := h.fleet.Zones()
	return xhttp.ListResponse(c, zones, int64(len(zones)))
}

func (h *ForecastEchoHandler) LatestForecast(c echo.Context) error {
	req := &models.LatestForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pipe, err := h.pipeline(req.Zone)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	body, err := pipe.GetLatestForecast(c.Request().Context())
	if err != nil {
		return h.fail(c, "latest forecast", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, json.RawMessage(body))
}

type runResponse struct {
	Forecast    *models.VolatilityForecast `json:"forecast"`
	DailySigma  float64                    `json:"daily_sigma"`
	Diagnostics *models.RunDiagnostics     `json:"diagnostics"`
}

func (h *ForecastEchoHandler) RunForecast(c echo.Context) error {
	req := &models.RunForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pipe, err := h.pipeline(req.Zone)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	date, err := h.runDate(req.Date)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	fc, diag, err := pipe.RunDailyForecast(c.Request().Context(), date, usecase.RunOptions{Force: req.Force})
	if err != nil {
		return h.fail(c, "run forecast", err)
	}
	return xhttp.SuccessResponse(c, runResponse{Forecast: fc, DailySigma: fc.DailySigma(), Diagnostics: diag})
}

func (h *ForecastEchoHandler) RunAll(c echo.Context) error {
	req := &models.RunAllRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	date, err := h.runDate(req.Date)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	results, err := h.fleet.RunAll(c.Request().Context(), date, usecase.RunOptions{Force: req.Force})
	if err != nil {
		return h.fail(c, "run all zones", err)
	}
	return xhttp.SuccessResponse(c, results)
}

func (h *ForecastEchoHandler) Backtest(c echo.Context) error {
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pipe, err := h.pipeline(req.Zone)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	res, _, err := pipe.BacktestHistorical(c.Request().Context(), req.TestDays)
	if err != nil {
		return h.fail(c, "backtest", err)
	}
	return xhttp.SuccessResponse(c, res.Report(h.now()))
}

func (h *ForecastEchoHandler) EnqueueBacktest(c echo.Context) error {
	if h.jobs == nil {
		return xhttp.AppErrorResponse(c, errJobsDisabled())
	}
	req := &models.BacktestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	pipe, err := h.pipeline(req.Zone)
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}

	id, err := h.jobs.Enqueue(c.Request().Context(), usecase.JobTypeBacktest,
		usecase.BacktestPayload{Zone: pipe.Zone(), TestDays: req.TestDays})
	if err != nil {
		return h.fail(c, "enqueue backtest", err)
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]string{"job_id": id})
}

func (h *ForecastEchoHandler) JobStatus(c echo.Context) error {
	if h.jobs == nil {
		return xhttp.AppErrorResponse(c, errJobsDisabled())
	}
	req := &models.JobStatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	st, err := h.jobs.Status(c.Request().Context(), req.ID)
	if err != nil {
		return h.fail(c, "job status", err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *ForecastEchoHandler) Prices(c echo.Context) error {
	req := &models.PricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, ok := xhttp.ParseTime(req.From)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid from %q", req.From))
	}
	to, ok := xhttp.ParseTime(req.To)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid to %q", req.To))
	}

	res, err := h.prices.GetPrices(c.Request().Context(), usecase.GetPricesParams{
		Zone:  normalizeZone(req.Zone),
		From:  from,
		To:    to,
		Limit: req.Limit,
	})
	if err != nil {
		return h.fail(c, "get prices", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastEchoHandler) StorePrices(c echo.Context) error {
	req := &models.StorePricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	for i := range req.Prices {
		req.Prices[i].Zone = normalizeZone(req.Prices[i].Zone)
	}

	if err := h.prices.StorePrices(c.Request().Context(), req.Prices); err != nil {
		return h.fail(c, "store prices", err)
	}
	return xhttp.CreatedResponse(c, map[string]int{"stored": len(req.Prices)})
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *ForecastEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := healthStatus{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.String("check", name), xlogger.Error(err))
			out.Checks[name] = err.Error()
			out.Status = "degraded"
			continue
		}
		out.Checks[name] = "ok"
	}
	if out.Status != "ok" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, out)
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *ForecastEchoHandler) pipeline(zone string) (*usecase.ForecastPipeline, error) {
	zone = normalizeZone(zone)
	p, ok := h.fleet.Pipeline(zone)
	if !ok {
		return nil, xhttp.NotFoundErrorf("zone %s is not configured", zone)
	}
	return p, nil
}

// runDate resolves an optional YYYY-MM-DD to its UTC midnight, defaulting
// to today.
func (h *ForecastEchoHandler) runDate(s string) (time.Time, error) {
	if s == "" {
		return h.now().UTC(), nil
	}
	d, ok := xhttp.ParseDate(s)
	if !ok {
		return time.Time{}, xhttp.BadRequestErrorf("invalid date %q", s)
	}
	return d, nil
}

// fail logs server-side failures and writes the mapped error.
func (h *ForecastEchoHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", xlogger.String("path", c.Path()), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func normalizeZone(z string) string {
	return strings.ToUpper(strings.TrimSpace(z))
}
