package repository

import (
	"context"
	"errors"
	"time"

	"GridVol/internal/domain/models"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// PriceStore owns the hourly price history.
type PriceStore interface {
	// GetPrices returns prices with from <= ts <= to in ascending order.
	GetPrices(ctx context.Context, zone string, from, to time.Time) ([]models.PriceObservation, error)
	StorePrices(ctx context.Context, prices []models.PriceObservation) error
	Health(ctx context.Context) error
}

// ForecastStore owns forecast records, fitted parameters and backtest reports.
type ForecastStore interface {
	SaveForecast(ctx context.Context, rec models.ForecastRecord) error
	// GetForecast returns the record for one (zone, origin).
	GetForecast(ctx context.Context, zone string, origin time.Time) (models.ForecastRecord, error)
	GetLatestForecast(ctx context.Context, zone string) (models.ForecastRecord, error)
	// ListForecasts returns records with from <= origin <= to, ascending.
	ListForecasts(ctx context.Context, zone string, from, to time.Time) ([]models.ForecastRecord, error)

	SaveParameters(ctx context.Context, p models.GARCHParameters) error
	GetLatestParameters(ctx context.Context, zone string) (models.GARCHParameters, error)

	SaveBacktestReport(ctx context.Context, rep models.BacktestReport) error
}

// RecordPublisher hands finished records to downstream consumers.
type RecordPublisher interface {
	PublishForecast(ctx context.Context, rec models.ForecastRecord) error
	PublishBacktest(ctx context.Context, rep models.BacktestReport) error
}

// RunLocker guards a (zone, date) run across processes.
type RunLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordRun(zone, outcome string, seconds float64)
	RecordFit(zone string, p models.GARCHParameters)
	RecordForecast(zone string, dailySigma float64)
	RecordBacktest(zone string, m models.MetricSet)
	RecordError(kind string)
}
