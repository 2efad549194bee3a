package service

import (
	"context"
	"time"

	"GridVol/internal/domain/models"
)

// Estimator fits GARCH parameters to a return series.
type Estimator interface {
	Fit(ctx context.Context, series *models.ReturnSeries) (models.GARCHParameters, error)
}

// Notifier pushes finished records to a presentation collaborator.
type Notifier interface {
	NotifyForecast(ctx context.Context, rec models.ForecastRecord) error
	NotifyBacktest(ctx context.Context, rep models.BacktestReport) error
}

// Clock lets pipelines run against a fixed time in tests.
type Clock func() time.Time
