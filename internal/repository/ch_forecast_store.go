package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
	pkgch "GridVol/pkg/clickhouse"
	applogger "GridVol/pkg/logger"
)

// CHForecastStore implements ForecastStore backed by ClickHouse.
type CHForecastStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.ForecastStore = (*CHForecastStore)(nil)

func NewCHForecastStore(ch *pkgch.Client) *CHForecastStore {
	return &CHForecastStore{db: ch.DB(), l: applogger.Nop()}
}

func (s *CHForecastStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

const forecastColumns = `zone, origin, omega, alpha, beta, estimation_date, confidence, degraded, horizon, created_at`

func (s *CHForecastStore) SaveForecast(ctx context.Context, rec models.ForecastRecord) error {
	horizon, err := json.Marshal(rec.Horizon)
	if err != nil {
		return fmt.Errorf("marshal horizon: %w", err)
	}
	q := "INSERT INTO vol_forecasts (" + forecastColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err = s.db.ExecContext(ctx, q,
		rec.Zone,
		rec.Origin.UTC(),
		rec.Model.Omega,
		rec.Model.Alpha,
		rec.Model.Beta,
		rec.Model.EstimationDate.UTC(),
		rec.Confidence,
		boolToUInt8(rec.Degraded),
		string(horizon),
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse save_forecast error",
			applogger.String("zone", rec.Zone),
			applogger.Time("origin", rec.Origin),
			applogger.Error(err),
		)
		return fmt.Errorf("save forecast: %w", err)
	}
	return nil
}

func (s *CHForecastStore) GetForecast(ctx context.Context, zone string, origin time.Time) (models.ForecastRecord, error) {
	q := "SELECT " + forecastColumns + " FROM vol_forecasts FINAL WHERE zone = ? AND origin = ? LIMIT 1"
	recs, err := s.queryForecasts(ctx, q, zone, origin.UTC())
	if err != nil {
		return models.ForecastRecord{}, fmt.Errorf("get forecast: %w", err)
	}
	if len(recs) == 0 {
		return models.ForecastRecord{}, domrepo.ErrNotFound
	}
	return recs[0], nil
}

func (s *CHForecastStore) GetLatestForecast(ctx context.Context, zone string) (models.ForecastRecord, error) {
	q := "SELECT " + forecastColumns + " FROM vol_forecasts FINAL WHERE zone = ? ORDER BY origin DESC LIMIT 1"
	recs, err := s.queryForecasts(ctx, q, zone)
	if err != nil {
		return models.ForecastRecord{}, fmt.Errorf("get latest forecast: %w", err)
	}
	if len(recs) == 0 {
		return models.ForecastRecord{}, domrepo.ErrNotFound
	}
	return recs[0], nil
}

func (s *CHForecastStore) ListForecasts(ctx context.Context, zone string, from, to time.Time) ([]models.ForecastRecord, error) {
	q := "SELECT " + forecastColumns + " FROM vol_forecasts FINAL WHERE zone = ? AND origin >= ? AND origin <= ? ORDER BY origin ASC"
	recs, err := s.queryForecasts(ctx, q, zone, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	return recs, nil
}

func (s *CHForecastStore) queryForecasts(ctx context.Context, q string, args ...interface{}) ([]models.ForecastRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse forecast query error", applogger.Error(err))
		return nil, err
	}
	defer rows.Close()

	var out []models.ForecastRecord
	for rows.Next() {
		var (
			rec      models.ForecastRecord
			degraded uint8
			horizon  string
		)
		if err := rows.Scan(
			&rec.Zone,
			&rec.Origin,
			&rec.Model.Omega,
			&rec.Model.Alpha,
			&rec.Model.Beta,
			&rec.Model.EstimationDate,
			&rec.Confidence,
			&degraded,
			&horizon,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		if err := json.Unmarshal([]byte(horizon), &rec.Horizon); err != nil {
			return nil, fmt.Errorf("decode horizon: %w", err)
		}
		rec.Degraded = degraded != 0
		rec.Model.Converged = true
		rec.Origin = rec.Origin.UTC()
		rec.Model.EstimationDate = rec.Model.EstimationDate.UTC()
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

const paramColumns = `zone, estimation_date, window_end, omega, alpha, beta, log_likelihood, converged,
        sample_size, last_residual, last_variance, method, status, iterations, gradient_norm`

func (s *CHForecastStore) SaveParameters(ctx context.Context, p models.GARCHParameters) error {
	q := "INSERT INTO garch_params (" + paramColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := s.db.ExecContext(ctx, q,
		p.Zone,
		p.EstimationDate.UTC(),
		p.WindowEnd.UTC(),
		p.Omega,
		p.Alpha,
		p.Beta,
		p.LogLikelihood,
		boolToUInt8(p.Converged),
		uint32(p.SampleSize),
		p.LastResidual,
		p.LastVariance,
		p.Diagnostics.Method,
		p.Diagnostics.Status,
		uint32(p.Diagnostics.Iterations),
		p.Diagnostics.GradientNorm,
	)
	if err != nil {
		s.l.Error("clickhouse save_params error",
			applogger.String("zone", p.Zone),
			applogger.Error(err),
		)
		return fmt.Errorf("save parameters: %w", err)
	}
	return nil
}

func (s *CHForecastStore) GetLatestParameters(ctx context.Context, zone string) (models.GARCHParameters, error) {
	q := "SELECT " + paramColumns + " FROM garch_params FINAL WHERE zone = ? ORDER BY estimation_date DESC LIMIT 1"
	var (
		p          models.GARCHParameters
		converged  uint8
		sampleSize uint32
		iterations uint32
	)
	err := s.db.QueryRowContext(ctx, q, zone).Scan(
		&p.Zone,
		&p.EstimationDate,
		&p.WindowEnd,
		&p.Omega,
		&p.Alpha,
		&p.Beta,
		&p.LogLikelihood,
		&converged,
		&sampleSize,
		&p.LastResidual,
		&p.LastVariance,
		&p.Diagnostics.Method,
		&p.Diagnostics.Status,
		&iterations,
		&p.Diagnostics.GradientNorm,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GARCHParameters{}, domrepo.ErrNotFound
	}
	if err != nil {
		s.l.Error("clickhouse latest_params error",
			applogger.String("zone", zone),
			applogger.Error(err),
		)
		return models.GARCHParameters{}, fmt.Errorf("get latest parameters: %w", err)
	}
	p.Converged = converged != 0
	p.SampleSize = int(sampleSize)
	p.Diagnostics.Iterations = int(iterations)
	p.EstimationDate = p.EstimationDate.UTC()
	p.WindowEnd = p.WindowEnd.UTC()
	return p, nil
}

func (s *CHForecastStore) SaveBacktestReport(ctx context.Context, rep models.BacktestReport) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	const q = `INSERT INTO backtest_reports
        (zone, window_start, window_end, rmse, mae, mape, direction_accuracy, mz_r2, coverage, report, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rep.Zone,
		rep.TestWindow.Start.UTC(),
		rep.TestWindow.End.UTC(),
		rep.Metrics.RMSE,
		rep.Metrics.MAE,
		rep.Metrics.MAPE,
		rep.Metrics.DirectionAccuracy,
		rep.Metrics.MZR2,
		rep.Metrics.Coverage,
		string(body),
		rep.CreatedAt.UTC(),
	)
	if err != nil {
		s.l.Error("clickhouse save_backtest error",
			applogger.String("zone", rep.Zone),
			applogger.Error(err),
		)
		return fmt.Errorf("save backtest report: %w", err)
	}
	return nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
