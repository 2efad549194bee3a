package models

import (
	"math"
	"time"
)

type ModelSnapshot struct {
	Omega          float64   `json:"omega"`
	Alpha          float64   `json:"alpha"`
	Beta           float64   `json:"beta"`
	EstimationDate time.Time `json:"estimation_date"`
	LogLikelihood  float64   `json:"log_likelihood"`
	Converged      bool      `json:"converged"`
}

type HorizonPoint struct {
	Step  int     `json:"step"`
	Sigma float64 `json:"sigma"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ForecastRecord is the persisted and published form of a daily forecast.
type ForecastRecord struct {
	Zone       string         `json:"zone"`
	Origin     time.Time      `json:"origin_timestamp"`
	Model      ModelSnapshot  `json:"model"`
	Horizon    []HorizonPoint `json:"horizon"`
	Confidence float64        `json:"confidence"`
	Degraded   bool           `json:"degraded"`
	CreatedAt  time.Time      `json:"created_at"`
}

func NewForecastRecord(f VolatilityForecast, degraded bool, now time.Time) ForecastRecord {
	rec := ForecastRecord{
		Zone:   f.Zone,
		Origin: f.Origin.UTC(),
		Model: ModelSnapshot{
			Omega:          f.Parameters.Omega,
			Alpha:          f.Parameters.Alpha,
			Beta:           f.Parameters.Beta,
			EstimationDate: f.Parameters.EstimationDate.UTC(),
			LogLikelihood:  f.Parameters.LogLikelihood,
			Converged:      f.Parameters.Converged,
		},
		Horizon:    make([]HorizonPoint, 0, len(f.Steps)),
		Confidence: f.Confidence,
		Degraded:   degraded,
		CreatedAt:  now.UTC(),
	}
	for _, s := range f.Steps {
		rec.Horizon = append(rec.Horizon, HorizonPoint{Step: s.Step, Sigma: s.Sigma, Lower: s.Lower, Upper: s.Upper})
	}
	return rec
}

// DailySigma is the volatility of the whole horizon.
func (r ForecastRecord) DailySigma() float64 {
	var sum float64
	for _, h := range r.Horizon {
		sum += h.Sigma * h.Sigma
	}
	return math.Sqrt(sum)
}

// RunDiagnostics explains what a pipeline run did.
type RunDiagnostics struct {
	Zone           string          `json:"zone"`
	Date           time.Time       `json:"date"`
	Refit          bool            `json:"refit"`
	RefitReason    string          `json:"refit_reason,omitempty"`
	Duplicate      bool            `json:"duplicate"`
	Degraded       bool            `json:"degraded"`
	FallbackReason string          `json:"fallback_reason,omitempty"`
	RollingError   float64         `json:"rolling_error"`
	Fit            *FitDiagnostics `json:"fit,omitempty"`
	Backtest       *MetricSet      `json:"backtest,omitempty"`
	Duration       time.Duration   `json:"duration_ns"`
}

// Forecast rebuilds the forecast a record was made from. Step timestamps
// follow the hourly grid from the origin; per-step variances are σ².
func (r ForecastRecord) Forecast() VolatilityForecast {
	f := VolatilityForecast{
		Zone:       r.Zone,
		Origin:     r.Origin,
		Horizon:    len(r.Horizon),
		Confidence: r.Confidence,
		Steps:      make([]ForecastStep, 0, len(r.Horizon)),
		Parameters: GARCHParameters{
			Zone:           r.Zone,
			EstimationDate: r.Model.EstimationDate,
			Omega:          r.Model.Omega,
			Alpha:          r.Model.Alpha,
			Beta:           r.Model.Beta,
			LogLikelihood:  r.Model.LogLikelihood,
			Converged:      r.Model.Converged,
		},
	}
	f.UnconditionalVariance = f.Parameters.UnconditionalVariance()
	for _, h := range r.Horizon {
		f.Steps = append(f.Steps, ForecastStep{
			Step:      h.Step,
			Timestamp: r.Origin.Add(time.Duration(h.Step-1) * HourStep),
			Variance:  h.Sigma * h.Sigma,
			Sigma:     h.Sigma,
			Lower:     h.Lower,
			Upper:     h.Upper,
		})
	}
	return f
}
