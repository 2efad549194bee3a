package models

import "time"

// MetricSet scores a sequence of (forecast, realized) pairs.
type MetricSet struct {
	RMSE              float64 `json:"rmse"`
	MAE               float64 `json:"mae"`
	MAPE              float64 `json:"mape"`
	DirectionAccuracy float64 `json:"direction_accuracy"`
	MZIntercept       float64 `json:"mz_intercept"`
	MZSlope           float64 `json:"mz_slope"`
	MZR2              float64 `json:"mz_r2"`
	Coverage          float64 `json:"coverage"`
	Pairs             int     `json:"pairs"`
}

type BacktestPeriod struct {
	Date              time.Time          `json:"date"`
	Forecast          VolatilityForecast `json:"-"`
	ForecastSigma     float64            `json:"forecast_sigma"`
	RealizedSigma     float64            `json:"realized_sigma"`
	RealizedResiduals []float64          `json:"-"`
	Refit             bool               `json:"refit"`
	Degraded          bool               `json:"degraded"`
}

type BacktestResult struct {
	Zone      string           `json:"zone"`
	Periods   []BacktestPeriod `json:"periods"`
	Metrics   MetricSet        `json:"metrics"`
	Lookback  int              `json:"lookback_hours"`
	ReuseDays int              `json:"reuse_days"`
	Refits    int              `json:"refits"`
	Fallbacks int              `json:"fallbacks"`
}

type TestWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type PeriodScore struct {
	Date          time.Time `json:"date"`
	ForecastSigma float64   `json:"forecast_sigma"`
	RealizedSigma float64   `json:"realized_sigma"`
}

// BacktestReport is the serialisable summary handed to collaborators.
type BacktestReport struct {
	Zone       string        `json:"zone"`
	TestWindow TestWindow    `json:"test_window"`
	Metrics    MetricSet     `json:"metrics"`
	PerPeriod  []PeriodScore `json:"per_period"`
	Refits     int           `json:"refits"`
	Fallbacks  int           `json:"fallbacks"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Report flattens a result into its serialisable form. The test window
// ends one day after the last period's date.
func (r *BacktestResult) Report(now time.Time) BacktestReport {
	rep := BacktestReport{
		Zone:      r.Zone,
		Metrics:   r.Metrics,
		PerPeriod: make([]PeriodScore, 0, len(r.Periods)),
		Refits:    r.Refits,
		Fallbacks: r.Fallbacks,
		CreatedAt: now.UTC(),
	}
	for _, p := range r.Periods {
		rep.PerPeriod = append(rep.PerPeriod, PeriodScore{
			Date:          p.Date,
			ForecastSigma: p.ForecastSigma,
			RealizedSigma: p.RealizedSigma,
		})
	}
	if n := len(r.Periods); n > 0 {
		rep.TestWindow = TestWindow{
			Start: r.Periods[0].Date,
			End:   r.Periods[n-1].Date.Add(24 * time.Hour),
		}
	}
	return rep
}
