package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"GridVol/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	errorsTotal  *prometheus.CounterVec
	ingested     *prometheus.CounterVec
	persistence  *prometheus.GaugeVec
	omega        *prometheus.GaugeVec
	logLik       *prometheus.GaugeVec
	fitConverged *prometheus.GaugeVec
	dailySigma   *prometheus.GaugeVec
	backtest     *prometheus.GaugeVec
}

// New creates a recorder registered on reg, or on the default registry
// when reg is nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridvol_forecast_runs_total",
				Help: "Daily forecast runs by outcome",
			},
			[]string{"zone", "outcome"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridvol_forecast_run_duration_seconds",
				Help:    "Duration of daily forecast runs in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"zone"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridvol_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		ingested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridvol_prices_ingested_total",
				Help: "Hourly prices written to the price store",
			},
			[]string{"zone"},
		),
		persistence: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridvol_garch_persistence",
				Help: "alpha+beta of the latest fit",
			},
			[]string{"zone"},
		),
		omega: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridvol_garch_omega",
				Help: "omega of the latest fit",
			},
			[]string{"zone"},
		),
		logLik: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridvol_garch_log_likelihood",
				Help: "Log-likelihood of the latest fit",
			},
			[]string{"zone"},
		),
		fitConverged: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridvol_garch_converged",
				Help: "1 if the latest fit converged",
			},
			[]string{"zone"},
		),
		dailySigma: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridvol_forecast_daily_sigma",
				Help: "Forecast volatility of the next delivery day",
			},
			[]string{"zone"},
		),
		backtest: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridvol_backtest_metric",
				Help: "Latest backtest metrics",
			},
			[]string{"zone", "metric"},
		),
	}
}

func (r *Recorder) RecordRun(zone, outcome string, seconds float64) {
	r.runs.WithLabelValues(zone, outcome).Inc()
	r.runDuration.WithLabelValues(zone).Observe(seconds)
}

func (r *Recorder) RecordFit(zone string, p models.GARCHParameters) {
	r.persistence.WithLabelValues(zone).Set(p.Persistence())
	r.omega.WithLabelValues(zone).Set(p.Omega)
	r.logLik.WithLabelValues(zone).Set(p.LogLikelihood)
	conv := 0.0
	if p.Converged {
		conv = 1
	}
	r.fitConverged.WithLabelValues(zone).Set(conv)
}

func (r *Recorder) RecordForecast(zone string, dailySigma float64) {
	r.dailySigma.WithLabelValues(zone).Set(dailySigma)
}

func (r *Recorder) RecordBacktest(zone string, m models.MetricSet) {
	for name, v := range map[string]float64{
		"rmse":               m.RMSE,
		"mae":                m.MAE,
		"mape":               m.MAPE,
		"direction_accuracy": m.DirectionAccuracy,
		"mz_intercept":       m.MZIntercept,
		"mz_slope":           m.MZSlope,
		"mz_r2":              m.MZR2,
		"coverage":           m.Coverage,
	} {
		r.backtest.WithLabelValues(zone, name).Set(v)
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordIngested(zone string, n int) {
	r.ingested.WithLabelValues(zone).Add(float64(n))
}
