package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
)

var _ domrepo.Metrics = (*Recorder)(nil)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordRun("DE", "ok", 0.4)
	r.RecordRun("DE", "ok", 0.6)
	r.RecordRun("DE", "degraded", 1.0)
	r.RecordFit("DE", models.GARCHParameters{Omega: 1e-5, Alpha: 0.1, Beta: 0.8, Converged: true})
	r.RecordForecast("DE", 0.12)
	r.RecordBacktest("DE", models.MetricSet{RMSE: 0.01, Coverage: 0.88})
	r.RecordError("fit")
	r.RecordIngested("DE", 24)
	r.RecordIngested("DE", 24)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("DE", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("DE", "degraded")))
	assert.InDelta(t, 0.9, testutil.ToFloat64(r.persistence.WithLabelValues("DE")), 1e-12)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fitConverged.WithLabelValues("DE")))
	assert.Equal(t, 0.12, testutil.ToFloat64(r.dailySigma.WithLabelValues("DE")))
	assert.Equal(t, 0.88, testutil.ToFloat64(r.backtest.WithLabelValues("DE", "coverage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("fit")))
	assert.Equal(t, 48.0, testutil.ToFloat64(r.ingested.WithLabelValues("DE")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.runDuration))
}
