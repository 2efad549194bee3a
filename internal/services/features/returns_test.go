package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridVol/internal/domain/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func hourly(prices ...float64) []models.PriceObservation {
	out := make([]models.PriceObservation, len(prices))
	for i, p := range prices {
		out[i] = models.PriceObservation{Zone: "SE3", Timestamp: t0.Add(time.Duration(i) * time.Hour), Price: p}
	}
	return out
}

func wavy(n int) []models.PriceObservation {
	p := make([]float64, n)
	for i := range p {
		p[i] = 50 + 5*math.Sin(float64(i)/3) + float64(i%7)
	}
	return hourly(p...)
}

func TestPreprocess_DemeanedLogReturns(t *testing.T) {
	s, err := Preprocess("SE3", hourly(100, 110, 99, 120), 3)
	require.NoError(t, err)

	require.Equal(t, 3, s.Len())
	want := []float64{math.Log(1.1), math.Log(99.0 / 110), math.Log(120.0 / 99)}
	mean := (want[0] + want[1] + want[2]) / 3
	assert.InDelta(t, mean, s.Mean, 1e-12)
	var sum float64
	for i, r := range want {
		assert.InDelta(t, r, s.Returns[i], 1e-12)
		assert.InDelta(t, r-mean, s.Residuals[i], 1e-12)
		sum += s.Residuals[i]
	}
	assert.InDelta(t, 0, sum, 1e-12)
	assert.Equal(t, t0.Add(time.Hour), s.Start())
	assert.Equal(t, t0.Add(3*time.Hour), s.End())
}

func TestPreprocess_InputErrors(t *testing.T) {
	gap := wavy(10)
	gap[5].Timestamp = gap[5].Timestamp.Add(time.Hour)

	dup := wavy(10)
	dup[4].Timestamp = dup[3].Timestamp

	shortGap := wavy(4)
	shortGap[3].Timestamp = shortGap[3].Timestamp.Add(time.Hour)

	tests := []struct {
		name   string
		prices []models.PriceObservation
		want   error
	}{
		{"too short", wavy(5), models.ErrInsufficientData},
		{"too short with bad price", hourly(10, -1, 12), models.ErrInvalidPrice},
		{"too short with gap", shortGap, models.ErrGapDetected},
		{"zero price", hourly(10, 11, 0, 12, 13, 12, 11, 10), models.ErrInvalidPrice},
		{"negative price", hourly(10, 11, 12, -3, 13, 12, 11, 10), models.ErrInvalidPrice},
		{"nan price", hourly(10, 11, 12, math.NaN(), 13, 12, 11, 10), models.ErrInvalidPrice},
		{"gap", gap, models.ErrGapDetected},
		{"duplicate timestamp", dup, models.ErrGapDetected},
		{"constant", hourly(42, 42, 42, 42, 42, 42, 42, 42), models.ErrInsufficientData},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Preprocess("SE3", tc.prices, 8)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPreprocess_InvalidPriceCarriesPosition(t *testing.T) {
	_, err := Preprocess("SE3", hourly(10, 11, 12, -1, 13), 3)
	var ipe *models.InvalidPriceError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, 3, ipe.Index)
	assert.Equal(t, -1.0, ipe.Price)
	assert.Equal(t, t0.Add(3*time.Hour), ipe.Timestamp)
}

func TestPreprocess_GapCarriesNeighbours(t *testing.T) {
	prices := wavy(6)
	prices[3].Timestamp = prices[3].Timestamp.Add(2 * time.Hour)
	prices[4].Timestamp = prices[4].Timestamp.Add(2 * time.Hour)
	prices[5].Timestamp = prices[5].Timestamp.Add(2 * time.Hour)

	_, err := Preprocess("SE3", prices, 3)
	var gde *models.GapDetectedError
	require.True(t, errors.As(err, &gde))
	assert.Equal(t, 3, gde.Index)
	assert.Equal(t, 3*time.Hour, gde.Current.Sub(gde.Previous))
}

func TestRealizedSigma(t *testing.T) {
	assert.InDelta(t, math.Sqrt(2), RealizedSigma([]float64{1, -1}), 1e-12)
	assert.InDelta(t, 5.0, RealizedSigma([]float64{3, -4}), 1e-12)
	assert.Zero(t, RealizedSigma(nil))
}

func TestDayStart(t *testing.T) {
	ts := time.Date(2024, 3, 5, 17, 45, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), DayStart(ts))
}
