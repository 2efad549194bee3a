package features

import (
	"math"
	"time"

	"GridVol/internal/domain/models"
)

// LogReturns validates an hourly price sequence and computes
// r_t = ln(P_t / P_{t-1}). Prices must be positive and finite and timestamps
// exactly one hour apart; neither condition is repaired here.
func LogReturns(prices []models.PriceObservation) ([]time.Time, []float64, error) {
	for i, p := range prices {
		if p.Price <= 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			return nil, nil, &models.InvalidPriceError{Index: i, Timestamp: p.Timestamp, Price: p.Price}
		}
		if i > 0 && !p.Timestamp.Equal(prices[i-1].Timestamp.Add(models.HourStep)) {
			return nil, nil, &models.GapDetectedError{Index: i, Previous: prices[i-1].Timestamp, Current: p.Timestamp}
		}
	}
	if len(prices) < 2 {
		return nil, nil, nil
	}

	ts := make([]time.Time, 0, len(prices)-1)
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		ts = append(ts, prices[i].Timestamp)
		out = append(out, math.Log(prices[i].Price/prices[i-1].Price))
	}
	return ts, out, nil
}

// Preprocess turns at least minObservations prices into a demeaned return
// series. Malformed prices are reported before a short series is. A series whose returns have zero variance is rejected as
// insufficient data since it carries no volatility information.
func Preprocess(zone string, prices []models.PriceObservation, minObservations int) (*models.ReturnSeries, error) {
	ts, rets, err := LogReturns(prices)
	if err != nil {
		return nil, err
	}
	if minObservations < 3 {
		minObservations = 3
	}
	if len(prices) < minObservations {
		return nil, &models.InsufficientDataError{Have: len(prices), Need: minObservations}
	}
	return Demean(zone, ts, rets)
}

// Demean builds a ReturnSeries from raw returns. The slices are copied.
func Demean(zone string, timestamps []time.Time, returns []float64) (*models.ReturnSeries, error) {
	n := len(returns)
	if n < 2 {
		return nil, &models.InsufficientDataError{Have: n, Need: 2, Reason: "need at least two returns"}
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	s := &models.ReturnSeries{
		Zone:       zone,
		Timestamps: append([]time.Time(nil), timestamps...),
		Returns:    append([]float64(nil), returns...),
		Residuals:  make([]float64, n),
		Mean:       mean,
	}
	for i, r := range returns {
		s.Residuals[i] = r - mean
	}

	v := s.Variance()
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, &models.InsufficientDataError{Have: n, Need: n, Reason: "returns have zero variance"}
	}
	return s, nil
}

// RealizedVariance is the sum of squared residuals.
func RealizedVariance(residuals []float64) float64 {
	var sum float64
	for _, e := range residuals {
		sum += e * e
	}
	return sum
}

// RealizedSigma is the realized volatility of a block of residuals, the
// square root of its realized variance.
func RealizedSigma(residuals []float64) float64 {
	return math.Sqrt(RealizedVariance(residuals))
}

// DayStart truncates t to midnight UTC.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
