package backtest

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"GridVol/internal/domain/models"
)

// Compute scores the accumulated periods. Every metric must come out
// finite; anything else is an error.
func Compute(periods []models.BacktestPeriod) (models.MetricSet, error) {
	if len(periods) < 2 {
		return models.MetricSet{}, fmt.Errorf("metrics need at least 2 periods, got %d", len(periods))
	}

	forecast := make([]float64, len(periods))
	realized := make([]float64, len(periods))
	for i, p := range periods {
		forecast[i] = p.ForecastSigma
		realized[i] = p.RealizedSigma
	}

	mape, err := MAPE(forecast, realized)
	if err != nil {
		return models.MetricSet{}, err
	}
	cov, err := Coverage(periods)
	if err != nil {
		return models.MetricSet{}, err
	}
	a, b, r2 := MincerZarnowitz(forecast, realized)

	m := models.MetricSet{
		RMSE:              RMSE(forecast, realized),
		MAE:               MAE(forecast, realized),
		MAPE:              mape,
		DirectionAccuracy: DirectionAccuracy(forecast, realized),
		MZIntercept:       a,
		MZSlope:           b,
		MZR2:              r2,
		Coverage:          cov,
		Pairs:             len(periods),
	}

	for name, v := range map[string]float64{
		"rmse": m.RMSE, "mae": m.MAE, "mape": m.MAPE, "direction_accuracy": m.DirectionAccuracy,
		"mz_intercept": m.MZIntercept, "mz_slope": m.MZSlope, "mz_r2": m.MZR2, "coverage": m.Coverage,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.MetricSet{}, &models.NonFiniteError{Stage: "metric " + name}
		}
	}
	return m, nil
}

// RMSE is the root mean squared error of forecast against realized.
func RMSE(forecast, realized []float64) float64 {
	var sum float64
	for i := range forecast {
		d := forecast[i] - realized[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(forecast)))
}

// MAE is the mean absolute error.
func MAE(forecast, realized []float64) float64 {
	var sum float64
	for i := range forecast {
		sum += math.Abs(forecast[i] - realized[i])
	}
	return sum / float64(len(forecast))
}

// MAPE skips pairs whose realized value is zero.
func MAPE(forecast, realized []float64) (float64, error) {
	var sum float64
	var n int
	for i := range forecast {
		if realized[i] == 0 {
			continue
		}
		sum += math.Abs((forecast[i] - realized[i]) / realized[i])
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("mape: every realized value is zero")
	}
	return sum / float64(n), nil
}

// DirectionAccuracy is the share of consecutive day pairs where the forecast
// volatility moved in the same direction as realized volatility. A flat
// forecast only scores on days where realized volatility was also flat.
func DirectionAccuracy(forecast, realized []float64) float64 {
	if len(forecast) < 2 {
		return 0
	}
	var hits int
	for i := 1; i < len(forecast); i++ {
		if sign(forecast[i]-forecast[i-1]) == sign(realized[i]-realized[i-1]) {
			hits++
		}
	}
	return float64(hits) / float64(len(forecast)-1)
}

// MincerZarnowitz regresses realized = a + b·forecast by OLS and returns
// (a, b, R²). A constant forecast explains nothing: (mean, 0, 0).
func MincerZarnowitz(forecast, realized []float64) (intercept, slope, r2 float64) {
	if stat.Variance(forecast, nil) == 0 {
		return stat.Mean(realized, nil), 0, 0
	}
	intercept, slope = stat.LinearRegression(forecast, realized, nil, false)
	if stat.Variance(realized, nil) == 0 {
		var ssr float64
		for i := range forecast {
			d := realized[i] - (intercept + slope*forecast[i])
			ssr += d * d
		}
		if ssr == 0 {
			return intercept, slope, 1
		}
		return intercept, slope, 0
	}
	return intercept, slope, stat.RSquared(forecast, realized, nil, intercept, slope)
}

// Coverage is the share of realized hourly residuals inside the forecast
// band of their step.
func Coverage(periods []models.BacktestPeriod) (float64, error) {
	var inside, total int
	for _, p := range periods {
		n := len(p.RealizedResiduals)
		if len(p.Forecast.Steps) < n {
			n = len(p.Forecast.Steps)
		}
		for j := 0; j < n; j++ {
			e := p.RealizedResiduals[j]
			s := p.Forecast.Steps[j]
			if e >= s.Lower && e <= s.Upper {
				inside++
			}
			total++
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("coverage: no realized observations")
	}
	return float64(inside) / float64(total), nil
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
