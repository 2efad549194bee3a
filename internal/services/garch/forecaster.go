package garch

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"GridVol/internal/domain/models"
)

// Forecaster projects conditional variance over a fixed horizon.
type Forecaster struct {
	horizon    int
	confidence float64
	z          float64
}

// NewForecaster validates the horizon and the two-sided confidence level.
func NewForecaster(horizon int, confidence float64) (*Forecaster, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("forecast horizon must be positive, got %d", horizon)
	}
	if !(confidence > 0 && confidence < 1) {
		return nil, fmt.Errorf("confidence must be in (0,1), got %g", confidence)
	}
	return &Forecaster{
		horizon:    horizon,
		confidence: confidence,
		z:          ZScore(confidence),
	}, nil
}

// ZScore is the standard normal quantile bounding a two-sided interval
// holding the given probability mass.
func ZScore(confidence float64) float64 {
	return distuv.UnitNormal.Quantile(1 - (1-confidence)/2)
}

func (f *Forecaster) Horizon() int { return f.horizon }

func (f *Forecaster) Confidence() float64 { return f.confidence }

// Forecast runs σ²_1 = ω + αε² + βσ² from the state and then
// σ²_h = ω + (α+β)σ²_{h-1}. Step h covers the hour starting at
// origin + (h-1)h.
func (f *Forecaster) Forecast(p models.GARCHParameters, st State, origin time.Time) (models.VolatilityForecast, error) {
	if !finite(p.Omega, p.Alpha, p.Beta) || !(p.Omega > 0) || p.Alpha < 0 || p.Beta < 0 || p.Alpha+p.Beta >= 1 {
		return models.VolatilityForecast{}, &models.DegenerateModelError{Omega: p.Omega, Alpha: p.Alpha, Beta: p.Beta}
	}
	if !finite(st.LastResidual, st.LastVariance) {
		return models.VolatilityForecast{}, &models.NonFiniteError{Stage: "forecast state"}
	}
	if st.LastVariance < 0 {
		return models.VolatilityForecast{}, fmt.Errorf("%w: negative last variance %g", models.ErrDegenerateModel, st.LastVariance)
	}

	out := models.VolatilityForecast{
		Zone:                  p.Zone,
		Origin:                origin,
		Horizon:               f.horizon,
		Confidence:            f.confidence,
		Steps:                 make([]models.ForecastStep, f.horizon),
		UnconditionalVariance: p.UnconditionalVariance(),
		Parameters:            p,
	}

	persistence := p.Alpha + p.Beta
	v := p.Omega + p.Alpha*st.LastResidual*st.LastResidual + p.Beta*st.LastVariance
	for h := 1; h <= f.horizon; h++ {
		if h > 1 {
			v = p.Omega + persistence*v
		}
		if !(v > 0) || math.IsInf(v, 0) {
			return models.VolatilityForecast{}, &models.NonFiniteError{Stage: "variance forecast", Index: h}
		}
		sigma := math.Sqrt(v)
		out.Steps[h-1] = models.ForecastStep{
			Step:      h,
			Timestamp: origin.Add(time.Duration(h-1) * models.HourStep),
			Variance:  v,
			Sigma:     sigma,
			Lower:     -f.z * sigma,
			Upper:     f.z * sigma,
		}
	}
	return out, nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
