package garch

import (
	"math"

	"GridVol/internal/domain/models"
)

var ln2Pi = math.Log(2 * math.Pi)

// Filter returns the conditional variance path σ²_t for the residuals,
// starting from σ²_1 = init. It fails on the first non-finite or
// non-positive variance.
func Filter(omega, alpha, beta float64, residuals []float64, init float64) ([]float64, error) {
	out := make([]float64, len(residuals))
	if len(residuals) == 0 {
		return out, nil
	}
	out[0] = init
	for t := 1; t < len(residuals); t++ {
		e := residuals[t-1]
		out[t] = omega + alpha*e*e + beta*out[t-1]
	}
	for t, v := range out {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, &models.NonFiniteError{Stage: "variance filter", Index: t}
		}
	}
	return out, nil
}

// LogLikelihood evaluates the conditional Gaussian log-likelihood
// -½ Σ [ln 2π + ln σ²_t + ε²_t/σ²_t].
func LogLikelihood(omega, alpha, beta float64, residuals []float64, init float64) (float64, error) {
	ll := negLogLik(omega, alpha, beta, residuals, init)
	if math.IsNaN(ll) || math.IsInf(ll, 0) {
		return 0, &models.NonFiniteError{Stage: "log-likelihood", Index: len(residuals) - 1}
	}
	return -ll, nil
}

// negLogLik is the allocation-free objective used inside the optimizer.
func negLogLik(omega, alpha, beta float64, residuals []float64, init float64) float64 {
	s2 := init
	var sum float64
	for t, e := range residuals {
		if t > 0 {
			prev := residuals[t-1]
			s2 = omega + alpha*prev*prev + beta*s2
		}
		if !(s2 > 0) {
			return math.Inf(1)
		}
		sum += ln2Pi + math.Log(s2) + e*e/s2
	}
	return 0.5 * sum
}

// State is the end-of-window information a forecast starts from.
type State struct {
	LastResidual float64
	LastVariance float64
}

// StateOf extracts the state recorded with a fit.
func StateOf(p models.GARCHParameters) State {
	return State{LastResidual: p.LastResidual, LastVariance: p.LastVariance}
}

// StateFor filters a series with existing parameters and returns the state
// at its last observation. Reused parameters go through here so the
// forecast starts from the current window rather than the fitting one.
func StateFor(p models.GARCHParameters, series *models.ReturnSeries) (State, error) {
	n := series.Len()
	if n == 0 {
		return State{}, &models.InsufficientDataError{Have: 0, Need: 1, Reason: "empty series"}
	}
	v, err := Filter(p.Omega, p.Alpha, p.Beta, series.Residuals, series.Variance())
	if err != nil {
		return State{}, err
	}
	return State{LastResidual: series.Residuals[n-1], LastVariance: v[n-1]}, nil
}
