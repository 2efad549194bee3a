package models

import (
	"math"
	"time"
)

// DefaultHorizon covers one day-ahead delivery day.
const DefaultHorizon = 24

type ForecastStep struct {
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Variance  float64   `json:"variance"`
	Sigma     float64   `json:"sigma"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
}

// VolatilityForecast is an h-step conditional variance projection from one
// origin under one parameter set.
type VolatilityForecast struct {
	Zone                  string          `json:"zone"`
	Origin                time.Time       `json:"origin"`
	Horizon               int             `json:"horizon"`
	Confidence            float64         `json:"confidence"`
	Steps                 []ForecastStep  `json:"steps"`
	UnconditionalVariance float64         `json:"unconditional_variance"`
	Parameters            GARCHParameters `json:"parameters"`
}

// TotalVariance sums the per-step variances.
func (f VolatilityForecast) TotalVariance() float64 {
	var sum float64
	for _, s := range f.Steps {
		sum += s.Variance
	}
	return sum
}

// DailySigma is the volatility of the summed horizon returns.
func (f VolatilityForecast) DailySigma() float64 {
	return math.Sqrt(f.TotalVariance())
}
