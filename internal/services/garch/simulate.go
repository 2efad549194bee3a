package garch

import (
	"math"
	"math/rand/v2"
	"time"

	"GridVol/internal/domain/models"
)

// Simulate draws n GARCH(1,1) returns with Gaussian innovations after
// discarding burnIn draws. The recursion starts at the unconditional
// variance.
func Simulate(p models.GARCHParameters, n, burnIn int, rng *rand.Rand) []float64 {
	v := p.UnconditionalVariance()
	if math.IsInf(v, 0) {
		v = p.Omega
	}
	out := make([]float64, 0, n)
	for i := 0; i < n+burnIn; i++ {
		e := math.Sqrt(v) * rng.NormFloat64()
		if i >= burnIn {
			out = append(out, e)
		}
		v = p.Omega + p.Alpha*e*e + p.Beta*v
	}
	return out
}

// PricePath compounds log-returns into an hourly price series starting at
// p0 at time start. The result has len(returns)+1 observations.
func PricePath(zone string, start time.Time, p0 float64, returns []float64) []models.PriceObservation {
	out := make([]models.PriceObservation, 0, len(returns)+1)
	out = append(out, models.PriceObservation{Zone: zone, Timestamp: start, Price: p0})
	price := p0
	for i, r := range returns {
		price *= math.Exp(r)
		out = append(out, models.PriceObservation{
			Zone:      zone,
			Timestamp: start.Add(time.Duration(i+1) * models.HourStep),
			Price:     price,
		})
	}
	return out
}
