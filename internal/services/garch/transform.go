package garch

import "math"

// The optimizer works on an unconstrained vector x = (a, b, c):
//
//	ω = exp(a)              (in units of the sample variance)
//	α+β = logistic(b)
//	α = logistic(b)·logistic(c), β = logistic(b)·(1-logistic(c))
//
// so every x maps into ω>0, α≥0, β≥0, α+β<1.

const maxExp = 50

func logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	ex := math.Exp(x)
	return ex / (1 + ex)
}

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

func toParams(x []float64) (omega, alpha, beta float64) {
	p := logistic(x[1])
	w := logistic(x[2])
	return math.Exp(x[0]), p * w, p * (1 - w)
}

func fromParams(omega, alpha, beta float64) []float64 {
	p := alpha + beta
	return []float64{math.Log(omega), logit(p), logit(alpha / p)}
}

func inDomain(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.Abs(v) > maxExp {
			return false
		}
	}
	return true
}
