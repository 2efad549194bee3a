package models

import (
	"math"
	"time"
)

// FitDiagnostics describes how the optimizer reached a parameter set.
type FitDiagnostics struct {
	Method          string        `json:"method"`
	Status          string        `json:"status"`
	Iterations      int           `json:"iterations"`
	FuncEvaluations int           `json:"func_evaluations"`
	GradientNorm    float64       `json:"gradient_norm"`
	Runtime         time.Duration `json:"runtime_ns"`
}

// GARCHParameters is one fitted GARCH(1,1) model. Instances are never
// mutated; a refit produces a new value with a later EstimationDate.
type GARCHParameters struct {
	Zone           string         `json:"zone"`
	EstimationDate time.Time      `json:"estimation_date"`
	WindowEnd      time.Time      `json:"window_end"`
	Omega          float64        `json:"omega"`
	Alpha          float64        `json:"alpha"`
	Beta           float64        `json:"beta"`
	LogLikelihood  float64        `json:"log_likelihood"`
	Converged      bool           `json:"converged"`
	SampleSize     int            `json:"sample_size"`
	LastResidual   float64        `json:"last_residual"`
	LastVariance   float64        `json:"last_variance"`
	Diagnostics    FitDiagnostics `json:"diagnostics"`
}

func (p GARCHParameters) Persistence() float64 { return p.Alpha + p.Beta }

// UnconditionalVariance is ω/(1-α-β); +Inf when the model is not stationary.
func (p GARCHParameters) UnconditionalVariance() float64 {
	d := 1 - p.Persistence()
	if d <= 0 {
		return math.Inf(1)
	}
	return p.Omega / d
}

// HalfLife is the number of hours for a variance shock to decay by half.
func (p GARCHParameters) HalfLife() float64 {
	ps := p.Persistence()
	if ps <= 0 {
		return 0
	}
	if ps >= 1 {
		return math.Inf(1)
	}
	return math.Log(0.5) / math.Log(ps)
}

func (p GARCHParameters) AIC() float64 {
	return 2*3 - 2*p.LogLikelihood
}

func (p GARCHParameters) BIC() float64 {
	if p.SampleSize <= 0 {
		return math.NaN()
	}
	return 3*math.Log(float64(p.SampleSize)) - 2*p.LogLikelihood
}

// Stationary reports whether the parameters satisfy ω>0, α≥0, β≥0, α+β<1.
func (p GARCHParameters) Stationary() bool {
	return p.Omega > 0 && p.Alpha >= 0 && p.Beta >= 0 && p.Persistence() < 1 &&
		!math.IsNaN(p.Omega) && !math.IsInf(p.Omega, 0)
}
