package garch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"GridVol/internal/domain/models"
	domsvc "GridVol/internal/domain/service"
)

const (
	MethodBFGS       = "bfgs"
	MethodNelderMead = "nelder-mead"

	// minFitObservations keeps three parameters identifiable at all.
	minFitObservations = 30

	penalty = 1e10

	highPersistence = 0.98
)

// EstimatorConfig bounds the likelihood search. Zero fields take the defaults.
type EstimatorConfig struct {
	Method            string
	MaxIterations     int
	MaxEvaluations    int
	Timeout           time.Duration
	GradientTolerance float64
	// BoundaryTolerance: fits with α+β ≥ 1-BoundaryTolerance are rejected.
	BoundaryTolerance float64
	// Initial guess for (α, β); ω starts at the matching unconditional variance.
	InitialAlpha float64
	InitialBeta  float64
}

// DefaultEstimatorConfig runs BFGS from (α, β) = (0.05, 0.90) with a 10s cap.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		Method:            MethodBFGS,
		MaxIterations:     500,
		MaxEvaluations:    20000,
		Timeout:           10 * time.Second,
		GradientTolerance: 1e-5,
		BoundaryTolerance: 1e-4,
		InitialAlpha:      0.05,
		InitialBeta:       0.90,
	}
}

// Estimator fits GARCH(1,1) parameters by maximum likelihood.
type Estimator struct {
	cfg EstimatorConfig
}

var _ domsvc.Estimator = (*Estimator)(nil)

func NewEstimator(cfg EstimatorConfig) *Estimator {
	def := DefaultEstimatorConfig()
	if cfg.Method == "" {
		cfg.Method = def.Method
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxEvaluations <= 0 {
		cfg.MaxEvaluations = def.MaxEvaluations
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.GradientTolerance <= 0 {
		cfg.GradientTolerance = def.GradientTolerance
	}
	if cfg.BoundaryTolerance <= 0 {
		cfg.BoundaryTolerance = def.BoundaryTolerance
	}
	if cfg.InitialAlpha <= 0 || cfg.InitialBeta <= 0 || cfg.InitialAlpha+cfg.InitialBeta >= 1 {
		cfg.InitialAlpha, cfg.InitialBeta = def.InitialAlpha, def.InitialBeta
	}
	return &Estimator{cfg: cfg}
}

func (e *Estimator) Config() EstimatorConfig { return e.cfg }

// Fit maximises the likelihood of the series' residuals. Residuals are
// scaled to unit variance during the search and the result is mapped back.
func (e *Estimator) Fit(ctx context.Context, series *models.ReturnSeries) (models.GARCHParameters, error) {
	n := series.Len()
	if n < minFitObservations {
		return models.GARCHParameters{}, &models.InsufficientDataError{Have: n, Need: minFitObservations}
	}
	s2 := series.Variance()
	if !(s2 > 0) || math.IsInf(s2, 0) {
		return models.GARCHParameters{}, &models.InsufficientDataError{Have: n, Need: n, Reason: "returns have zero variance"}
	}
	if err := ctx.Err(); err != nil {
		return models.GARCHParameters{}, &models.NonConvergenceError{Status: "cancelled", Err: err}
	}

	scale := math.Sqrt(s2)
	scaled := make([]float64, n)
	for i, r := range series.Residuals {
		scaled[i] = r / scale
	}

	inv := 1 / float64(n)
	objective := func(x []float64) float64 {
		if !inDomain(x) {
			return penalty
		}
		w, a, b := toParams(x)
		v := negLogLik(w, a, b, scaled, 1) * inv
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return penalty
		}
		return v
	}
	fdSettings := &fd.Settings{Formula: fd.Central, Step: 1e-6}

	problem := optimize.Problem{
		Func: objective,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, objective, x, fdSettings)
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: e.cfg.GradientTolerance,
		MajorIterations:   e.cfg.MaxIterations,
		FuncEvaluations:   e.cfg.MaxEvaluations,
		Runtime:           e.budget(ctx),
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 25,
		},
	}

	p0 := e.cfg.InitialAlpha + e.cfg.InitialBeta
	x0 := fromParams(1-p0, e.cfg.InitialAlpha, e.cfg.InitialBeta)

	res, err := optimize.Minimize(problem, x0, settings, e.method())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return models.GARCHParameters{}, &models.NonConvergenceError{Status: "cancelled", Err: ctxErr}
	}
	if res == nil {
		return models.GARCHParameters{}, &models.NonConvergenceError{Status: "failure", Err: err}
	}

	gradNorm := floats.Norm(fd.Gradient(nil, objective, res.X, fdSettings), 2)
	diag := models.FitDiagnostics{
		Method:          e.cfg.Method,
		Status:          res.Status.String(),
		Iterations:      res.Stats.MajorIterations,
		FuncEvaluations: res.Stats.FuncEvaluations,
		GradientNorm:    gradNorm,
		Runtime:         res.Stats.Runtime,
	}

	// A search drifting towards α+β=1 may run out of budget before it
	// settles; either way the optimum lies outside the stationary region.
	w, alpha, beta := toParams(res.X)
	omega := w * s2
	if alpha+beta >= 1-e.cfg.BoundaryTolerance {
		return models.GARCHParameters{}, &models.ConstraintViolationError{
			Omega: omega, Alpha: alpha, Beta: beta, Reason: "persistence on the stationarity boundary",
		}
	}
	if pushesTowardBoundary(w, alpha, beta, scaled) {
		return models.GARCHParameters{}, &models.ConstraintViolationError{
			Omega: omega, Alpha: alpha, Beta: beta, Reason: "likelihood increases towards alpha+beta=1",
		}
	}

	if !e.accept(res.Status, err, gradNorm) {
		return models.GARCHParameters{}, &models.NonConvergenceError{
			Status:       diag.Status,
			Iterations:   diag.Iterations,
			GradientNorm: gradNorm,
			Err:          err,
		}
	}

	if !(omega > 0) || math.IsInf(omega, 0) {
		return models.GARCHParameters{}, &models.ConstraintViolationError{
			Omega: omega, Alpha: alpha, Beta: beta, Reason: "omega collapsed to zero",
		}
	}

	ll, err := LogLikelihood(omega, alpha, beta, series.Residuals, s2)
	if err != nil {
		return models.GARCHParameters{}, err
	}
	variances, err := Filter(omega, alpha, beta, series.Residuals, s2)
	if err != nil {
		return models.GARCHParameters{}, err
	}

	return models.GARCHParameters{
		Zone:           series.Zone,
		EstimationDate: series.End().Add(models.HourStep),
		WindowEnd:      series.End(),
		Omega:          omega,
		Alpha:          alpha,
		Beta:           beta,
		LogLikelihood:  ll,
		Converged:      true,
		SampleSize:     n,
		LastResidual:   series.Residuals[n-1],
		LastVariance:   variances[n-1],
		Diagnostics:    diag,
	}, nil
}

// pushesTowardBoundary tests a high-persistence fit by moving α+β 90% of
// the remaining way to one at constant unconditional variance and α/β mix.
// The logistic transform flattens near the boundary, so the optimizer can
// stop there with a small gradient even though the likelihood still rises.
func pushesTowardBoundary(omega, alpha, beta float64, scaled []float64) bool {
	p := alpha + beta
	if p < highPersistence {
		return false
	}
	share := alpha / p
	q := 1 - (1-p)/10
	shifted := omega * (1 - q) / (1 - p)
	return negLogLik(shifted, q*share, q*(1-share), scaled, 1) < negLogLik(omega, alpha, beta, scaled, 1)
}

func (e *Estimator) method() optimize.Method {
	if strings.EqualFold(e.cfg.Method, MethodNelderMead) {
		return &optimize.NelderMead{}
	}
	return &optimize.BFGS{}
}

// budget is the configured timeout, shortened to the context deadline.
func (e *Estimator) budget(ctx context.Context) time.Duration {
	d := e.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < d {
			d = left
		}
	}
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// accept decides whether an optimizer outcome counts as converged. A stalled
// line search is accepted only at a near-stationary point.
func (e *Estimator) accept(status optimize.Status, err error, gradNorm float64) bool {
	if isBudgetStatus(status) {
		return false
	}
	if err == nil {
		switch status {
		case optimize.Success, optimize.FunctionThreshold, optimize.FunctionConvergence,
			optimize.GradientThreshold, optimize.StepConvergence, optimize.MethodConverge:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return gradNorm <= 100*e.cfg.GradientTolerance
}

func isBudgetStatus(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.RuntimeLimit, optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit, optimize.HessianEvaluationLimit:
		return true
	}
	return false
}

// Describe renders a fit in one line for logs.
func Describe(p models.GARCHParameters) string {
	return fmt.Sprintf("omega=%.3g alpha=%.4f beta=%.4f persistence=%.4f half_life=%.1fh ll=%.2f aic=%.2f bic=%.2f",
		p.Omega, p.Alpha, p.Beta, p.Persistence(), p.HalfLife(), p.LogLikelihood, p.AIC(), p.BIC())
}
