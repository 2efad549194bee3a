package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Each typed error below matches exactly one.
var (
	ErrInvalidPrice        = errors.New("invalid price")
	ErrGapDetected         = errors.New("gap detected")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrNonConvergence      = errors.New("optimizer did not converge")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrDegenerateModel     = errors.New("degenerate model")
	ErrNonFinite           = errors.New("non-finite value")
)

// InvalidPriceError reports a price the log transform cannot take.
type InvalidPriceError struct {
	Index     int
	Timestamp time.Time
	Price     float64
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price %g at index %d (%s)", e.Price, e.Index, e.Timestamp.Format(time.RFC3339))
}

func (e *InvalidPriceError) Is(target error) bool { return target == ErrInvalidPrice }

// GapDetectedError reports two neighbours that are not exactly one hour apart.
type GapDetectedError struct {
	Index    int
	Previous time.Time
	Current  time.Time
}

func (e *GapDetectedError) Error() string {
	return fmt.Sprintf("gap detected at index %d: %s -> %s (%s)",
		e.Index, e.Previous.Format(time.RFC3339), e.Current.Format(time.RFC3339), e.Current.Sub(e.Previous))
}

func (e *GapDetectedError) Is(target error) bool { return target == ErrGapDetected }

// InsufficientDataError means a window is too short, or too flat, to fit.
type InsufficientDataError struct {
	Have   int
	Need   int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("insufficient data: %s (have %d, need %d)", e.Reason, e.Have, e.Need)
	}
	return fmt.Sprintf("insufficient data: have %d observations, need %d", e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// InsufficientHistoryError is returned by the backtest when the history does
// not cover the lookback plus the requested test days.
type InsufficientHistoryError struct {
	Have int
	Need int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history: have %d returns, need %d", e.Have, e.Need)
}

func (e *InsufficientHistoryError) Is(target error) bool { return target == ErrInsufficientHistory }

// NonConvergenceError carries the optimizer status of a fit that ran out of
// budget. Err is the optimizer's own error, if any.
type NonConvergenceError struct {
	Status       string
	Iterations   int
	GradientNorm float64
	Err          error
}

func (e *NonConvergenceError) Error() string {
	msg := fmt.Sprintf("optimizer did not converge: status=%s iterations=%d gradient_norm=%g",
		e.Status, e.Iterations, e.GradientNorm)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NonConvergenceError) Is(target error) bool { return target == ErrNonConvergence }

func (e *NonConvergenceError) Unwrap() error { return e.Err }

// ConstraintViolationError means the likelihood is maximised on the edge
// of the stationarity region: the series is not described by GARCH(1,1).
type ConstraintViolationError struct {
	Omega  float64
	Alpha  float64
	Beta   float64
	Reason string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation: %s (omega=%g alpha=%g beta=%g)", e.Reason, e.Omega, e.Alpha, e.Beta)
}

func (e *ConstraintViolationError) Is(target error) bool { return target == ErrConstraintViolation }

// DegenerateModelError guards forecasting against parameters with α+β ≥ 1.
type DegenerateModelError struct {
	Omega float64
	Alpha float64
	Beta  float64
}

func (e *DegenerateModelError) Error() string {
	return fmt.Sprintf("degenerate model: omega=%g alpha=%g beta=%g (alpha+beta=%g)",
		e.Omega, e.Alpha, e.Beta, e.Alpha+e.Beta)
}

func (e *DegenerateModelError) Is(target error) bool { return target == ErrDegenerateModel }

// NonFiniteError reports a NaN or Inf produced at Stage.
type NonFiniteError struct {
	Stage string
	Index int
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("non-finite value in %s at index %d", e.Stage, e.Index)
}

func (e *NonFiniteError) Is(target error) bool { return target == ErrNonFinite }

// IsInputError reports errors caused by the data handed to the core rather
// than by the model.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrGapDetected) ||
		errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrInsufficientHistory)
}

// IsEstimationError reports failures a refit policy may fall back from.
func IsEstimationError(err error) bool {
	return errors.Is(err, ErrNonConvergence) || errors.Is(err, ErrConstraintViolation)
}
