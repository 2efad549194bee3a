package api

import (
	"errors"
	"net/http"

	models "GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
	"GridVol/internal/usecase"
	xhttp "GridVol/pkg/http"
	"GridVol/pkg/queue"
)

// toAppError maps domain failures to HTTP statuses. Input problems with the
// stored history are 422, the caller's own mistakes are 400.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, domrepo.ErrNotFound), errors.Is(err, queue.ErrJobNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, usecase.ErrRunInProgress):
		return xhttp.NewAppError("ERR_CONFLICT", "", err.Error(), http.StatusConflict).WithError(err)
	case errors.Is(err, usecase.ErrInvalidPrices):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrInvalidPrice),
		errors.Is(err, models.ErrGapDetected),
		errors.Is(err, models.ErrInsufficientData),
		errors.Is(err, models.ErrInsufficientHistory):
		return withCounts(xhttp.NewAppError("ERR_UNPROCESSABLE", "", err.Error(), http.StatusUnprocessableEntity).WithError(err), err)
	case errors.Is(err, models.ErrNonConvergence),
		errors.Is(err, models.ErrConstraintViolation),
		errors.Is(err, models.ErrDegenerateModel),
		errors.Is(err, models.ErrNonFinite):
		return xhttp.NewAppError("ERR_ESTIMATION", "", err.Error(), http.StatusUnprocessableEntity).WithError(err)
	}
	return xhttp.InternalError("internal error").WithError(err)
}

// withCounts exposes how much history was available against what was needed.
func withCounts(appErr *xhttp.AppError, err error) *xhttp.AppError {
	var data *models.InsufficientDataError
	if errors.As(err, &data) {
		return appErr.WithParam("have", data.Have).WithParam("need", data.Need)
	}
	var hist *models.InsufficientHistoryError
	if errors.As(err, &hist) {
		return appErr.WithParam("have", hist.Have).WithParam("need", hist.Need)
	}
	return appErr
}

func errJobsDisabled() *xhttp.AppError {
	return xhttp.NewAppError("ERR_UNAVAILABLE", "", "background jobs are disabled", http.StatusServiceUnavailable)
}
