package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	models "GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
	"GridVol/internal/usecase"
	xhttp "GridVol/pkg/http"
	"GridVol/pkg/queue"
)

func TestToAppError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"app error passthrough", xhttp.BadRequestError("bad"), http.StatusBadRequest, "ERR_BAD_REQUEST"},
		{"missing record", fmt.Errorf("latest: %w", domrepo.ErrNotFound), http.StatusNotFound, "ERR_NOT_FOUND"},
		{"missing job", queue.ErrJobNotFound, http.StatusNotFound, "ERR_NOT_FOUND"},
		{"run lock held", usecase.ErrRunInProgress, http.StatusConflict, "ERR_CONFLICT"},
		{"bad prices", fmt.Errorf("%w: empty", usecase.ErrInvalidPrices), http.StatusBadRequest, "ERR_BAD_REQUEST"},
		{"gap", &models.GapDetectedError{Index: 2}, http.StatusUnprocessableEntity, "ERR_UNPROCESSABLE"},
		{"not converged", &models.NonConvergenceError{Status: "IterationLimit"}, http.StatusUnprocessableEntity, "ERR_ESTIMATION"},
		{"non finite", &models.NonFiniteError{Stage: "variance"}, http.StatusUnprocessableEntity, "ERR_ESTIMATION"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := toAppError(tc.err)
			assert.Equal(t, tc.status, got.Status)
			assert.Equal(t, tc.code, got.Code)
		})
	}
}

func TestToAppError_InsufficientCounts(t *testing.T) {
	got := toAppError(fmt.Errorf("zone NO1: %w", &models.InsufficientDataError{Have: 10, Need: 500}))
	assert.Equal(t, http.StatusUnprocessableEntity, got.Status)
	assert.Equal(t, 10, got.Params["have"])
	assert.Equal(t, 500, got.Params["need"])

	got = toAppError(&models.InsufficientHistoryError{Have: 3, Need: 31})
	assert.Equal(t, 31, got.Params["need"])
}
