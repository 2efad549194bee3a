package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(t *testing.T, write func(c echo.Context) error) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, write(c))

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestAppErrorResponse(t *testing.T) {
	t.Run("app error keeps its status", func(t *testing.T) {
		rec, body := respond(t, func(c echo.Context) error {
			return AppErrorResponse(c, NotFoundErrorf("zone %s is not configured", "XX"))
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, http.StatusNotFound, body.Status)
		errs, ok := body.Data.([]interface{})
		require.True(t, ok)
		require.Len(t, errs, 1)
		assert.Equal(t, "ERR_NOT_FOUND", errs[0].(map[string]interface{})["code"])
	})

	t.Run("wrapped app error", func(t *testing.T) {
		rec, _ := respond(t, func(c echo.Context) error {
			return AppErrorResponse(c, errors.Join(errors.New("ctx"), BadRequestError("bad date")))
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("plain error is internal", func(t *testing.T) {
		rec, body := respond(t, func(c echo.Context) error {
			return AppErrorResponse(c, errors.New("boom"))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "Something went wrong", body.Data)
	})
}

func TestListResponse(t *testing.T) {
	rec, body := respond(t, func(c echo.Context) error {
		return ListResponse(c, []string{"NO1", "SE3"}, 2)
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, data["total"])
}
