package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Zone string `json:"zone" validate:"required,zone"`
	Days int    `json:"test_days" default:"30" validate:"gte=2,lte=365"`
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func bindJSON(t *testing.T, body string, req interface{}) interface{} {
	t.Helper()
	e := echo.New()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return ReadAndValidateRequest(e.NewContext(r, httptest.NewRecorder()), req)
}

func TestReadAndValidateRequest_Defaults(t *testing.T) {
	req := &sampleRequest{}
	assert.Nil(t, bindJSON(t, `{"zone":"DE_LU"}`, req))
	assert.Equal(t, 30, req.Days)
}

func TestReadAndValidateRequest_FieldErrors(t *testing.T) {
	verr := bindJSON(t, `{"zone":"9x","test_days":1,"date":"01/02/2024"}`, &sampleRequest{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)

	byField := make(map[string]ValidationError, len(errs))
	for _, e := range errs {
		byField[e.Field] = e
	}
	require.Len(t, byField, 3)
	assert.Equal(t, "ERR_ZONE", byField["zone"].Code)
	assert.Equal(t, "ERR_GTE", byField["test_days"].Code)
	assert.Equal(t, "2", byField["test_days"].Params["min"])
	assert.Equal(t, "ERR_DATETIME", byField["date"].Code)
}

func TestReadAndValidateRequest_BindError(t *testing.T) {
	verr := bindJSON(t, `{"zone":`, &sampleRequest{})
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
}
