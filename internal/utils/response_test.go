package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"Evergreen.telemetry/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorFor(t *testing.T) {
	for _, tc := range []struct {
		err    error
		status int
		code   models.ErrorCode
	}{
		{fmt.Errorf("%w: body", models.ErrMalformedPayload), http.StatusBadRequest, models.ErrorCodeMalformedPayload},
		{fmt.Errorf("%w: from after to", models.ErrInvalidRange), http.StatusBadRequest, models.ErrorCodeInvalidRange},
		{models.ErrAccessDenied, http.StatusForbidden, models.ErrorCodeAccessDenied},
		{models.ErrNoData, http.StatusNotFound, models.ErrorCodeNoData},
		{models.ErrUnknownUser, http.StatusUnauthorized, models.ErrorCodeUnauthorized},
		{models.ErrDuplicate, http.StatusConflict, models.ErrorCodeDuplicateResource},
		{fmt.Errorf("append reading: %w", models.ErrStorageUnavailable), http.StatusServiceUnavailable, models.ErrorCodeStorageUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError, models.ErrorCodeInternalServerError},
	} {
		apiErr := APIErrorFor(tc.err)
		assert.Equal(t, tc.status, apiErr.StatusCode, tc.err.Error())
		assert.Equal(t, tc.code, apiErr.Code, tc.err.Error())
	}
}

func TestRespondWithServiceErrorHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithServiceError(rec, errors.New("dial tcp 10.0.0.4:8086: refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body models.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.ErrorCodeInternalServerError, body.Code)
	assert.NotContains(t, body.Message, "10.0.0.4")
}

func TestRespondWithJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithJSON(rec, http.StatusCreated, map[string]string{"id": "r1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":"r1"}`, rec.Body.String())
}
