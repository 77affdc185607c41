package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"Evergreen.telemetry/internal/models"
	"github.com/rs/zerolog/log"
)

// RespondWithError sends a JSON error response using the APIError model.
func RespondWithError(writer http.ResponseWriter, apiErr models.APIError) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(apiErr.StatusCode)

	if err := json.NewEncoder(writer).Encode(apiErr); err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}

// RespondWithJSON sends a JSON success response.
func RespondWithJSON(writer http.ResponseWriter, statusCode int, payload interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(writer).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

var serviceErrors = []struct {
	target error
	code   models.ErrorCode
	status int
}{
	{models.ErrMalformedPayload, models.ErrorCodeMalformedPayload, http.StatusBadRequest},
	{models.ErrInvalidRange, models.ErrorCodeInvalidRange, http.StatusBadRequest},
	{models.ErrInvalidRequest, models.ErrorCodeBadRequest, http.StatusBadRequest},
	{models.ErrUnknownUser, models.ErrorCodeUnauthorized, http.StatusUnauthorized},
	{models.ErrAccessDenied, models.ErrorCodeAccessDenied, http.StatusForbidden},
	{models.ErrNoData, models.ErrorCodeNoData, http.StatusNotFound},
	{models.ErrNotFound, models.ErrorCodeResourceNotFound, http.StatusNotFound},
	{models.ErrDuplicate, models.ErrorCodeDuplicateResource, http.StatusConflict},
	{models.ErrStorageUnavailable, models.ErrorCodeStorageUnavailable, http.StatusServiceUnavailable},
}

// APIErrorFor maps a service error onto its API error.
func APIErrorFor(err error) models.APIError {
	for _, e := range serviceErrors {
		if errors.Is(err, e.target) {
			return models.NewAPIError(e.code, err.Error(), nil, e.status)
		}
	}
	return models.NewAPIError(models.ErrorCodeInternalServerError, "internal server error", nil, http.StatusInternalServerError)
}

// RespondWithServiceError writes err as an API error. Unrecognized errors are
// logged and reported as a bare 500.
func RespondWithServiceError(writer http.ResponseWriter, err error) {
	apiErr := APIErrorFor(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", apiErr.StatusCode).Msg("request failed")
	}
	RespondWithError(writer, apiErr)
}
