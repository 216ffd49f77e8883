package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/sonos-fleet-go/internal/apperrors"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	req.Header.Set(RequestIDHeader, "has space")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.NotEqual(t, "has space", seen)
	require.Len(t, seen, 36)

	req = httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("a", maxRequestIDLength+1))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Len(t, seen, 36)
}

func TestHandler_WritesStripeErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		kind   string
	}{
		{"validation", apperrors.NewValidationError("volume is required", nil), 400, "VALIDATION_ERROR", "invalid_request_error"},
		{"device", apperrors.NewDeviceNotFound("uuid:x"), 404, "DEVICE_NOT_FOUND", "invalid_request_error"},
		{"plain", errors.New("boom"), 500, "INTERNAL_ERROR", "api_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := Handler(func(w http.ResponseWriter, r *http.Request) error {
				return tc.err
			})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			require.Equal(t, tc.status, rec.Code)
			var body StripeErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			require.Equal(t, tc.code, body.Error.Code)
			require.Equal(t, apperrors.ErrorType(tc.kind), body.Error.Type)
		})
	}
}

func TestRecovererMiddleware(t *testing.T) {
	handler := RecovererMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	var dst struct {
		Volume int `json:"volume"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"volume":3,"loud":true}`))
	err := DecodeJSON(req, &dst)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusBadRequest, appErr.StatusCode)
}
