package api

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/strefethen/sonos-fleet-go/internal/apperrors"
)

// Handler adapts handlers that return errors into http.Handler.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler. Server-side failures are logged with the request ID.
func (handler Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := handler(w, r)
	if err == nil {
		return
	}
	appErr := apperrors.EnsureAppError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		log.Printf("API: %s %s request_id=%s status=%d code=%s: %v",
			r.Method, r.URL.Path, GetRequestID(r), appErr.StatusCode, appErr.Code, err)
	}
	WriteError(w, r, appErr)
}

// RecovererMiddleware converts panics into 500 responses.
func RecovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Printf("API: panic in %s %s request_id=%s: %v\n%s",
					r.Method, r.URL.Path, GetRequestID(r), recovered, debug.Stack())
				WriteError(w, r, apperrors.NewInternalError("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
