package audit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/sonos-fleet-go/internal/api"
	"github.com/strefethen/sonos-fleet-go/internal/apperrors"
	"github.com/strefethen/sonos-fleet-go/internal/devices"
)

var validOutcomes = map[string]bool{
	devices.SweepCompleted: true,
	devices.SweepAborted:   true,
	devices.SweepFailed:    true,
}

// RegisterRoutes wires sweep log routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/sweeps", api.Handler(querySweeps(service)))
	router.Method(http.MethodGet, "/v1/sweeps/{record_id}", api.Handler(getSweep(service)))
}

// GET /v1/sweeps
func querySweeps(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}

		records, _, hasMore, err := service.QueryRecords(filters)
		if err != nil {
			return apperrors.NewInternalError("Failed to query sweep log")
		}

		formatted := make([]map[string]any, 0, len(records))
		for _, record := range records {
			formatted = append(formatted, formatRecord(record))
		}
		return api.WriteList(w, "/v1/sweeps", formatted, hasMore)
	}
}

// GET /v1/sweeps/{record_id}
func getSweep(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		recordID := chi.URLParam(r, "record_id")

		record, err := service.GetRecord(recordID)
		if err != nil {
			var notFoundErr *RecordNotFoundError
			if errors.As(err, &notFoundErr) {
				return apperrors.NewNotFoundError("Sweep record not found", map[string]any{"record_id": recordID})
			}
			return apperrors.NewInternalError("Failed to get sweep record")
		}
		return api.WriteResource(w, http.StatusOK, formatRecord(*record))
	}
}

func parseQueryFilters(r *http.Request) (RecordQueryFilters, error) {
	query := r.URL.Query()
	var filters RecordQueryFilters

	if outcome := query.Get("outcome"); outcome != "" {
		if !validOutcomes[outcome] {
			return filters, apperrors.NewValidationError("invalid outcome", map[string]any{
				"outcome":        outcome,
				"valid_outcomes": []string{devices.SweepCompleted, devices.SweepAborted, devices.SweepFailed},
			})
		}
		filters.Outcome = &outcome
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filters, apperrors.NewValidationError("limit must be a positive integer", map[string]any{"limit": raw})
		}
		filters.Limit = limit
	}

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("offset must be a non-negative integer", map[string]any{"offset": raw})
		}
		filters.Offset = offset
	}

	return filters, nil
}

func formatRecord(record SweepRecord) map[string]any {
	formatted := map[string]any{
		"object":       "sweep_record",
		"id":           record.RecordID,
		"generation":   record.Generation,
		"started_at":   record.StartedAt.UTC().Format(timestampLayout),
		"finished_at":  record.FinishedAt.UTC().Format(timestampLayout),
		"duration_ms":  record.DurationMs(),
		"outcome":      record.Outcome,
		"found":        record.Found,
		"added":        record.Added,
		"removed":      record.Removed,
		"device_count": record.DeviceCount,
		"group_count":  record.GroupCount,
	}
	if record.Error != nil {
		formatted["error"] = *record.Error
	}
	return formatted
}
