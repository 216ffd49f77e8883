package devices

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/sonos-fleet-go/internal/api"
	"github.com/strefethen/sonos-fleet-go/internal/apperrors"
)

const commandTimeout = 10 * time.Second

type volumeInput struct {
	Volume *int `json:"volume"`
}

type muteInput struct {
	Muted *bool `json:"muted"`
}

type activeInput struct {
	Active *bool `json:"active"`
}

type deviceResource struct {
	Object string `json:"object"`
	DeviceView
}

type groupResource struct {
	Object string `json:"object"`
	GroupView
}

func formatDevice(view DeviceView) deviceResource {
	return deviceResource{Object: "device", DeviceView: view}
}

func formatGroup(view GroupView) groupResource {
	return groupResource{Object: "group", GroupView: view}
}

// RegisterRoutes wires device, group and speaker-mode routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		views := service.DeviceViews()
		formatted := make([]deviceResource, 0, len(views))
		for _, view := range views {
			formatted = append(formatted, formatDevice(view))
		}
		return api.WriteList(w, "/v1/devices", formatted, false)
	}))

	router.Method(http.MethodPost, "/v1/devices/rescan", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if r.URL.Query().Get("wait") == "true" {
			result, err := service.Sweep(r.Context())
			if err != nil {
				return apperrors.NewInternalError("Device rescan interrupted")
			}
			return api.WriteAction(w, http.StatusOK, map[string]any{
				"object":       "sweep",
				"generation":   result.Generation,
				"outcome":      result.Outcome,
				"devices":      result.DeviceCount,
				"groups":       result.GroupCount,
				"added":        result.Added,
				"removed":      result.Removed,
				"duration_ms":  result.Duration().Milliseconds(),
				"completed_at": rfc3339Millis(result.FinishedAt),
			})
		}

		generation := service.SearchForDevices()
		return api.WriteAction(w, http.StatusAccepted, map[string]any{
			"object":     "sweep",
			"generation": generation,
			"outcome":    "started",
		})
	}))

	router.Method(http.MethodGet, "/v1/devices/{udn}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		device, err := lookupDevice(service, r)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatDevice(device.View()))
	}))

	router.Method(http.MethodPost, "/v1/devices/{udn}/volume", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		device, err := lookupDevice(service, r)
		if err != nil {
			return err
		}
		volume, err := decodeVolume(r)
		if err != nil {
			return err
		}
		device.SetVolume(volume)
		service.PublishState()
		return api.WriteResource(w, http.StatusOK, formatDevice(device.View()))
	}))

	router.Method(http.MethodPost, "/v1/devices/{udn}/mute", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		device, err := lookupDevice(service, r)
		if err != nil {
			return err
		}
		var input muteInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		if input.Muted == nil {
			return apperrors.NewValidationError("muted is required", nil)
		}
		ctx, cancel := commandContext(r)
		defer cancel()
		if err := device.SetMute(ctx, *input.Muted); err != nil {
			return apperrors.FromSonosError(err, "Failed to set mute")
		}
		service.PublishState()
		return api.WriteResource(w, http.StatusOK, formatDevice(device.View()))
	}))

	router.Method(http.MethodPost, "/v1/devices/{udn}/refresh", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		ctx, cancel := commandContext(r)
		defer cancel()
		view, err := service.RefreshDevice(ctx, chi.URLParam(r, "udn"))
		if errors.Is(err, ErrDeviceNotFound) {
			return apperrors.NewDeviceNotFound(chi.URLParam(r, "udn"))
		}
		if err != nil {
			return apperrors.FromSonosError(err, "Device refresh incomplete")
		}
		return api.WriteResource(w, http.StatusOK, formatDevice(view))
	}))

	deviceTransport := map[string]func(*Device, context.Context) error{
		"play":     (*Device).Play,
		"pause":    (*Device).Pause,
		"next":     (*Device).Next,
		"previous": (*Device).Previous,
	}
	for name, cmd := range deviceTransport {
		router.Method(http.MethodPost, "/v1/devices/{udn}/"+name, api.Handler(func(w http.ResponseWriter, r *http.Request) error {
			device, err := lookupDevice(service, r)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(r)
			defer cancel()
			if err := cmd(device, ctx); err != nil {
				return apperrors.FromSonosError(err, "Failed to "+name)
			}
			service.PublishState()
			return api.WriteResource(w, http.StatusOK, formatDevice(device.View()))
		}))
	}

	router.Method(http.MethodPut, "/v1/devices/{udn}/active", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		udn := chi.URLParam(r, "udn")
		var input activeInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		if input.Active == nil {
			return apperrors.NewValidationError("active is required", nil)
		}
		if err := service.SetDeviceActive(udn, *input.Active); err != nil {
			return apperrors.NewDeviceNotFound(udn)
		}
		device, err := service.Device(udn)
		if err != nil {
			return apperrors.NewDeviceNotFound(udn)
		}
		return api.WriteResource(w, http.StatusOK, formatDevice(device.View()))
	}))

	registerSpeakerRoutes(router, service)
	registerGroupRoutes(router, service)
}

// registerSpeakerRoutes wires the speaker-mode fan-out over active devices.
func registerSpeakerRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/speakers/volume", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		volume, err := decodeVolume(r)
		if err != nil {
			return err
		}
		count := service.SetActiveVolume(volume)
		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":  "speaker_command",
			"command": "volume",
			"volume":  clampVolume(volume),
			"targets": count,
		})
	}))

	speakerTransport := map[string]func(*Service, context.Context) (int, error){
		"play":     (*Service).PlayActive,
		"pause":    (*Service).PauseActive,
		"next":     (*Service).NextActive,
		"previous": (*Service).PreviousActive,
	}
	for name, cmd := range speakerTransport {
		router.Method(http.MethodPost, "/v1/speakers/"+name, api.Handler(func(w http.ResponseWriter, r *http.Request) error {
			ctx, cancel := commandContext(r)
			defer cancel()
			count, err := cmd(service, ctx)
			if err != nil {
				return apperrors.FromSonosError(err, "Failed to "+name)
			}
			return api.WriteAction(w, http.StatusOK, map[string]any{
				"object":  "speaker_command",
				"command": name,
				"targets": count,
			})
		}))
	}
}

func registerGroupRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/groups", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		views := service.GroupViews()
		formatted := make([]groupResource, 0, len(views))
		for _, view := range views {
			formatted = append(formatted, formatGroup(view))
		}
		return api.WriteList(w, "/v1/groups", formatted, false)
	}))

	router.Method(http.MethodGet, "/v1/groups/active", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		group := service.ActiveGroup()
		if group == nil {
			return apperrors.NewAppError(apperrors.ErrorCodeNoGroups, "No groups discovered", http.StatusNotFound, nil)
		}
		return api.WriteResource(w, http.StatusOK, formatGroup(group.View()))
	}))

	router.Method(http.MethodGet, "/v1/groups/{group_id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		group, err := lookupGroup(service, r)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, formatGroup(group.View()))
	}))

	router.Method(http.MethodPost, "/v1/groups/{group_id}/volume", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		group, err := lookupGroup(service, r)
		if err != nil {
			return err
		}
		volume, err := decodeVolume(r)
		if err != nil {
			return err
		}
		group.SetVolume(volume)
		service.PublishState()
		return api.WriteResource(w, http.StatusOK, formatGroup(group.View()))
	}))

	router.Method(http.MethodPost, "/v1/groups/{group_id}/mute", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		group, err := lookupGroup(service, r)
		if err != nil {
			return err
		}
		var input muteInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		if input.Muted == nil {
			return apperrors.NewValidationError("muted is required", nil)
		}
		ctx, cancel := commandContext(r)
		defer cancel()
		if err := group.SetMute(ctx, *input.Muted); err != nil {
			return apperrors.FromSonosError(err, "Failed to set group mute")
		}
		service.PublishState()
		return api.WriteResource(w, http.StatusOK, formatGroup(group.View()))
	}))

	groupTransport := map[string]func(*Group, context.Context) error{
		"play":     (*Group).Play,
		"pause":    (*Group).Pause,
		"next":     (*Group).Next,
		"previous": (*Group).Previous,
	}
	for name, cmd := range groupTransport {
		router.Method(http.MethodPost, "/v1/groups/{group_id}/"+name, api.Handler(func(w http.ResponseWriter, r *http.Request) error {
			group, err := lookupGroup(service, r)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(r)
			defer cancel()
			if err := cmd(group, ctx); err != nil {
				return apperrors.FromSonosError(err, "Failed to "+name+" group")
			}
			service.PublishState()
			return api.WriteResource(w, http.StatusOK, formatGroup(group.View()))
		}))
	}

	router.Method(http.MethodPut, "/v1/groups/{group_id}/active", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "group_id")
		var input activeInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}
		if input.Active == nil {
			return apperrors.NewValidationError("active is required", nil)
		}
		if err := service.SetGroupActive(id, *input.Active); err != nil {
			return apperrors.NewGroupNotFound(id)
		}
		group, err := service.Group(id)
		if err != nil {
			return apperrors.NewGroupNotFound(id)
		}
		return api.WriteResource(w, http.StatusOK, formatGroup(group.View()))
	}))
}

func lookupDevice(service *Service, r *http.Request) (*Device, error) {
	udn := chi.URLParam(r, "udn")
	device, err := service.Device(udn)
	if err != nil {
		return nil, apperrors.NewDeviceNotFound(udn)
	}
	return device, nil
}

func lookupGroup(service *Service, r *http.Request) (*Group, error) {
	id := chi.URLParam(r, "group_id")
	group, err := service.Group(id)
	if err != nil {
		return nil, apperrors.NewGroupNotFound(id)
	}
	return group, nil
}

func decodeVolume(r *http.Request) (int, error) {
	var input volumeInput
	if err := api.DecodeJSON(r, &input); err != nil {
		return 0, err
	}
	if input.Volume == nil {
		return 0, apperrors.NewValidationError("volume is required", nil)
	}
	return *input.Volume, nil
}

func commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), commandTimeout)
}
