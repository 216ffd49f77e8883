package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strefethen/sonos-fleet-go/internal/api"
	"github.com/strefethen/sonos-fleet-go/internal/audit"
	"github.com/strefethen/sonos-fleet-go/internal/config"
	"github.com/strefethen/sonos-fleet-go/internal/db"
	"github.com/strefethen/sonos-fleet-go/internal/devices"
	"github.com/strefethen/sonos-fleet-go/internal/discovery"
	"github.com/strefethen/sonos-fleet-go/internal/events"
	"github.com/strefethen/sonos-fleet-go/internal/sonos/soap"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// DisableDiscovery skips the initial sweep and the rescan schedule.
	DisableDiscovery bool
	// Discoverer overrides the backend chosen from the configuration.
	Discoverer discovery.Discoverer
}

// NewDiscoverer builds the discovery backend selected by cfg.DiscoveryMode.
func NewDiscoverer(cfg config.Config, logger *log.Logger) discovery.Discoverer {
	ssdp := discovery.NewSSDPDiscoverer(cfg.SSDPDiscoveryPasses, time.Duration(cfg.SSDPPassIntervalMs)*time.Millisecond, logger)
	mdns := discovery.NewMDNSDiscoverer(cfg.SonosPort, logger)

	switch cfg.DiscoveryMode {
	case config.DiscoveryModeMDNS:
		return mdns
	case config.DiscoveryModeStatic:
		return &discovery.StaticDiscoverer{IPs: cfg.StaticDeviceIPs, Port: cfg.SonosPort}
	case config.DiscoveryModeAll:
		backends := []discovery.Discoverer{ssdp, mdns}
		if len(cfg.StaticDeviceIPs) > 0 {
			backends = append(backends, &discovery.StaticDiscoverer{IPs: cfg.StaticDeviceIPs, Port: cfg.SonosPort})
		}
		return &discovery.MultiDiscoverer{Backends: backends}
	default:
		return ssdp
	}
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)

	var metrics *devices.Metrics
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = devices.NewMetrics(registry)
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	discoverer := options.Discoverer
	if discoverer == nil && !cfg.DemoMode {
		discoverer = NewDiscoverer(cfg, nil)
	}

	soapClient := soap.NewClient(time.Duration(cfg.SonosTimeoutMs)*time.Millisecond, nil)
	prober := discovery.NewProber(time.Duration(cfg.SonosTimeoutMs) * time.Millisecond)
	deviceService := devices.NewService(cfg, nil, soapClient, prober, discoverer, metrics)

	// The hub caches fleet state from notifications, so it subscribes first.
	hub := events.NewHub(nil)
	deviceService.Subscribe(hub)
	events.RegisterRoutes(router, hub)

	var sweepLog *audit.Service
	var dbPair *db.DBPair
	if cfg.SQLiteDBPath != "" {
		log.Printf("Using database: %s", cfg.SQLiteDBPath)
		pair, err := db.Init(cfg.SQLiteDBPath)
		if err != nil {
			hub.Close()
			return nil, nil, err
		}
		dbPair = pair
		sweepLog = audit.NewService(dbPair, cfg.SweepLogRetention, nil)
		sweepLog.Start()
		deviceService.Subscribe(devices.ObserverFuncs{OnSweepCompleted: sweepLog.SweepCompleted})
		audit.RegisterRoutes(router, sweepLog)
	} else {
		log.Print("Sweep log disabled")
	}

	registerHealthRoutes(router, deviceService, sweepLog)
	devices.RegisterRoutes(router, deviceService)

	switch {
	case cfg.DemoMode:
		deviceService.LoadDemo()
	case options.DisableDiscovery:
	default:
		if err := deviceService.StartPeriodicDiscovery(); err != nil {
			hub.Close()
			if sweepLog != nil {
				sweepLog.Stop()
			}
			if dbPair != nil {
				dbPair.Close()
			}
			return nil, nil, err
		}
	}

	shutdown := func(ctx context.Context) error {
		deviceService.StopPeriodicDiscovery()
		hub.Close()
		if sweepLog != nil {
			sweepLog.Stop()
		}
		var errs []error
		if ctx != nil {
			errs = append(errs, ctx.Err())
		}
		if dbPair != nil {
			errs = append(errs, dbPair.Close())
		}
		return errors.Join(errs...)
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router, deviceService *devices.Service, sweepLog *audit.Service) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "sonos-fleet",
			"devices":   len(deviceService.Devices()),
			"groups":    len(deviceService.Groups()),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if last, ok := deviceService.LastSweep(); ok {
			response["last_sweep"] = map[string]any{
				"generation":  last.Generation,
				"outcome":     last.Outcome,
				"finished_at": last.FinishedAt.UTC().Format(time.RFC3339),
			}
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		checks := map[string]bool{"discovery": deviceService.IsHealthy()}
		if sweepLog != nil {
			checks["sweep_log"] = sweepLog.IsHealthy()
		}
		for _, ok := range checks {
			if !ok {
				return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": checks})
			}
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
	}))
}
