package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strefethen/sonos-fleet-go/internal/config"
	"github.com/strefethen/sonos-fleet-go/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	addr := cfg.Host + ":" + cfg.Port

	handler, shutdownHandler, err := server.NewHandler(cfg, server.Options{})
	if err != nil {
		log.Fatalf("server init error: %v", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// close websocket clients and stop sweeps before draining HTTP
		if err := shutdownHandler(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("sonos-fleet listening on %s (discovery=%s demo=%t)", addr, cfg.DiscoveryMode, cfg.DemoMode)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
