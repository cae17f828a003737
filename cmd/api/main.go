package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plantops.org/internal/auth"
	"plantops.org/internal/config"
	"plantops.org/internal/httpapi"
	"plantops.org/internal/obs"
	"plantops.org/internal/plant"
	"plantops.org/internal/store/pg"
	"plantops.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()

	var (
		plantSvc plant.Service
		probe    httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		plantSvc = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		plantSvc = plant.NewInMemory()
	}

	authSvc := auth.NewService(auth.NewInMemoryUsers(), auth.WithTokenTTL(cfg.TokenTTL))
	events := stream.New()

	api := httpapi.New(probe, version, authSvc, plantSvc, events)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)
	api.SetMaxBody(cfg.MaxBody)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0: /events/stream holds connections open.
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting plantops-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
