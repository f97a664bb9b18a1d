// Package main implements fakephoenix, a deterministic Phoenix-channels-style
// websocket responder for integration testing of realtime clients. It accepts
// websocket sessions, acknowledges phx_join, phx_leave and heartbeat frames,
// fans pushed events out to joined sessions, and optionally exposes a REST
// admin API for injecting events and inspecting topics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// CLI flags
// ---------------------------------------------------------------------------

var (
	flagListen  = flag.String("listen", "127.0.0.1:4000", "websocket listen address")
	flagPath    = flag.String("path", "/socket/websocket", "websocket endpoint path")
	flagAdmin   = flag.String("admin", "", "admin REST API listen address (e.g. ':4001')")
	flagRate    = flag.Float64("rate", 5000, "broadcast rate limit in events per second (0=unlimited)")
	flagBurst   = flag.Int("burst", 1000, "broadcast rate limit burst")
	flagVerbose = flag.Bool("v", false, "log at debug level")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakephoenix — Phoenix-channels websocket responder for integration testing\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

// ---------------------------------------------------------------------------
// main
// ---------------------------------------------------------------------------

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limit := rate.Limit(*flagRate)
	if *flagRate <= 0 {
		limit = rate.Inf
	}
	hub := newHub(rate.NewLimiter(limit, *flagBurst), logger)

	mux := http.NewServeMux()
	mux.HandleFunc(*flagPath, hub.handleSocket)
	server := &http.Server{Addr: *flagListen, Handler: mux}

	var admin *http.Server
	if *flagAdmin != "" {
		admin = &http.Server{Addr: *flagAdmin, Handler: newAdminRouter(hub)}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("fakephoenix listening", "addr", *flagListen, "path", *flagPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if admin != nil {
		group.Go(func() error {
			logger.Info("fakephoenix admin API listening", "addr", *flagAdmin)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("fakephoenix shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if admin != nil {
			_ = admin.Shutdown(shutdownCtx)
		}
		err := server.Shutdown(shutdownCtx)
		hub.closeAll()
		return err
	})

	if err := group.Wait(); err != nil {
		logger.Error("fakephoenix failed", "error", err)
		os.Exit(1)
	}
	logger.Info("fakephoenix stopped")
}
