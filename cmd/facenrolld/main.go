package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/hnrobert/facenroll/internal/datadir"
	"github.com/hnrobert/facenroll/internal/logger"
	"github.com/hnrobert/facenroll/internal/server"
)

const pruneInterval = 6 * time.Hour

func main() {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(os.Getenv("FACENROLL_LOG_LEVEL")))
	dataDir := getenvDefault("FACENROLL_DATA_DIR", datadir.DefaultRoot)
	if err := logger.Init(dataDir); err != nil {
		logger.Warn("file logging disabled: %v", err)
	}
	defer logger.Close()

	addr := getenvDefault("FACENROLL_LISTEN", ":14393")
	srv, err := server.New(server.Config{
		ListenAddr: addr,
		DataDir:    datadir.Dir(dataDir),
		JWTSecret:  os.Getenv("FACENROLL_JWT_SECRET"),
		RosterPath: os.Getenv("FACENROLL_ROSTER"),
		AllowCIDRs: splitList(os.Getenv("FACENROLL_ALLOW_ADDRESSES")),
	})
	if err != nil {
		logger.Error("startup failed: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("facenroll listening on %s (data in %s)", addr, dataDir)
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		t := time.NewTicker(pruneInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if err := srv.PruneHistory(); err != nil {
					logger.Warn("history prune failed: %v", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("facenroll stopped")
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
