package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hnrobert/facenroll/internal/datadir"
)

type Config struct {
	ListenAddr string
	DataDir    datadir.Dir
	// JWTSecret is base64url or raw text; empty means an ephemeral secret.
	JWTSecret  string
	SessionTTL time.Duration
	// RosterPath is an optional YAML roster; empty disables /api/roster.
	RosterPath string
	// AllowCIDRs extend the private ranges devices may live in.
	AllowCIDRs []string
}

type Server struct {
	cfg     Config
	app     *App
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	app, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg: cfg,
		app: app,
		httpSrv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           app.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// PruneHistory applies the configured retention to run history.
func (s *Server) PruneHistory() error {
	cfg, err := s.app.cfg.Get()
	if err != nil {
		return err
	}
	return s.app.history.Prune(cfg.HistoryRetentionDays)
}
