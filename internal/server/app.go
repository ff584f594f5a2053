package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/hnrobert/facenroll/internal/auth"
	"github.com/hnrobert/facenroll/internal/config"
	"github.com/hnrobert/facenroll/internal/datadir"
	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/enroll"
	"github.com/hnrobert/facenroll/internal/history"
	"github.com/hnrobert/facenroll/internal/invite"
	"github.com/hnrobert/facenroll/internal/isapi"
	"github.com/hnrobert/facenroll/internal/logger"
	"github.com/hnrobert/facenroll/internal/photo"
	"github.com/hnrobert/facenroll/internal/roster"
	"github.com/hnrobert/facenroll/internal/staff"
)

const bootstrapAdmin = "admin"

type App struct {
	sessions   *auth.Sessions
	cookieName string
	staff      *staff.Store
	invites    *invite.Store
	cfg        *config.Store
	history    *history.Store
	roster     roster.Roster
	allow      *isapi.AllowList
	initialPW  string

	// client holds the process-wide challenge cache.
	client  *digest.Client
	photos  func(config.Config) photo.Store
	devices *deviceLocks
}

func newApp(c Config) (*App, error) {
	secretText := c.JWTSecret
	if secretText == "" {
		// Generate ephemeral secret if not configured.
		s, err := auth.NewRandomSecretB64(32)
		if err != nil {
			return nil, err
		}
		secretText = s
		logger.Warn("FACENROLL_JWT_SECRET not set; sessions will not survive a restart")
	}
	secretRaw, err := base64.RawURLEncoding.DecodeString(secretText)
	if err != nil {
		secretRaw = []byte(secretText)
	}
	if len(secretRaw) < 16 {
		pad := make([]byte, 16)
		copy(pad, secretRaw)
		secretRaw = pad
	}

	allow, err := isapi.NewAllowList(c.AllowCIDRs...)
	if err != nil {
		return nil, err
	}

	dir := c.DataDir
	cfgStore := config.NewStore(dir.MustPath(datadir.ConfigRel))
	if err := cfgStore.Ensure(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	hist := history.NewStore(dir.MustPath(datadir.HistoryRel))
	if err := hist.Load(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	staffStore := staff.NewStore(dir.MustPath(datadir.StaffRel))
	initialPW := dir.MustPath(datadir.InitialPasswordRel)
	if pw, created, err := staffStore.Bootstrap(bootstrapAdmin); err != nil {
		return nil, fmt.Errorf("staff: %w", err)
	} else if created {
		if err := datadir.WriteFileAtomic(initialPW, []byte(pw+"\n"), datadir.PermPrivate); err != nil {
			return nil, fmt.Errorf("staff: store initial password: %w", err)
		}
		logger.Warn("created initial staff account %q; its password is in %s until changed", bootstrapAdmin, initialPW)
	}

	rosterPath := strings.TrimSpace(c.RosterPath)
	if rosterPath == "" {
		if p := dir.MustPath(datadir.RosterRel); fileExists(p) {
			rosterPath = p
		}
	}
	var rost roster.Roster
	if rosterPath != "" {
		rost = roster.NewFile(rosterPath)
		logger.Info("using roster %s", rosterPath)
	}

	return &App{
		sessions:   auth.NewSessions(secretRaw, c.SessionTTL),
		cookieName: auth.DefaultCookieName,
		staff:      staffStore,
		invites:    invite.NewStore(dir.MustPath(datadir.InvitesRel)),
		cfg:        cfgStore,
		history:    hist,
		roster:     rost,
		allow:      allow,
		initialPW:  initialPW,
		client:     digest.NewClient(digest.NewMemoryCache()),
		photos:     func(cfg config.Config) photo.Store { return photo.NewHTTPStore(cfg.Photo.Options()) },
		devices:    newDeviceLocks(),
	}, nil
}

// gateway builds a gateway from the current settings.
func (a *App) gateway(cfg config.Config) *isapi.Gateway {
	return isapi.New(a.client, cfg.Device.GatewayOptions(a.allow))
}

func (a *App) orchestrator(cfg config.Config) *enroll.Orchestrator {
	return enroll.New(a.gateway(cfg), a.photos(cfg))
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", a.handleLogin)
	mux.HandleFunc("POST /api/register", a.handleRegister)
	mux.HandleFunc("POST /api/logout", a.requireAuth(a.handleLogout))
	mux.HandleFunc("GET /api/me", a.requireAuth(a.handleMe))
	mux.HandleFunc("POST /api/me/password", a.requireAuth(a.handleChangePassword))

	mux.HandleFunc("POST /api/device/connect", a.requireAuth(a.handleConnect))
	mux.HandleFunc("POST /api/device/users", a.requireAuth(a.handleListUsers))
	mux.HandleFunc("POST /api/enroll/batch", a.requireAuth(a.handleBatchEnroll))
	mux.HandleFunc("POST /api/enroll/single", a.requireAuth(a.handleEnrollSingle))
	mux.HandleFunc("POST /api/users/delete", a.requireAuth(a.handleDeleteUser))
	mux.HandleFunc("POST /api/users/bulk-delete", a.requireAuth(a.handleBulkDelete))

	mux.HandleFunc("GET /api/roster", a.requireAuth(a.handleRoster))
	mux.HandleFunc("GET /api/history", a.requireAuth(a.handleHistory))
	mux.HandleFunc("GET /api/history/{id}", a.requireAuth(a.handleHistoryGet))
	mux.HandleFunc("GET /report/{id}", a.requireAuth(a.handleReport))

	mux.HandleFunc("GET /api/settings", a.requireAdmin(a.handleSettingsGet))
	mux.HandleFunc("POST /api/settings", a.requireAdmin(a.handleSettingsSet))
	mux.HandleFunc("POST /api/settings/notice", a.requireAdmin(a.handleNoticeSet))
	mux.HandleFunc("GET /api/staff", a.requireAdmin(a.handleStaffList))
	mux.HandleFunc("POST /api/staff", a.requireAdmin(a.handleStaffAdd))
	mux.HandleFunc("POST /api/staff/delete", a.requireAdmin(a.handleStaffDelete))
	mux.HandleFunc("GET /api/invites", a.requireAdmin(a.handleInviteList))
	mux.HandleFunc("POST /api/invites", a.requireAdmin(a.handleInviteCreate))
	mux.HandleFunc("POST /api/invites/delete", a.requireAdmin(a.handleInviteDelete))

	mux.HandleFunc("GET /api/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})

	return a.withAuthContext(mux)
}

func (a *App) issueCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.sessions.TTL().Seconds()),
	})
}

func (a *App) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// deviceLocks serialises runs against one device address; the terminal
// handles one request at a time.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: map[string]chan struct{}{}}
}

func (d *deviceLocks) acquire(ctx context.Context, address string) (release func(), err error) {
	d.mu.Lock()
	ch, ok := d.locks[address]
	if !ok {
		ch = make(chan struct{}, 1)
		d.locks[address] = ch
	}
	d.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
