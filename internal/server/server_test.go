package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/facenroll/internal/config"
	"github.com/hnrobert/facenroll/internal/datadir"
	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/enroll"
	"github.com/hnrobert/facenroll/internal/invite"
	"github.com/hnrobert/facenroll/internal/isapi/isapitest"
	"github.com/hnrobert/facenroll/internal/logger"
	"github.com/hnrobert/facenroll/internal/photo"
	"github.com/hnrobert/facenroll/internal/staff"
)

func init() {
	logger.SetOutput(nil)
}

const testRoster = `classes:
  - name: 7A
    students:
      - name: Alice Wong
        photo: https://photos.example.com/alice.jpg
      - name: Bob Lee
        photo: https://photos.example.com/missing.jpg
`

// fakePhotos serves a fixed image for every URL except those naming
// "missing".
type fakePhotos struct{}

func (fakePhotos) Fetch(_ context.Context, url string) ([]byte, error) {
	if strings.Contains(url, "missing") {
		return nil, errors.New("HTTP 404")
	}
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 'f', 'a', 'c', 'e', 0xFF, 0xD9}, nil
}

type testEnv struct {
	app   *App
	h     http.Handler
	dev   *isapitest.Device
	creds digest.Credentials
	staff string
	admin string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	rosterPath := filepath.Join(dir, "roster.yaml")
	require.NoError(t, os.WriteFile(rosterPath, []byte(testRoster), 0o644))

	app, err := newApp(Config{
		DataDir:    datadir.Dir(dir),
		JWTSecret:  "server-test-secret-0123456789",
		RosterPath: rosterPath,
		AllowCIDRs: []string{"127.0.0.0/8"},
	})
	require.NoError(t, err)
	app.photos = func(config.Config) photo.Store { return fakePhotos{} }

	require.NoError(t, app.staff.SetPassword("admin", "admin-pass-1"))
	require.NoError(t, app.staff.Add("ms.chan", "staff-pass-1", staff.RoleStaff))

	dev := isapitest.NewDevice()
	srv := dev.Start()
	t.Cleanup(srv.Close)

	env := &testEnv{
		app:   app,
		h:     app.routes(),
		dev:   dev,
		creds: digest.Credentials{Address: srv.Address(), Username: isapitest.Username, Password: isapitest.Password},
	}
	env.staff = env.login(t, "ms.chan", "staff-pass-1")
	env.admin = env.login(t, "admin", "admin-pass-1")
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, user, pass string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: user, Password: pass})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: "ms.chan", Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/login", "", loginRequest{Username: "ms.chan", Password: "staff-pass-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == e.app.cookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	e.h.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "ms.chan", decode[sessionResponse](t, me).Username)
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/history", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/history", "not-a-token", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/healthz", "", nil).Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodPost, "/api/logout", e.staff, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/me", e.staff, nil).Code)
}

func TestSettingsAdminOnly(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/settings", e.staff, nil).Code)

	rec := e.do(t, http.MethodGet, "/api/settings", e.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[config.Config](t, rec)
	cfg.ReportNotice = "Photos are deleted after enrollment."
	cfg.Device.PageSize = 10

	rec = e.do(t, http.MethodPost, "/api/settings", e.admin, cfg)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 10, decode[config.Config](t, rec).Device.PageSize)

	cfg.Device.PageSize = 500
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/settings", e.admin, cfg).Code)
}

func TestConnect(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/device/connect", e.staff, e.creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "DS-K1T341AM")

	bad := e.creds
	bad.Password = "nope"
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/device/connect", e.staff, bad).Code)

	public := digest.Credentials{Address: "8.8.8.8", Username: "admin", Password: "x"}
	rec = e.do(t, http.MethodPost, "/api/device/connect", e.staff, public)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not in an allowed")
}

func TestBatchEnrollFromRoster(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/enroll/batch", e.staff, batchRequest{Device: e.creds, Class: "7A"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		RecordID string          `json:"recordId"`
		Message  string          `json:"message"`
		Results  []enroll.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1 of 2 succeeded", resp.Message)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, enroll.StepDownload, resp.Results[1].FailedStep)
	assert.Len(t, e.dev.Users(), 1)

	rec = e.do(t, http.MethodGet, "/api/history", e.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]historyEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, resp.RecordID, entries[0].ID)
	assert.Equal(t, "ms.chan", entries[0].Staff)

	rec = e.do(t, http.MethodGet, "/report/"+resp.RecordID, e.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<table>")
	assert.Contains(t, rec.Body.String(), "Alice Wong")

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/history/nope", e.staff, nil).Code)

	notice := noticeRequest{Markdown: "Questions? Ask the **front office**."}
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/settings/notice", e.staff, notice).Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodPost, "/api/settings/notice", e.admin, notice).Code)
	rec = e.do(t, http.MethodGet, "/report/"+resp.RecordID, e.staff, nil)
	assert.Contains(t, rec.Body.String(), "<strong>front office</strong>")
}

func TestBatchEnrollUnknownClass(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/enroll/batch", e.staff, batchRequest{Device: e.creds, Class: "9Z"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchEnrollStream(t *testing.T) {
	e := newTestEnv(t)
	body := batchRequest{Device: e.creds, Students: []enroll.Student{
		{Name: "Alice Wong", PhotoURL: "https://photos.example.com/a.jpg"},
		{Name: "Bob Lee", PhotoURL: "https://photos.example.com/b.jpg"},
		{Name: "Cai Min", PhotoURL: "https://photos.example.com/missing.jpg"},
	}}
	rec := e.do(t, http.MethodPost, "/api/enroll/batch?stream=ndjson", e.staff, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var events []streamEvent
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var ev streamEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 4)
	for i, ev := range events[:3] {
		assert.Equal(t, "result", ev.Type)
		assert.Equal(t, i+1, ev.Index)
		assert.Equal(t, 3, ev.Total)
	}
	last := events[3]
	assert.Equal(t, "summary", last.Type)
	require.NotNil(t, last.Summary)
	assert.Equal(t, enroll.Summary{Total: 3, SuccessCount: 2, FailCount: 1}, *last.Summary)
	assert.NotEmpty(t, last.RecordID)
}

func TestDeleteAndBulkDelete(t *testing.T) {
	e := newTestEnv(t)
	alice := enroll.EmployeeNumber("Alice Wong")
	e.dev.AddUser(alice, "Alice Wong")
	e.dev.AddUser("00000042", "Old Student")

	rec := e.do(t, http.MethodPost, "/api/users/delete", e.staff, deleteRequest{Device: e.creds, EmployeeNo: "00000042"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[enroll.DeleteResult](t, rec).Success)

	rec = e.do(t, http.MethodPost, "/api/users/bulk-delete", e.staff, bulkDeleteRequest{Device: e.creds, Class: "7A"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Message string                `json:"message"`
		Results []enroll.DeleteResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2 of 2 succeeded", resp.Message)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Alice Wong", resp.Results[0].Name)
	assert.False(t, resp.Results[0].AlreadyAbsent)
	assert.True(t, resp.Results[1].AlreadyAbsent)
	assert.Empty(t, e.dev.Users())
}

func TestListUsers(t *testing.T) {
	e := newTestEnv(t)
	e.dev.AddUser("00000001", "Dan Ho")
	rec := e.do(t, http.MethodPost, "/api/device/users", e.staff, deviceRequest{Device: e.creds})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Dan Ho")
}

func TestRoster(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/roster", e.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"7A"}, decode[[]string](t, rec))

	rec = e.do(t, http.MethodGet, "/api/roster?class=7A", e.staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]enroll.Student](t, rec), 2)
}

func TestStaffManagement(t *testing.T) {
	e := newTestEnv(t)
	add := staffAddRequest{Name: "mr.lee", Password: "lee-pass-12", Role: staff.RoleStaff}
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/staff", e.staff, add).Code)
	assert.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/staff", e.admin, add).Code)
	e.login(t, "mr.lee", "lee-pass-12")

	rec := e.do(t, http.MethodPost, "/api/staff/delete", e.admin, staffDeleteRequest{Name: "admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodPost, "/api/staff/delete", e.admin, staffDeleteRequest{Name: "mr.lee"}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/api/staff/delete", e.admin, staffDeleteRequest{Name: "mr.lee"}).Code)
}

func TestDeviceLocksSerialiseRuns(t *testing.T) {
	locks := newDeviceLocks()
	release, err := locks.acquire(context.Background(), "10.0.0.5")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "10.0.0.5")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.acquire(context.Background(), "10.0.0.6")
	require.NoError(t, err)
	other()

	release()
	again, err := locks.acquire(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	again()
}

func TestRegisterWithInvite(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/invites", e.admin, inviteCreateRequest{MaxUses: 1, ExpiresHours: 24})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decode[invite.Invite](t, rec)

	reg := registerRequest{Invite: inv.ID, Name: "mr.lee", Password: "lee-pass-12"}
	rec = e.do(t, http.MethodPost, "/api/register", "", reg)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tok := decode[sessionResponse](t, rec).Token
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/me", tok, nil).Code)

	reg.Name = "mx.wu"
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/register", "", reg).Code)
	_, err := e.app.staff.Get("mx.wu")
	assert.ErrorIs(t, err, staff.ErrNotFound)
}

func TestBootstrapPasswordStaysOutOfLog(t *testing.T) {
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	t.Cleanup(func() { logger.SetOutput(nil) })

	dir := t.TempDir()
	app, err := newApp(Config{DataDir: datadir.Dir(dir), JWTSecret: "server-test-secret-0123456789"})
	require.NoError(t, err)

	pwPath := filepath.Join(dir, datadir.InitialPasswordRel)
	b, err := os.ReadFile(pwPath)
	require.NoError(t, err)
	pw := strings.TrimSpace(string(b))
	require.NotEmpty(t, pw)
	assert.NotContains(t, logs.String(), pw)
	assert.Contains(t, logs.String(), pwPath)

	st, err := os.Stat(pwPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	e := &testEnv{app: app, h: app.routes()}
	tok := e.login(t, "admin", pw)
	rec := e.do(t, http.MethodPost, "/api/me/password", tok, passwordRequest{Current: pw, New: "admin-pass-2"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	_, err = os.Stat(pwPath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
