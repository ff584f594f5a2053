package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/facenroll/internal/isapi"
	"github.com/hnrobert/facenroll/internal/logger"
)

func init() {
	logger.SetOutput(nil)
}

func TestStore_EnsureWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s := NewStore(path)
	require.NoError(t, s.Ensure())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"face_lib_type": "blackFD"`)

	cfg, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.HistoryRetentionDays)
	assert.Equal(t, 30, cfg.Device.PageSize)
	assert.Equal(t, 800, cfg.Photo.MaxDimension)
}

func TestStore_SetRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config.json"))
	cfg, err := s.Get()
	require.NoError(t, err)

	cfg.Device.FDID = "2"
	cfg.Device.UploadTimeoutSeconds = 90
	cfg.Photo.MaxDimension = 640
	cfg.ReportNotice = "Check **every** failed row."
	saved, err := s.Set(cfg)
	require.NoError(t, err)
	assert.False(t, saved.UpdatedAt.IsZero())

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, "2", got.Device.FDID)
	assert.Equal(t, 640, got.Photo.MaxDimension)
	assert.Equal(t, "Check **every** failed row.", got.ReportNotice)

	opts := got.Device.GatewayOptions(nil)
	assert.Equal(t, 90*time.Second, opts.UploadTimeout)
	assert.Equal(t, "2", opts.FDID)
	assert.Equal(t, 640, got.Photo.Options().MaxDimension)
}

func TestStore_SetRejectsInvalid(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config.json"))
	cfg, err := s.Get()
	require.NoError(t, err)

	bad := cfg
	bad.Device.ValidEnd = "2020-01-01T00:00:00"
	_, err = s.Set(bad)
	assert.Error(t, err)

	bad = cfg
	bad.Device.ValidBegin = "yesterday"
	_, err = s.Set(bad)
	assert.Error(t, err)

	bad = cfg
	bad.Device.PageSize = 500
	_, err = s.Set(bad)
	assert.Error(t, err)
}

func TestStore_SetReportNotice(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, s.SetReportNotice("# Notice"))
	cfg, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, "# Notice", cfg.ReportNotice)
}

func TestDeviceSettings_GatewayOptionsCarriesAllowList(t *testing.T) {
	al, err := isapi.NewAllowList("127.0.0.0/8")
	require.NoError(t, err)
	opts := DeviceSettings{}.GatewayOptions(al)
	assert.True(t, opts.Allow.Allowed("127.0.0.1"))
	assert.Equal(t, isapi.DefaultOptions().RetryDelay, opts.RetryDelay)
}
