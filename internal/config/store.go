package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hnrobert/facenroll/internal/datadir"
	"github.com/hnrobert/facenroll/internal/isapi"
	"github.com/hnrobert/facenroll/internal/photo"
)

const defaultRetentionDays = 90

// DeviceSettings are the enrollment defaults written into every user and
// face record, plus the gateway's timing.
type DeviceSettings struct {
	FaceLibType            string `json:"face_lib_type"`
	FDID                   string `json:"fdid"`
	UserType               string `json:"user_type"`
	ValidBegin             string `json:"valid_begin"`
	ValidEnd               string `json:"valid_end"`
	DoorRight              string `json:"door_right"`
	PlanTemplateNo         string `json:"plan_template_no"`
	MetadataTimeoutSeconds int    `json:"metadata_timeout_seconds"`
	UploadTimeoutSeconds   int    `json:"upload_timeout_seconds"`
	RetryDelayMillis       int    `json:"retry_delay_millis"`
	PageSize               int    `json:"page_size"`
}

func (d DeviceSettings) WithDefaults() DeviceSettings {
	o := d.GatewayOptions(nil)
	return DeviceSettings{
		FaceLibType:            o.FaceLibType,
		FDID:                   o.FDID,
		UserType:               o.UserType,
		ValidBegin:             o.ValidBegin,
		ValidEnd:               o.ValidEnd,
		DoorRight:              o.DoorRight,
		PlanTemplateNo:         o.PlanTemplateNo,
		MetadataTimeoutSeconds: int(o.MetadataTimeout / time.Second),
		UploadTimeoutSeconds:   int(o.UploadTimeout / time.Second),
		RetryDelayMillis:       int(o.RetryDelay / time.Millisecond),
		PageSize:               o.PageSize,
	}
}

func (d DeviceSettings) GatewayOptions(allow *isapi.AllowList) isapi.Options {
	return isapi.Options{
		MetadataTimeout: time.Duration(d.MetadataTimeoutSeconds) * time.Second,
		UploadTimeout:   time.Duration(d.UploadTimeoutSeconds) * time.Second,
		RetryDelay:      time.Duration(d.RetryDelayMillis) * time.Millisecond,
		PageSize:        d.PageSize,
		FaceLibType:     d.FaceLibType,
		FDID:            d.FDID,
		UserType:        d.UserType,
		ValidBegin:      d.ValidBegin,
		ValidEnd:        d.ValidEnd,
		DoorRight:       d.DoorRight,
		PlanTemplateNo:  d.PlanTemplateNo,
		Allow:           allow,
	}.WithDefaults()
}

type PhotoSettings struct {
	TimeoutSeconds   int   `json:"timeout_seconds"`
	MaxDownloadBytes int64 `json:"max_download_bytes"`
	MaxDimension     int   `json:"max_dimension"`
	MaxJPEGBytes     int   `json:"max_jpeg_bytes"`
	Quality          int   `json:"quality"`
}

func (p PhotoSettings) WithDefaults() PhotoSettings {
	o := p.Options()
	return PhotoSettings{
		TimeoutSeconds:   int(o.Timeout / time.Second),
		MaxDownloadBytes: o.MaxDownloadBytes,
		MaxDimension:     o.MaxDimension,
		MaxJPEGBytes:     o.MaxJPEGBytes,
		Quality:          o.Quality,
	}
}

func (p PhotoSettings) Options() photo.Options {
	return photo.Options{
		Timeout:          time.Duration(p.TimeoutSeconds) * time.Second,
		MaxDownloadBytes: p.MaxDownloadBytes,
		MaxDimension:     p.MaxDimension,
		MaxJPEGBytes:     p.MaxJPEGBytes,
		Quality:          p.Quality,
	}.WithDefaults()
}

type Config struct {
	UpdatedAt            time.Time      `json:"updated_at"`
	Device               DeviceSettings `json:"device"`
	Photo                PhotoSettings  `json:"photo"`
	HistoryRetentionDays int            `json:"history_retention_days"`
	// ReportNotice is markdown shown above every run report.
	ReportNotice string `json:"report_notice,omitempty"`
}

func (c Config) WithDefaults() Config {
	c.Device = c.Device.WithDefaults()
	c.Photo = c.Photo.WithDefaults()
	if c.HistoryRetentionDays <= 0 {
		c.HistoryRetentionDays = defaultRetentionDays
	}
	return c
}

// Validate rejects settings the terminal would refuse.
func (c Config) Validate() error {
	if _, err := time.Parse("2006-01-02T15:04:05", c.Device.ValidBegin); err != nil {
		return fmt.Errorf("valid_begin: %w", err)
	}
	end, err := time.Parse("2006-01-02T15:04:05", c.Device.ValidEnd)
	if err != nil {
		return fmt.Errorf("valid_end: %w", err)
	}
	begin, _ := time.Parse("2006-01-02T15:04:05", c.Device.ValidBegin)
	if !end.After(begin) {
		return errors.New("valid_end must be after valid_begin")
	}
	if c.Device.PageSize > 100 {
		return errors.New("page_size must be at most 100")
	}
	if c.Photo.Quality < 1 || c.Photo.Quality > 100 {
		return errors.New("photo quality must be between 1 and 100")
	}
	return nil
}

type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Ensure writes a default config file when none exists.
func (s *Store) Ensure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return s.saveLocked(Config{UpdatedAt: time.Now().UTC()}.WithDefaults())
	}
	return nil
}

func (s *Store) Get() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked()
}

// Set replaces all settings after filling defaults and validating.
func (s *Store) Set(cfg Config) (Config, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = time.Now().UTC()
	if err := s.saveLocked(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *Store) SetReportNotice(md string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, _ := s.getLocked()
	cfg.ReportNotice = md
	cfg.UpdatedAt = time.Now().UTC()
	return s.saveLocked(cfg)
}

func (s *Store) getLocked() (Config, error) {
	b, err := datadir.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}.WithDefaults(), nil
		}
		return Config{}, err
	}
	if len(b) == 0 {
		return Config{}.WithDefaults(), nil
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", s.path, err)
	}
	return cfg.WithDefaults(), nil
}

func (s *Store) saveLocked(cfg Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return datadir.WriteFileAtomic(s.path, b, datadir.PermData)
}
