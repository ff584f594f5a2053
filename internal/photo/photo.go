// Package photo fetches student photos from time-bounded signed URLs and
// normalises them into JPEGs the terminal accepts.
package photo

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAnImage = errors.New("not an image")
	ErrTooLarge   = errors.New("photo too large")
	ErrBadURL     = errors.New("invalid photo url")
)

// Store returns device-ready JPEG bytes for a photo URL.
type Store interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	Timeout          time.Duration
	MaxDownloadBytes int64
	MaxSourcePixels  int64
	// MaxDimension caps the longest side of the uploaded JPEG.
	MaxDimension int
	MaxJPEGBytes int
	Quality      int
}

func DefaultOptions() Options {
	return Options{
		Timeout:          30 * time.Second,
		MaxDownloadBytes: 10 << 20,
		MaxSourcePixels:  40_000_000,
		MaxDimension:     800,
		MaxJPEGBytes:     200 << 10,
		Quality:          90,
	}
}

func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxDownloadBytes <= 0 {
		o.MaxDownloadBytes = d.MaxDownloadBytes
	}
	if o.MaxSourcePixels <= 0 {
		o.MaxSourcePixels = d.MaxSourcePixels
	}
	if o.MaxDimension <= 0 {
		o.MaxDimension = d.MaxDimension
	}
	if o.MaxJPEGBytes <= 0 {
		o.MaxJPEGBytes = d.MaxJPEGBytes
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = d.Quality
	}
	return o
}
