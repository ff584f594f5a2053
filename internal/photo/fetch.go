package photo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"

	"github.com/hnrobert/facenroll/internal/logger"
)

// HTTPStore downloads photos with resty and normalises them.
type HTTPStore struct {
	client *resty.Client
	opts   Options
}

func NewHTTPStore(opts Options) *HTTPStore {
	opts = opts.WithDefaults()
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("Accept", "image/jpeg, image/png, image/webp, image/*;q=0.8")
	return &HTTPStore{client: client, opts: opts}
}

func (s *HTTPStore) Options() Options { return s.opts }

func (s *HTTPStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	raw, err := s.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	out, err := Normalize(raw, s.opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("photo: %s -> %d bytes jpeg (source %d bytes)", redact(rawURL), len(out), len(raw))
	return out, nil
}

// Download returns the raw body of rawURL, bounded by MaxDownloadBytes.
func (s *HTTPStore) Download(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadURL, redact(rawURL))
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", redact(rawURL), err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("download %s: HTTP %d", redact(rawURL), resp.StatusCode())
	}
	if resp.RawResponse != nil && resp.RawResponse.ContentLength > s.opts.MaxDownloadBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, resp.RawResponse.ContentLength, s.opts.MaxDownloadBytes)
	}
	b, err := io.ReadAll(io.LimitReader(body, s.opts.MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", redact(rawURL), err)
	}
	if int64(len(b)) > s.opts.MaxDownloadBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.opts.MaxDownloadBytes)
	}
	return b, nil
}

// redact drops the query of a signed URL so signatures never reach logs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
