package digest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hnrobert/facenroll/internal/logger"
)

const (
	// DefaultProbePath answers 401 with a fresh challenge to any
	// unauthenticated GET.
	DefaultProbePath = "/ISAPI/System/deviceInfo"

	defaultProbeTimeout = 5 * time.Second
	maxBodyBytes        = 8 << 20
)

// Request describes one call against a device. Body is kept as bytes so
// the request can be re-issued after a nonce refresh.
type Request struct {
	Method  string
	Path    string // path plus query, e.g. /ISAPI/...?format=json
	Body    []byte
	Header  http.Header
	Timeout time.Duration
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Client struct {
	http         *http.Client
	cache        Cache
	scheme       string
	probePath    string
	probeTimeout time.Duration
	cnonce       func() (string, error)
	probes       singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithProbePath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.probePath = p
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithCnonce replaces the cnonce generator. Tests use it for fixed vectors.
func WithCnonce(fn func() (string, error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.cnonce = fn
		}
	}
}

func NewClient(cache Cache, opts ...Option) *Client {
	if cache == nil {
		cache = NewMemoryCache()
	}
	c := &Client{
		http:         &http.Client{},
		cache:        cache,
		scheme:       "http",
		probePath:    DefaultProbePath,
		probeTimeout: defaultProbeTimeout,
		cnonce:       NewCnonce,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Cache exposes the challenge cache the client was built with.
func (c *Client) Cache() Cache { return c.cache }

// Do issues req with Digest authentication. A 401 on the real request
// invalidates the cached challenge and the request is retried exactly once
// with a fresh probe. The nonce counter only restarts when the probe brings
// a different nonce. A second 401 is an *AuthenticationError. Other
// statuses >= 400 are returned as *DeviceError together with the response.
func (c *Client) Do(ctx context.Context, creds Credentials, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	for attempt := 1; attempt <= 2; attempt++ {
		ch, err := c.challenge(ctx, creds.Address)
		if err != nil {
			return nil, err
		}
		resp, err := c.send(ctx, creds, req, ch)
		if err != nil {
			return nil, err
		}
		if resp.Status == http.StatusUnauthorized {
			logger.Debug("digest: %s %s on %s answered 401 (attempt %d), dropping cached nonce", req.Method, req.Path, creds.Address, attempt)
			c.cache.Invalidate(creds.Address, ch.Nonce)
			continue
		}
		if resp.Status >= 400 {
			return resp, &DeviceError{
				Address: creds.Address,
				Method:  req.Method,
				Path:    req.Path,
				Status:  resp.Status,
				Body:    resp.Body,
			}
		}
		return resp, nil
	}
	return nil, &AuthenticationError{Address: creds.Address, Username: creds.Username}
}

func (c *Client) challenge(ctx context.Context, address string) (Challenge, error) {
	if ch, ok := c.cache.Get(address); ok {
		return ch, nil
	}
	resCh := c.probes.DoChan(address, func() (interface{}, error) {
		ch, err := c.probe(address)
		if err != nil {
			return Challenge{}, err
		}
		c.cache.Put(address, ch)
		return ch, nil
	})
	select {
	case <-ctx.Done():
		return Challenge{}, &ChallengeError{Address: address, Reason: "probe aborted", Err: &TransportError{Address: address, Op: "probe", Err: ctx.Err()}}
	case res := <-resCh:
		if res.Err != nil {
			return Challenge{}, res.Err
		}
		return res.Val.(Challenge), nil
	}
}

// probe runs detached from any single caller's context so that callers
// sharing the flight are not failed by one caller's cancellation.
func (c *Client) probe(address string) (Challenge, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
	defer cancel()

	url := c.scheme + "://" + urlHost(address) + c.probePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Challenge{}, &ChallengeError{Address: address, Reason: "build probe", Err: err}
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Challenge{}, &ChallengeError{Address: address, Reason: "device unreachable", Err: &TransportError{Address: address, Op: "probe", Err: err}}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode != http.StatusUnauthorized {
		return Challenge{}, &ChallengeError{Address: address, Reason: fmt.Sprintf("probe answered HTTP %d instead of 401", resp.StatusCode)}
	}
	ch, err := ParseChallenge(resp.Header.Values("WWW-Authenticate"))
	if err != nil {
		return Challenge{}, &ChallengeError{Address: address, Reason: "no usable Digest challenge", Err: err}
	}
	logger.Debug("digest: new challenge from %s (realm %q)", address, ch.Realm)
	return ch, nil
}

func (c *Client) send(ctx context.Context, creds Credentials, req Request, ch Challenge) (*Response, error) {
	cnonce, err := c.cnonce()
	if err != nil {
		return nil, fmt.Errorf("cnonce: %w", err)
	}
	nc := c.cache.NextCounter(ch.Realm, ch.Nonce)

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.scheme+"://"+urlHost(creds.Address)+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", authorization(creds, ch, req.Method, req.Path, nc, cnonce))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Address: creds.Address, Op: req.Method + " " + req.Path, Err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Address: creds.Address, Op: "read " + req.Path, Err: err}
	}
	logger.Debug("digest: %s %s on %s -> %d (nc=%s, %s)", req.Method, req.Path, creds.Address, resp.StatusCode, nc, time.Since(start).Round(time.Millisecond))
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

// urlHost brackets a bare IPv6 literal so it fits a URL authority.
func urlHost(address string) string {
	if ip, err := netip.ParseAddr(address); err == nil && ip.Is6() {
		return "[" + address + "]"
	}
	return address
}

// IsTransport reports whether err (or its chain) is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
