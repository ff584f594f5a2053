// Package isapi wraps the access-control terminal's ISAPI REST surface in
// typed operations. Every operation validates the target address against
// the allow list before anything is sent.
package isapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/logger"
)

const (
	pathDeviceInfo      = "/ISAPI/System/deviceInfo"
	pathUserCaps        = "/ISAPI/AccessControl/UserInfo/capabilities?format=json"
	pathUserSearch      = "/ISAPI/AccessControl/UserInfo/Search?format=json"
	pathUserCount       = "/ISAPI/AccessControl/UserInfo/Count?format=json"
	pathUserRecord      = "/ISAPI/AccessControl/UserInfo/Record?format=json"
	pathUserDelete      = "/ISAPI/AccessControl/UserInfo/Delete?format=json"
	pathFaceCaps        = "/ISAPI/Intelligent/FDLib/capabilities?format=json"
	pathFaceSetUp       = "/ISAPI/Intelligent/FDLib/FDSetUp?format=json"
	pathFaceDelete      = "/ISAPI/Intelligent/FDLib/FDDelete?format=json"
	pathFaceCount       = "/ISAPI/Intelligent/FDLib/Count?format=json"
	defaultFaceLibType  = "blackFD"
	defaultFDID         = "1"
	defaultUserType     = "normal"
	defaultValidBegin   = "2024-01-01T00:00:00"
	defaultValidEnd     = "2037-12-31T23:59:59"
	defaultDoorRight    = "1"
	defaultPlanTemplate = "1"
)

// Options tune the gateway. Zero fields take defaults via WithDefaults.
type Options struct {
	MetadataTimeout time.Duration // info, search, user and delete calls
	UploadTimeout   time.Duration // face uploads run on-device detection
	RetryDelay      time.Duration
	PageSize        int

	FaceLibType    string
	FDID           string
	UserType       string
	ValidBegin     string
	ValidEnd       string
	DoorRight      string
	PlanTemplateNo string

	Allow *AllowList
}

func DefaultOptions() Options {
	return Options{
		MetadataTimeout: 10 * time.Second,
		UploadTimeout:   60 * time.Second,
		RetryDelay:      2 * time.Second,
		PageSize:        30,
		FaceLibType:     defaultFaceLibType,
		FDID:            defaultFDID,
		UserType:        defaultUserType,
		ValidBegin:      defaultValidBegin,
		ValidEnd:        defaultValidEnd,
		DoorRight:       defaultDoorRight,
		PlanTemplateNo:  defaultPlanTemplate,
	}
}

func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.MetadataTimeout <= 0 {
		o.MetadataTimeout = d.MetadataTimeout
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = d.UploadTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.FaceLibType == "" {
		o.FaceLibType = d.FaceLibType
	}
	if o.FDID == "" {
		o.FDID = d.FDID
	}
	if o.UserType == "" {
		o.UserType = d.UserType
	}
	if o.ValidBegin == "" {
		o.ValidBegin = d.ValidBegin
	}
	if o.ValidEnd == "" {
		o.ValidEnd = d.ValidEnd
	}
	if o.DoorRight == "" {
		o.DoorRight = d.DoorRight
	}
	if o.PlanTemplateNo == "" {
		o.PlanTemplateNo = d.PlanTemplateNo
	}
	return o
}

type Gateway struct {
	client *digest.Client
	opts   Options
}

func New(client *digest.Client, opts Options) *Gateway {
	if client == nil {
		client = digest.NewClient(nil)
	}
	return &Gateway{client: client, opts: opts.WithDefaults()}
}

func (g *Gateway) Options() Options { return g.opts }

// call validates the address, issues req and classifies the answer through
// the decision table. A Success outcome on a device error returns a nil
// error together with the device error as benign.
func (g *Gateway) call(ctx context.Context, creds digest.Credentials, op Op, req digest.Request) (resp *digest.Response, benign error, err error) {
	if err := g.opts.Allow.Check(creds.Address); err != nil {
		return nil, nil, err
	}
	if req.Timeout == 0 {
		req.Timeout = g.opts.MetadataTimeout
	}

	for attempt := 1; ; attempt++ {
		resp, err = g.client.Do(ctx, creds, req)
		if err == nil && resp != nil {
			err = statusInBody(creds, req, resp)
		}
		if err == nil {
			return resp, nil, nil
		}
		annotate(err)

		switch decide(op, err) {
		case Success:
			logger.Debug("isapi: %s on %s: benign device answer: %v", op, creds.Address, err)
			return resp, err, nil
		case Retry:
			if attempt == 1 {
				logger.Warn("isapi: %s on %s: device busy, retrying in %s", op, creds.Address, g.opts.RetryDelay)
				if werr := sleepCtx(ctx, g.opts.RetryDelay); werr != nil {
					return nil, nil, &digest.TransportError{Address: creds.Address, Op: string(op), Err: werr}
				}
				continue
			}
		}
		return resp, nil, fmt.Errorf("%s: %w", op, err)
	}
}

// statusInBody turns a 200 answer whose JSON status is not OK into a
// *digest.DeviceError.
func statusInBody(creds digest.Credentials, req digest.Request, resp *digest.Response) error {
	rs, ok := parseStatus(resp.Body)
	if !ok || rs.StatusCode == 0 || rs.StatusCode == 1 {
		return nil
	}
	return &digest.DeviceError{
		Address:       creds.Address,
		Method:        req.Method,
		Path:          req.Path,
		Status:        resp.Status,
		Body:          resp.Body,
		SubStatusCode: rs.SubStatusCode,
		Message:       rs.message(),
	}
}

// annotate fills the ISAPI sub-status into a device error parsed from its body.
func annotate(err error) {
	de, ok := err.(*digest.DeviceError)
	if !ok || de.SubStatusCode != "" {
		return
	}
	if rs, ok := parseStatus(de.Body); ok {
		de.SubStatusCode = rs.SubStatusCode
		de.Message = rs.message()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Gateway) getJSON(ctx context.Context, creds digest.Credentials, op Op, path string, out any) (benign error, err error) {
	resp, benign, err := g.call(ctx, creds, op, digest.Request{Method: http.MethodGet, Path: path})
	if err != nil || benign != nil {
		return benign, err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil, nil
}

func (g *Gateway) sendJSON(ctx context.Context, creds digest.Credentials, op Op, method, path string, in, out any) (benign error, err error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}
	resp, benign, err := g.call(ctx, creds, op, digest.Request{
		Method: method,
		Path:   path,
		Body:   body,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil || benign != nil {
		return benign, err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil, nil
}
