package isapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/logger"
)

var ErrEmptyImage = errors.New("empty face image")

// UploadFace stores jpeg as the face template of employeeNo in the
// configured face library. The device runs face detection on upload, so a
// rejection here usually means the photo is unusable.
func (g *Gateway) UploadFace(ctx context.Context, creds digest.Credentials, employeeNo, name string, jpeg []byte) error {
	if err := validEmployeeNo(employeeNo); err != nil {
		return err
	}
	if len(jpeg) == 0 {
		return ErrEmptyImage
	}
	body, contentType, err := faceMultipart(faceRecordWire{
		FaceLibType: g.opts.FaceLibType,
		FDID:        g.opts.FDID,
		FPID:        employeeNo,
		Name:        name,
	}, jpeg)
	if err != nil {
		return fmt.Errorf("%s: build multipart: %w", OpUploadFace, err)
	}
	_, _, err = g.call(ctx, creds, OpUploadFace, digest.Request{
		Method:  http.MethodPut,
		Path:    pathFaceSetUp,
		Body:    body,
		Header:  http.Header{"Content-Type": []string{contentType}},
		Timeout: g.opts.UploadTimeout,
	})
	if err != nil {
		return err
	}
	logger.Info("isapi: uploaded face for employee %s on %s (%d bytes)", employeeNo, creds.Address, len(jpeg))
	return nil
}

// faceMultipart builds the two-part body FDSetUp expects: a JSON
// FaceDataRecord followed by the JPEG image.
func faceMultipart(rec faceRecordWire, jpeg []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	meta, err := json.Marshal(rec)
	if err != nil {
		return nil, "", err
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="FaceDataRecord"`)
	h.Set("Content-Type", "application/json")
	pw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := pw.Write(meta); err != nil {
		return nil, "", err
	}

	h = textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="img"; filename="face.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	pw, err = mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := pw.Write(jpeg); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// DeleteFace removes the face template of employeeNo. deleted is false
// when the device had no face for it.
func (g *Gateway) DeleteFace(ctx context.Context, creds digest.Credentials, employeeNo string) (deleted bool, err error) {
	if err := validEmployeeNo(employeeNo); err != nil {
		return false, err
	}
	req := faceDeleteRequest{
		FaceLibType: g.opts.FaceLibType,
		FDID:        g.opts.FDID,
		FPID:        []fpidRef{{Value: employeeNo}},
	}
	benign, err := g.sendJSON(ctx, creds, OpDeleteFace, http.MethodPut, pathFaceDelete, req, nil)
	if err != nil {
		return false, err
	}
	return benign == nil, nil
}

// FaceCount returns the number of face records in the configured library,
// or across all libraries when the device does not list it.
func (g *Gateway) FaceCount(ctx context.Context, creds digest.Credentials) (int, error) {
	var resp faceCountResponse
	if _, err := g.getJSON(ctx, creds, OpFaceCount, pathFaceCount, &resp); err != nil {
		return 0, err
	}
	total, mine, matched := 0, 0, false
	for _, r := range resp.FDRecordDataInfo {
		total += r.RecordDataNumber
		if r.FDID == g.opts.FDID && (r.FaceLibType == "" || r.FaceLibType == g.opts.FaceLibType) {
			mine += r.RecordDataNumber
			matched = true
		}
	}
	if matched {
		return mine, nil
	}
	return total, nil
}
