package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/hnrobert/facenroll/internal/digest"
	"github.com/hnrobert/facenroll/internal/history"
	"github.com/hnrobert/facenroll/internal/isapi"
	"github.com/hnrobert/facenroll/internal/logger"
	"github.com/hnrobert/facenroll/internal/roster"
	"github.com/hnrobert/facenroll/internal/staff"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("server: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes the request body into v, rejecting unknown fields.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is empty")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// statusFor maps an operation error onto the HTTP status returned to the UI.
func statusFor(err error) int {
	var (
		authErr      *digest.AuthenticationError
		transportErr *digest.TransportError
		challengeErr *digest.ChallengeError
		deviceErr    *digest.DeviceError
	)
	switch {
	case errors.Is(err, isapi.ErrAddressNotAllowed), errors.Is(err, isapi.ErrInvalidEmployeeNo):
		return http.StatusBadRequest
	case errors.Is(err, staff.ErrInvalidCredentials), errors.Is(err, staff.ErrAccountLocked):
		return http.StatusUnauthorized
	case errors.As(err, &authErr):
		return http.StatusForbidden
	case errors.Is(err, roster.ErrUnknownClass), errors.Is(err, history.ErrNotFound), errors.Is(err, staff.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &transportErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &challengeErr), errors.As(err, &deviceErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeOpError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("server: %v", err)
	}
	writeError(w, status, err.Error())
}
