package digest

import (
	"fmt"
	"strings"
)

// TransportError reports that the device could not be reached or did not
// answer in time. It is never retried by this package.
type TransportError struct {
	Address string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ChallengeError reports that the device did not issue a usable Digest challenge.
type ChallengeError struct {
	Address string
	Reason  string
	Err     error
}

func (e *ChallengeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("digest challenge from %s: %s: %v", e.Address, e.Reason, e.Err)
	}
	return fmt.Sprintf("digest challenge from %s: %s", e.Address, e.Reason)
}

func (e *ChallengeError) Unwrap() error { return e.Err }

// AuthenticationError is returned when the device rejects the credentials
// after the one permitted nonce refresh.
type AuthenticationError struct {
	Address  string
	Username string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("invalid credentials for %q on %s", e.Username, e.Address)
}

// DeviceError carries a non-401 failure answered by the device itself.
// SubStatusCode and Message are filled by callers that understand the body.
type DeviceError struct {
	Address       string
	Method        string
	Path          string
	Status        int
	Body          []byte
	SubStatusCode string
	Message       string
}

func (e *DeviceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "device %s %s %s: HTTP %d", e.Address, e.Method, e.Path, e.Status)
	if e.SubStatusCode != "" {
		fmt.Fprintf(&b, " (%s)", e.SubStatusCode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if len(e.Body) > 0 {
		fmt.Fprintf(&b, ": %s", truncate(strings.TrimSpace(string(e.Body)), 200))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
