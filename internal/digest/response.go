package digest

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Credentials identify one device login. They are passed per call and
// never stored.
type Credentials struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ComputeResponse returns the request-digest for the given parameters.
// With an empty qop it falls back to the RFC 2069 form MD5(HA1:nonce:HA2).
func ComputeResponse(username, realm, password, method, uri, nonce, nc, cnonce, qop string) string {
	ha1 := md5Hex(username + ":" + realm + ":" + password)
	ha2 := md5Hex(method + ":" + uri)
	if qop == "" {
		return md5Hex(ha1 + ":" + nonce + ":" + ha2)
	}
	return md5Hex(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + ha2)
}

// NewCnonce returns 16 random bytes hex encoded.
func NewCnonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// authorization builds the value of the Authorization header.
func authorization(creds Credentials, ch Challenge, method, uri, nc, cnonce string) string {
	resp := ComputeResponse(creds.Username, ch.Realm, creds.Password, method, uri, ch.Nonce, nc, cnonce, ch.Qop)

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", algorithm=MD5`,
		quote(creds.Username), quote(ch.Realm), quote(ch.Nonce), quote(uri))
	if ch.Qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, ch.Qop, nc, cnonce)
	}
	fmt.Fprintf(&b, `, response="%s"`, resp)
	if ch.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, quote(ch.Opaque))
	}
	return b.String()
}

func quote(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
