// Package digesttest provides an httptest server that guards a handler with
// HTTP Digest authentication the way access-control terminals do: one
// current nonce, strictly increasing nc per nonce, 401 on anything stale.
package digesttest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/hnrobert/facenroll/internal/digest"
)

// Seen is one authenticated request that was accepted.
type Seen struct {
	Method string
	URI    string
	NC     string
	CNonce string
}

type Server struct {
	*httptest.Server

	Realm    string
	Username string
	Password string
	Opaque   string

	mu         sync.Mutex
	nonce      string
	nonceSeq   int
	lastNC     map[string]uint64
	probes     int
	rejected   int
	rejectNext int
	seen       []Seen
	next       http.Handler
}

// NewServer starts a server that answers authenticated requests with next.
func NewServer(realm, username, password string, next http.Handler) *Server {
	s := &Server{
		Realm:    realm,
		Username: username,
		Password: password,
		lastNC:   map[string]uint64{},
		next:     next,
	}
	s.rotateLocked()
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Address returns host:port of the listener.
func (s *Server) Address() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// RotateNonce makes the current nonce stale, as a device does after its
// nonce lifetime elapses.
func (s *Server) RotateNonce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateLocked()
}

// RejectNext answers the next n authenticated requests with 401 even when
// their digest is valid.
func (s *Server) RejectNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = n
}

// Probes counts unauthenticated requests that were answered with a challenge.
func (s *Server) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// Rejected counts authenticated requests that were answered with 401.
func (s *Server) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// Seen returns the accepted authenticated requests in arrival order.
func (s *Server) Seen() []Seen {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Seen, len(s.seen))
	copy(out, s.seen)
	return out
}

func (s *Server) rotateLocked() {
	s.nonceSeq++
	s.nonce = fmt.Sprintf("%032x", s.nonceSeq*7919)
}

func (s *Server) challengeLocked(w http.ResponseWriter) {
	h := fmt.Sprintf(`Digest qop="auth", realm="%s", nonce="%s", stale="FALSE"`, s.Realm, s.nonce)
	if s.Opaque != "" {
		h += fmt.Sprintf(`, opaque="%s"`, s.Opaque)
	}
	w.Header().Set("WWW-Authenticate", h)
	w.WriteHeader(http.StatusUnauthorized)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	authz := r.Header.Get("Authorization")
	scheme, rest, _ := strings.Cut(authz, " ")
	if !strings.EqualFold(scheme, "Digest") {
		s.probes++
		s.challengeLocked(w)
		s.mu.Unlock()
		return
	}
	if !s.acceptLocked(r, digest.ParseParams(rest)) {
		s.rejected++
		s.challengeLocked(w)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.next.ServeHTTP(w, r)
}

func (s *Server) acceptLocked(r *http.Request, p map[string]string) bool {
	if s.rejectNext > 0 {
		s.rejectNext--
		return false
	}
	if p["username"] != s.Username || p["realm"] != s.Realm || p["nonce"] != s.nonce {
		return false
	}
	if p["uri"] != r.URL.RequestURI() {
		return false
	}
	if s.Opaque != "" && p["opaque"] != s.Opaque {
		return false
	}
	nc, err := strconv.ParseUint(p["nc"], 16, 64)
	if err != nil || len(p["nc"]) != 8 || nc <= s.lastNC[s.nonce] {
		return false
	}
	want := digest.ComputeResponse(s.Username, s.Realm, s.Password, r.Method, p["uri"], s.nonce, p["nc"], p["cnonce"], p["qop"])
	if p["response"] != want {
		return false
	}
	s.lastNC[s.nonce] = nc
	s.seen = append(s.seen, Seen{Method: r.Method, URI: p["uri"], NC: p["nc"], CNonce: p["cnonce"]})
	return true
}
