package digest

import (
	"errors"
	"strings"
)

var (
	errNotDigest       = errors.New("not a Digest challenge")
	errMissingNonce    = errors.New("challenge has no nonce")
	errUnsupportedAlgo = errors.New("unsupported digest algorithm")
	errUnsupportedQop  = errors.New("unsupported qop")
)

// Challenge is a parsed WWW-Authenticate Digest challenge. It is never
// modified after parsing.
type Challenge struct {
	Realm  string
	Nonce  string
	Qop    string // "auth" or "" (RFC 2069 style)
	Opaque string
}

// ParseChallenge extracts the first Digest challenge from one or more
// WWW-Authenticate header values.
func ParseChallenge(headers []string) (Challenge, error) {
	var lastErr error = errNotDigest
	for _, h := range headers {
		for _, raw := range splitChallenges(h) {
			ch, err := parseOne(raw)
			if err == nil {
				return ch, nil
			}
			lastErr = err
		}
	}
	return Challenge{}, lastErr
}

func parseOne(raw string) (Challenge, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, _ := strings.Cut(raw, " ")
	if !strings.EqualFold(scheme, "Digest") {
		return Challenge{}, errNotDigest
	}
	params := ParseParams(rest)

	ch := Challenge{
		Realm:  params["realm"],
		Nonce:  params["nonce"],
		Opaque: params["opaque"],
	}
	if ch.Nonce == "" {
		return Challenge{}, errMissingNonce
	}
	if algo := params["algorithm"]; algo != "" && !strings.EqualFold(algo, "MD5") {
		return Challenge{}, errUnsupportedAlgo
	}
	if qop, ok := params["qop"]; ok {
		ch.Qop = ""
		for _, q := range strings.Split(qop, ",") {
			if strings.EqualFold(strings.TrimSpace(q), "auth") {
				ch.Qop = "auth"
				break
			}
		}
		if ch.Qop == "" {
			return Challenge{}, errUnsupportedQop
		}
	}
	return ch, nil
}

// splitChallenges splits a header that may carry several challenges
// ("Basic realm=x, Digest realm=y, ...") into one string per scheme.
func splitChallenges(h string) []string {
	var out []string
	for _, part := range splitTopLevel(h) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// A token followed by a space and no '=' before it starts a new challenge.
		if sp := strings.IndexByte(part, ' '); sp > 0 && !strings.Contains(part[:sp], "=") {
			out = append(out, part)
			continue
		}
		if !strings.Contains(part, "=") {
			out = append(out, part)
			continue
		}
		if len(out) == 0 {
			out = append(out, part)
			continue
		}
		out[len(out)-1] += ", " + part
	}
	return out
}

// ParseParams parses a comma separated list of key=value or key="value" pairs
// as found in WWW-Authenticate and Authorization headers. Keys are lower-cased.
func ParseParams(s string) map[string]string {
	params := map[string]string{}
	for _, kv := range splitTopLevel(s) {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = strings.ReplaceAll(v[1:len(v)-1], `\"`, `"`)
		}
		params[k] = v
	}
	return params
}

// splitTopLevel splits on commas that are not inside a quoted string.
func splitTopLevel(s string) []string {
	var (
		out     []string
		start   int
		inQuote bool
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inQuote:
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == ',' && !inQuote:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
