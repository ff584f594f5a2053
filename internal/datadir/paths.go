package datadir

import (
	"errors"
	"path/filepath"
	"strings"
)

// DefaultRoot is the data directory inside the container.
const DefaultRoot = "/facenroll_data"

// Well-known entries relative to the root.
const (
	ConfigRel  = "config.json"
	StaffRel   = "staff"
	RosterRel  = "roster.yaml"
	HistoryRel = "history"
	LogsRel    = "logs"
	InvitesRel = "invites.json"

	// InitialPasswordRel holds the bootstrap admin password until the
	// admin changes it.
	InitialPasswordRel = "initial-admin-password"
)

var ErrInvalidPath = errors.New("invalid data path")

// Dir is a data directory root.
type Dir string

func (d Dir) Root() string {
	if strings.TrimSpace(string(d)) == "" {
		return DefaultRoot
	}
	return filepath.Clean(string(d))
}

// Path joins the root with a relative path that must stay inside it.
// Example: Dir("/data").Path("history") -> /data/history
func (d Dir) Path(rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	clean := filepath.Clean(rel)
	if clean == "." || clean == "" {
		return "", ErrInvalidPath
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return filepath.Join(d.Root(), clean), nil
}

// MustPath is Path for the constant entries above.
func (d Dir) MustPath(rel string) string {
	p, err := d.Path(rel)
	if err != nil {
		panic(err)
	}
	return p
}
