// Package staff manages the service's own staff accounts, stored one per
// line as name:hash:role with crypt(3) hashes.
package staff

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleStaff }

type Account struct {
	Name string `json:"name"`
	Hash string `json:"-"`
	Role Role   `json:"role"`
}

func (a Account) Admin() bool { return a.Role == RoleAdmin }

var nameRe = regexp.MustCompile(`^[a-z_][a-z0-9_.-]{0,31}$`)

// ValidName accepts lowercase names starting with a letter or underscore.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

type rawLine struct {
	raw   string
	entry *Account
}

// File keeps comments and unparseable lines so rewrites preserve them.
type File struct {
	lines []rawLine
}

func Parse(b []byte) (*File, error) {
	s := bufio.NewScanner(bytes.NewReader(b))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var f File
	for s.Scan() {
		line := s.Text()
		trim := strings.TrimSpace(line)
		if trim == "" || strings.HasPrefix(trim, "#") {
			f.lines = append(f.lines, rawLine{raw: line})
			continue
		}
		// Keep trailing empty fields.
		parts := strings.Split(line, ":")
		if len(parts) < 2 {
			f.lines = append(f.lines, rawLine{raw: line})
			continue
		}
		for len(parts) < 3 {
			parts = append(parts, "")
		}
		role := Role(parts[2])
		if !role.Valid() {
			role = RoleStaff
		}
		f.lines = append(f.lines, rawLine{entry: &Account{Name: parts[0], Hash: parts[1], Role: role}})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) Accounts() []Account {
	out := make([]Account, 0, len(f.lines))
	for _, ln := range f.lines {
		if ln.entry != nil {
			out = append(out, *ln.entry)
		}
	}
	return out
}

func (f *File) Find(name string) *Account {
	for _, ln := range f.lines {
		if ln.entry != nil && ln.entry.Name == name {
			return ln.entry
		}
	}
	return nil
}

func (f *File) Add(a Account) error {
	if !ValidName(a.Name) {
		return fmt.Errorf("invalid staff name %q", a.Name)
	}
	if f.Find(a.Name) != nil {
		return fmt.Errorf("staff account already exists: %s", a.Name)
	}
	f.lines = append(f.lines, rawLine{entry: &a})
	return nil
}

func (f *File) Delete(name string) bool {
	changed := false
	nl := f.lines[:0]
	for _, ln := range f.lines {
		if ln.entry != nil && ln.entry.Name == name {
			changed = true
			continue
		}
		nl = append(nl, ln)
	}
	f.lines = nl
	return changed
}

func (f *File) Bytes() []byte {
	var buf strings.Builder
	for _, ln := range f.lines {
		if e := ln.entry; e != nil {
			fmt.Fprintf(&buf, "%s:%s:%s\n", e.Name, e.Hash, e.Role)
			continue
		}
		buf.WriteString(ln.raw)
		buf.WriteString("\n")
	}
	return []byte(buf.String())
}
