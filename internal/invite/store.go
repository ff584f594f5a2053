// Package invite keeps one-time links an admin hands to new staff so they
// can pick their own password.
package invite

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hnrobert/facenroll/internal/datadir"
	"github.com/hnrobert/facenroll/internal/staff"
)

var (
	ErrNotFound      = errors.New("invite not found")
	ErrExpired       = errors.New("invite expired")
	ErrNoUsesLeft    = errors.New("invite has no uses left")
	ErrInvalidInvite = errors.New("invalid invite")
)

type Invite struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	CreatedBy string     `json:"created_by"`
	ExpiresAt time.Time  `json:"expires_at,omitempty"`
	MaxUses   int        `json:"max_uses"`   // 0 means unlimited
	UsedCount int        `json:"used_count"` // derived from Uses
	Role      staff.Role `json:"role"`

	Uses []Use `json:"uses,omitempty"`
}

type Use struct {
	UsedAt   time.Time `json:"used_at"`
	UsedBy   string    `json:"used_by"`
	RemoteIP string    `json:"remote_ip,omitempty"`
}

type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) List() ([]Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	for i := range st.Invites {
		st.Invites[i].UsedCount = len(st.Invites[i].Uses)
	}
	return st.Invites, nil
}

func (s *Store) Create(createdBy string, role staff.Role, maxUses int, expiresAt time.Time) (Invite, error) {
	if maxUses < 0 {
		return Invite{}, fmt.Errorf("maxUses must be >= 0")
	}
	if role == "" {
		role = staff.RoleStaff
	}
	if !role.Valid() {
		return Invite{}, fmt.Errorf("invalid role %q", role)
	}
	inv := Invite{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		CreatedBy: createdBy,
		MaxUses:   maxUses,
		Role:      role,
	}
	if !expiresAt.IsZero() {
		inv.ExpiresAt = expiresAt.UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadLocked()
	if err != nil {
		return Invite{}, err
	}
	st.Invites = append([]Invite{inv}, st.Invites...)
	if err := s.saveLocked(st); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

func (s *Store) Validate(id string) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return Invite{}, err
	}
	idx := indexOf(st.Invites, id)
	if idx < 0 {
		return Invite{}, ErrNotFound
	}
	inv := st.Invites[idx]
	inv.UsedCount = len(inv.Uses)
	if err := validateInvite(inv, time.Now()); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

// Consume validates id and records one use by usedBy.
func (s *Store) Consume(id, usedBy, remoteIP string) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return Invite{}, err
	}
	idx := indexOf(st.Invites, id)
	if idx < 0 {
		return Invite{}, ErrNotFound
	}
	inv := st.Invites[idx]
	inv.UsedCount = len(inv.Uses)
	if err := validateInvite(inv, time.Now()); err != nil {
		return Invite{}, err
	}

	inv.Uses = append(inv.Uses, Use{UsedAt: time.Now().UTC(), UsedBy: usedBy, RemoteIP: remoteIP})
	inv.UsedCount = len(inv.Uses)
	st.Invites[idx] = inv
	if err := s.saveLocked(st); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

// Delete removes an invite by ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	idx := indexOf(st.Invites, id)
	if idx == -1 {
		return ErrNotFound
	}
	st.Invites = append(st.Invites[:idx], st.Invites[idx+1:]...)
	return s.saveLocked(st)
}

type state struct {
	Invites []Invite `json:"invites"`
}

func (s *Store) loadLocked() (state, error) {
	b, err := datadir.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state{}, nil
		}
		return state{}, err
	}
	if len(b) == 0 {
		return state{}, nil
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return state{}, err
	}
	return st, nil
}

func (s *Store) saveLocked(st state) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return datadir.WriteFileAtomic(s.path, b, datadir.PermPrivate)
}

func validateInvite(inv Invite, now time.Time) error {
	if inv.ID == "" {
		return ErrInvalidInvite
	}
	if !inv.ExpiresAt.IsZero() && now.After(inv.ExpiresAt) {
		return ErrExpired
	}
	if inv.MaxUses > 0 && inv.UsedCount >= inv.MaxUses {
		return ErrNoUsesLeft
	}
	return nil
}

func indexOf(invites []Invite, id string) int {
	for i := range invites {
		if invites[i].ID == id {
			return i
		}
	}
	return -1
}
