package invite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/facenroll/internal/staff"
)

func TestStore_CreateConsume(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "invites.json"))

	inv, err := s.Create("admin", "", 2, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, staff.RoleStaff, inv.Role)

	_, err = s.Consume(inv.ID, "ms.chan", "10.0.0.8")
	require.NoError(t, err)
	got, err := s.Consume(inv.ID, "mr.lee", "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsedCount)

	_, err = s.Consume(inv.ID, "mx.wu", "10.0.0.10")
	assert.ErrorIs(t, err, ErrNoUsesLeft)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UsedCount)
}

func TestStore_ExpiredAndUnknown(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "invites.json"))
	inv, err := s.Create("admin", staff.RoleAdmin, 0, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = s.Validate(inv.ID)
	assert.ErrorIs(t, err, ErrExpired)
	_, err = s.Validate("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Create("admin", staff.Role("root"), 0, time.Time{})
	assert.Error(t, err)
}

func TestStore_Delete(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "invites.json"))
	inv, err := s.Create("admin", staff.RoleStaff, 1, time.Time{})
	require.NoError(t, err)
	require.NoError(t, s.Delete(inv.ID))
	assert.ErrorIs(t, s.Delete(inv.ID), ErrNotFound)
}
