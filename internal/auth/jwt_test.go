package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_IssueParse(t *testing.T) {
	s := NewSessions([]byte("test-secret"), time.Hour)
	tok, err := s.Issue("teacher1", "staff")
	require.NoError(t, err)

	c, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "teacher1", c.Username)
	assert.False(t, c.Admin())
	assert.NotEmpty(t, c.ID)

	_, err = NewSessions([]byte("other"), time.Hour).Parse(tok)
	assert.Error(t, err)
}

func TestSessions_Revoke(t *testing.T) {
	s := NewSessions([]byte("test-secret"), time.Hour)
	tok, err := s.Issue("admin", "admin")
	require.NoError(t, err)
	c, err := s.Parse(tok)
	require.NoError(t, err)
	assert.True(t, c.Admin())

	s.Revoke(c)
	_, err = s.Parse(tok)
	assert.ErrorIs(t, err, ErrRevoked)

	other, err := s.Issue("admin", "admin")
	require.NoError(t, err)
	_, err = s.Parse(other)
	assert.NoError(t, err)
}

func TestParseHS256_Expired(t *testing.T) {
	tok, err := SignHS256([]byte("k"), "teacher1", "staff", -time.Hour)
	require.NoError(t, err)
	_, err = ParseHS256([]byte("k"), tok)
	assert.Error(t, err)
}
