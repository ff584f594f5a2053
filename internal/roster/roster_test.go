package roster

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/facenroll/internal/enroll"
	"github.com/hnrobert/facenroll/internal/logger"
)

func init() {
	logger.SetOutput(nil)
}

const sample = `classes:
  - name: 7B
    students:
      - name: Dan Ho
        photo: https://bucket.example.com/7b/dan.jpg
  - name: 7A
    students:
      - name: " Alice Wong "
        photo: https://bucket.example.com/7a/alice.jpg
      - name: ""
        photo: https://bucket.example.com/7a/blank.jpg
      - name: Bob Lee
        class: 7A-transfer
        photo: https://bucket.example.com/7a/bob.jpg
`

func writeRoster(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	writeRoster(t, path, sample)
	r := NewFile(path)
	ctx := context.Background()

	classes, err := r.Classes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7A", "7B"}, classes)

	students, err := r.Students(ctx, "7A")
	require.NoError(t, err)
	assert.Equal(t, []enroll.Student{
		{Name: "Alice Wong", Class: "7A", PhotoURL: "https://bucket.example.com/7a/alice.jpg"},
		{Name: "Bob Lee", Class: "7A-transfer", PhotoURL: "https://bucket.example.com/7a/bob.jpg"},
	}, students)

	_, err = r.Students(ctx, "9Z")
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestFile_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	writeRoster(t, path, sample)
	r := NewFile(path)
	ctx := context.Background()

	_, err := r.Classes(ctx)
	require.NoError(t, err)

	writeRoster(t, path, "classes:\n  - name: 8C\n    students: []\n")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	classes, err := r.Classes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"8C"}, classes)
}

func TestFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := NewFile(filepath.Join(dir, "missing.yaml")).Classes(ctx)
	assert.Error(t, err)

	dup := filepath.Join(dir, "dup.yaml")
	writeRoster(t, dup, "classes:\n  - name: 7A\n  - name: 7A\n")
	_, err = NewFile(dup).Classes(ctx)
	assert.ErrorContains(t, err, "listed twice")

	bad := filepath.Join(dir, "bad.yaml")
	writeRoster(t, bad, "classes: [")
	_, err = NewFile(bad).Classes(ctx)
	assert.Error(t, err)
}
