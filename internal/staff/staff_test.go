package staff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/facenroll/internal/logger"
)

func init() {
	logger.SetOutput(nil)
}

func TestParseAndBytesPreserveComments(t *testing.T) {
	in := "# staff accounts\nadmin:$6$x$y:admin\n\nteacher1:$5$a$b:staff\nbroken-line\nodd:$1$c$d:superuser\n"
	f, err := Parse([]byte(in))
	require.NoError(t, err)

	accts := f.Accounts()
	require.Len(t, accts, 3)
	assert.Equal(t, RoleAdmin, accts[0].Role)
	assert.Equal(t, RoleStaff, accts[2].Role)

	out := string(f.Bytes())
	assert.True(t, strings.HasPrefix(out, "# staff accounts\n"))
	assert.Contains(t, out, "broken-line\n")
	assert.Contains(t, out, "odd:$1$c$d:staff\n")

	assert.True(t, f.Delete("teacher1"))
	assert.False(t, f.Delete("teacher1"))
	assert.Nil(t, f.Find("teacher1"))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("teacher1"))
	assert.True(t, ValidName("_ops"))
	assert.False(t, ValidName("Teacher"))
	assert.False(t, ValidName("1abc"))
	assert.False(t, ValidName("a:b"))
	assert.False(t, ValidName(""))
}

func TestStore_BootstrapAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staff")
	s := NewStore(path)

	pw, created, err := s.Bootstrap("admin")
	require.NoError(t, err)
	require.True(t, created)
	assert.NotEmpty(t, pw)

	_, created, err = s.Bootstrap("admin")
	require.NoError(t, err)
	assert.False(t, created)

	a, err := s.Verify("admin", pw)
	require.NoError(t, err)
	assert.True(t, a.Admin())

	_, err = s.Verify("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Verify("nobody", pw)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestStore_AddSetPasswordDelete(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "staff"))

	require.NoError(t, s.Add("teacher1", "correct horse", RoleStaff))
	assert.Error(t, s.Add("teacher1", "correct horse", RoleStaff))
	assert.Error(t, s.Add("teacher2", "short", RoleStaff))
	assert.Error(t, s.Add("teacher2", "long enough", Role("root")))

	a, err := s.Verify("teacher1", "correct horse")
	require.NoError(t, err)
	assert.False(t, a.Admin())

	require.NoError(t, s.SetPassword("teacher1", "battery staple"))
	_, err = s.Verify("teacher1", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Verify("teacher1", "battery staple")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.SetPassword("ghost", "long enough"), ErrNotFound)
	require.NoError(t, s.Delete("teacher1"))
	assert.ErrorIs(t, s.Delete("teacher1"), ErrNotFound)
	_, err = s.Get("teacher1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LegacyHashesAndLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staff")
	md5hash, err := md5_crypt.New().Generate([]byte("legacy-pass"), []byte("$1$saltsalt"))
	require.NoError(t, err)
	body := "old:" + md5hash + ":staff\nlocked:!" + md5hash + ":staff\nyes:$y$j9T$abc$def:staff\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	s := NewStore(path)

	_, err = s.Verify("old", "legacy-pass")
	assert.NoError(t, err)
	_, err = s.Verify("locked", "legacy-pass")
	assert.ErrorIs(t, err, ErrAccountLocked)
	_, err = s.Verify("yes", "anything")
	assert.ErrorIs(t, err, ErrUnsupportedHash)
}

func TestHumanError(t *testing.T) {
	assert.Equal(t, "", HumanError(nil))
	assert.Equal(t, "Invalid username or password.", HumanError(ErrInvalidCredentials))
	assert.Equal(t, "This account is locked.", HumanError(ErrAccountLocked))
}
