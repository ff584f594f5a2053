package staff

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"

	"github.com/hnrobert/facenroll/internal/datadir"
	"github.com/hnrobert/facenroll/internal/logger"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is locked")
	ErrUnsupportedHash    = errors.New("unsupported password hash")
	ErrNotFound           = errors.New("staff account not found")
)

type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (*File, error) {
	b, err := datadir.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{}, nil
		}
		return nil, err
	}
	return Parse(b)
}

func (s *Store) save(f *File) error {
	return datadir.WriteFileAtomic(s.path, f.Bytes(), datadir.PermPrivate)
}

// Bootstrap creates an admin account with a random password when the file
// holds no accounts. The password is returned so the caller can show it once.
func (s *Store) Bootstrap(name string) (password string, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return "", false, err
	}
	if len(f.Accounts()) > 0 {
		return "", false, nil
	}
	password, err = randomPassword()
	if err != nil {
		return "", false, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return "", false, err
	}
	if err := f.Add(Account{Name: name, Hash: hash, Role: RoleAdmin}); err != nil {
		return "", false, err
	}
	if err := s.save(f); err != nil {
		return "", false, err
	}
	return password, true, nil
}

// Verify checks password for name and returns the account.
func (s *Store) Verify(name, password string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return Account{}, err
	}
	a := f.Find(name)
	if a == nil {
		return Account{}, ErrInvalidCredentials
	}
	if a.Hash == "" || strings.HasPrefix(a.Hash, "!") || strings.HasPrefix(a.Hash, "*") {
		return Account{}, ErrAccountLocked
	}
	ok, err := verifyCrypt(a.Hash, password)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, ErrInvalidCredentials
	}
	return *a, nil
}

func (s *Store) Get(name string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return Account{}, err
	}
	a := f.Find(name)
	if a == nil {
		return Account{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return *a, nil
}

func (s *Store) List() ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	return f.Accounts(), nil
}

func (s *Store) Add(name, password string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	if err := f.Add(Account{Name: name, Hash: hash, Role: role}); err != nil {
		return err
	}
	logger.Info("staff: added %s (%s)", name, role)
	return s.save(f)
}

func (s *Store) SetPassword(name, password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	a := f.Find(name)
	if a == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	a.Hash = hash
	logger.Info("staff: password changed for %s", name)
	return s.save(f)
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	if !f.Delete(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	logger.Info("staff: deleted %s", name)
	return s.save(f)
}

// HashPassword returns a sha512-crypt hash with a random salt.
func HashPassword(password string) (string, error) {
	return sha512_crypt.New().Generate([]byte(password), nil)
}

func verifyCrypt(hash, password string) (bool, error) {
	// $1$ (md5-crypt), $5$ (sha256-crypt) and $6$ (sha512-crypt).
	crypters := []crypt.Crypter{sha512_crypt.New(), sha256_crypt.New(), md5_crypt.New()}
	for _, c := range crypters {
		if err := c.Verify(hash, []byte(password)); err == nil {
			return true, nil
		}
	}
	if strings.HasPrefix(hash, "$y$") || strings.HasPrefix(hash, "$7$") || strings.HasPrefix(hash, "$2") {
		return false, ErrUnsupportedHash
	}
	return false, nil
}

func HumanError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid username or password."
	case errors.Is(err, ErrAccountLocked):
		return "This account is locked."
	case errors.Is(err, ErrUnsupportedHash):
		return "This account uses an unsupported password hash; ask an admin to reset it."
	default:
		return fmt.Sprintf("Authentication failed: %v", err)
	}
}
