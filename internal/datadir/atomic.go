package datadir

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/hnrobert/facenroll/internal/logger"
)

// File modes for the data directory. Staff hashes and invite links are
// credentials and stay owner-only.
const (
	PermPrivate fs.FileMode = 0o600
	PermData    fs.FileMode = 0o640
	PermDir     fs.FileMode = 0o750
)

var (
	locksMu sync.Mutex
	locks   = map[string]*sync.Mutex{}
)

// lockPath serialises every read, rewrite and append of one file.
func lockPath(path string) func() {
	locksMu.Lock()
	m := locks[path]
	if m == nil {
		m = &sync.Mutex{}
		locks[path] = m
	}
	locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

func ReadFile(path string) ([]byte, error) {
	defer lockPath(path)()
	return os.ReadFile(path)
}

// WriteFileAtomic replaces path with data through a temp file in the same
// directory. An existing file never ends up with looser permissions than
// it had.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	defer lockPath(path)()

	perm = narrowPerm(path, perm)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, PermDir); err != nil {
		return err
	}
	tmpName, err := writeTemp(dir, data, perm)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpName) }()

	if err := os.Rename(tmpName, path); err != nil {
		// A file bind-mounted into the container cannot be replaced by rename.
		if errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EXDEV) || errors.Is(err, syscall.EPERM) {
			logger.Warn("datadir: rename onto %s failed (%v); rewriting in place", path, err)
			return rewriteInPlace(path, data, perm)
		}
		return err
	}
	syncDir(dir)
	return nil
}

// AppendFile appends data to path, creating it (and its directory) with
// perm when missing.
func AppendFile(path string, data []byte, perm fs.FileMode) error {
	defer lockPath(path)()

	if err := os.MkdirAll(filepath.Dir(path), PermDir); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func EnsureDir(path string) error {
	defer lockPath(path)()
	return os.MkdirAll(path, PermDir)
}

func narrowPerm(path string, perm fs.FileMode) fs.FileMode {
	if st, err := os.Stat(path); err == nil {
		return perm & st.Mode().Perm()
	}
	return perm
}

func writeTemp(dir string, data []byte, perm fs.FileMode) (string, error) {
	tmp, err := os.CreateTemp(dir, ".facenroll-*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	err = tmp.Chmod(perm)
	if err == nil {
		_, err = tmp.Write(data)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

func rewriteInPlace(path string, data []byte, perm fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	_ = f.Sync()
	return f.Close()
}

func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}
