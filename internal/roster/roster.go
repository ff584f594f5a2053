// Package roster supplies the students a batch is built from.
package roster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hnrobert/facenroll/internal/enroll"
	"github.com/hnrobert/facenroll/internal/logger"
)

var ErrUnknownClass = errors.New("unknown class")

type Roster interface {
	Classes(ctx context.Context) ([]string, error)
	Students(ctx context.Context, class string) ([]enroll.Student, error)
}

type fileDoc struct {
	Classes []fileClass `yaml:"classes"`
}

type fileClass struct {
	Name     string           `yaml:"name"`
	Students []enroll.Student `yaml:"students"`
}

// File is a YAML roster on disk, re-read whenever its mtime changes:
//
//	classes:
//	  - name: 7A
//	    students:
//	      - name: Alice Wong
//	        photo: https://bucket.example.com/7a/alice.jpg
type File struct {
	mu      sync.Mutex
	path    string
	modTime time.Time
	classes map[string][]enroll.Student
	order   []string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Classes(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.refreshLocked(); err != nil {
		return nil, err
	}
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out, nil
}

func (f *File) Students(ctx context.Context, class string) ([]enroll.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.refreshLocked(); err != nil {
		return nil, err
	}
	list, ok := f.classes[strings.TrimSpace(class)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	out := make([]enroll.Student, len(list))
	copy(out, list)
	return out, nil
}

func (f *File) refreshLocked() error {
	st, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	if f.classes != nil && st.ModTime().Equal(f.modTime) {
		return nil
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("roster %s: %w", f.path, err)
	}

	classes := make(map[string][]enroll.Student, len(doc.Classes))
	order := make([]string, 0, len(doc.Classes))
	total := 0
	for _, c := range doc.Classes {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return fmt.Errorf("roster %s: class without a name", f.path)
		}
		if _, dup := classes[name]; dup {
			return fmt.Errorf("roster %s: class %q listed twice", f.path, name)
		}
		students := make([]enroll.Student, 0, len(c.Students))
		for _, s := range c.Students {
			s.Name = strings.TrimSpace(s.Name)
			if s.Name == "" {
				continue
			}
			if s.Class == "" {
				s.Class = name
			}
			students = append(students, s)
		}
		classes[name] = students
		order = append(order, name)
		total += len(students)
	}
	sort.Strings(order)

	f.classes = classes
	f.order = order
	f.modTime = st.ModTime()
	logger.Info("roster: loaded %d classes, %d students from %s", len(order), total, f.path)
	return nil
}
