// Package history keeps finished enrollment and delete runs as YAML
// streams, one file per UTC day.
package history

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hnrobert/facenroll/internal/datadir"
	"github.com/hnrobert/facenroll/internal/enroll"
)

var ErrNotFound = errors.New("run not found")

const defaultRetentionDays = 90

type Store struct {
	mu      sync.RWMutex
	dir     string
	records []enroll.Record
}

func NewStore(dir string) *Store {
	return &Store{dir: filepath.Clean(dir)}
}

// Load reads every daily file into memory, ordered by start time.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := datadir.EnsureDir(s.dir); err != nil {
		return err
	}
	files, err := s.listDailyFilesLocked()
	if err != nil {
		return err
	}
	merged := make([]enroll.Record, 0)
	for _, name := range files {
		recs, err := readDailyFile(filepath.Join(s.dir, name))
		if err != nil {
			return fmt.Errorf("history %s: %w", name, err)
		}
		merged = append(merged, recs...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartedAt.Before(merged[j].StartedAt)
	})
	s.records = merged
	return nil
}

func readDailyFile(path string) ([]enroll.Record, error) {
	b, err := datadir.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []enroll.Record
	d := yaml.NewDecoder(bytes.NewReader(b))
	for {
		var rec enroll.Record
		if err := d.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		if rec.ID != "" {
			out = append(out, rec)
		}
	}
}

// Append stores rec in memory and appends it to its day's file, then
// drops runs older than retentionDays.
func (s *Store) Append(rec enroll.Record, retentionDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = enroll.NewRecordID()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	rec.StartedAt = rec.StartedAt.UTC()
	rec.FinishedAt = rec.FinishedAt.UTC()

	if err := datadir.EnsureDir(s.dir); err != nil {
		return err
	}
	if err := appendRecordToDailyFile(s.dailyPath(rec.StartedAt), rec); err != nil {
		return err
	}
	s.records = append(s.records, rec)

	if s.pruneLocked(retentionDays, time.Now()) {
		return s.saveLocked()
	}
	return nil
}

func (s *Store) pruneLocked(retentionDays int, now time.Time) bool {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	before := len(s.records)
	cutoff := now.UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	keep := s.records[:0]
	for _, r := range s.records {
		if r.StartedAt.After(cutoff) {
			keep = append(keep, r)
		}
	}
	s.records = keep
	return len(s.records) != before
}

func (s *Store) Prune(retentionDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pruneLocked(retentionDays, time.Now()) {
		return nil
	}
	return s.saveLocked()
}

// List returns runs started at or after since, newest first. limit <= 0
// means no limit.
func (s *Store) List(since time.Time, limit int) []enroll.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]enroll.Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !since.IsZero() && r.StartedAt.Before(since) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *Store) Get(id string) (enroll.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return enroll.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Store) dailyPath(t time.Time) string {
	return filepath.Join(s.dir, t.UTC().Format("2006-01-02")+".yaml")
}

// saveLocked rewrites the daily files from memory and removes days that no
// longer hold any run.
func (s *Store) saveLocked() error {
	byDate := map[string][]enroll.Record{}
	for _, r := range s.records {
		key := r.StartedAt.UTC().Format("2006-01-02")
		byDate[key] = append(byDate[key], r)
	}
	for date, recs := range byDate {
		if err := writeYAMLAtomic(filepath.Join(s.dir, date+".yaml"), recs); err != nil {
			return err
		}
	}
	existing, err := s.listDailyFilesLocked()
	if err != nil {
		return err
	}
	for _, name := range existing {
		if _, ok := byDate[strings.TrimSuffix(name, filepath.Ext(name))]; ok {
			continue
		}
		_ = os.Remove(filepath.Join(s.dir, name))
	}
	return nil
}

func isDailyFileName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	base := name[:len(name)-len(ext)]
	if len(base) != len("2006-01-02") {
		return false
	}
	_, err := time.Parse("2006-01-02", base)
	return err == nil
}

func (s *Store) listDailyFilesLocked() ([]string, error) {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	files := make([]string, 0, len(ents))
	for _, ent := range ents {
		if !ent.IsDir() && isDailyFileName(ent.Name()) {
			files = append(files, ent.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func formatYAMLRecord(rec enroll.Record) ([]byte, error) {
	b, err := yaml.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append([]byte("---\n"), b...), nil
}

func appendRecordToDailyFile(path string, rec enroll.Record) error {
	doc, err := formatYAMLRecord(rec)
	if err != nil {
		return err
	}
	return datadir.AppendFile(path, doc, datadir.PermData)
}

func writeYAMLAtomic(path string, recs []enroll.Record) error {
	var buf []byte
	for _, r := range recs {
		doc, err := formatYAMLRecord(r)
		if err != nil {
			return err
		}
		buf = append(buf, doc...)
	}
	return datadir.WriteFileAtomic(path, buf, datadir.PermData)
}
