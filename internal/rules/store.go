// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package rules

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by [Store.Load] and [Store.Delete] when no rule
// set exists for the requested feed.
var ErrNotFound = errors.New("rule set not found")

// Store reads and writes rule sets as YAML files in a directory.
//
// The directory is the source of truth: every call re-reads it, there is no
// cache. Files written by Save follow the feed_<id>.yaml convention, but any
// *.yaml or *.yml file in the directory is picked up.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore returns a [Store] backed by dir. If log is nil, [slog.Default]
// is used.
func NewStore(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{dir: dir, log: log}
}

// Dir returns the directory the store reads from.
func (s *Store) Dir() string { return s.dir }

// LoadAll reads all rule sets from the store directory, sorted by feed id.
//
// A missing directory is created and yields an empty result. A malformed
// file is skipped with a warning and does not abort loading the rest. When
// two files declare the same feed id, the lexically later file wins.
func (s *Store) LoadAll() ([]*RuleSet, error) {
	byFeed, err := s.loadByFeed()
	if err != nil {
		return nil, err
	}
	all := make([]*RuleSet, 0, len(byFeed))
	for _, rs := range byFeed {
		all = append(all, rs)
	}
	slices.SortFunc(all, func(a, b *RuleSet) int {
		return cmp.Compare(a.FeedID, b.FeedID)
	})
	return all, nil
}

// ByFeed reads all rule sets keyed by feed id.
func (s *Store) ByFeed() (map[int64]*RuleSet, error) { return s.loadByFeed() }

func (s *Store) loadByFeed() (map[int64]*RuleSet, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating rules directory: %w", err)
	}

	files, err := s.ruleFiles()
	if err != nil {
		return nil, err
	}

	byFeed := make(map[int64]*RuleSet)
	for _, path := range files {
		rs, err := s.LoadFile(path)
		if err != nil {
			s.log.Warn("skipping rule file", "path", path, "error", err)
			continue
		}
		if _, dup := byFeed[rs.FeedID]; dup {
			s.log.Warn("duplicate rule set for feed, later file wins", "feed_id", rs.FeedID, "path", path)
		}
		byFeed[rs.FeedID] = rs
	}
	return byFeed, nil
}

// ruleFiles returns the absolute paths of rule files in the store directory,
// in lexical order.
func (s *Store) ruleFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading rules directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	// ReadDir sorts by filename, which makes duplicate resolution
	// deterministic.
	return files, nil
}

// LoadFile reads and validates a single rule file.
func (s *Store) LoadFile(path string) (*RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rs RuleSet
	if err := yaml.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", filepath.Base(path), err)
	}
	if rs.IsEmpty() {
		s.log.Warn("rule set has no rules", "feed_id", rs.FeedID, "path", path)
	}
	return &rs, nil
}

// Load returns the rule set for the given feed, or [ErrNotFound].
func (s *Store) Load(feedID int64) (*RuleSet, error) {
	byFeed, err := s.loadByFeed()
	if err != nil {
		return nil, err
	}
	rs, ok := byFeed[feedID]
	if !ok {
		return nil, fmt.Errorf("feed %d: %w", feedID, ErrNotFound)
	}
	return rs, nil
}

// Save validates rs and writes it to feed_<id>.yaml in the store directory,
// creating the directory if needed. The write goes through a temporary file
// and a rename, so a concurrent LoadAll never observes a torn file.
func (s *Store) Save(rs *RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating rules directory: %w", err)
	}

	b, err := yaml.Marshal(rs)
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, fmt.Sprintf("feed_%d.yaml", rs.FeedID))
	tmp, err := os.CreateTemp(s.dir, ".feed_*.yaml.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Delete removes the rule set for the given feed.
//
// Files are not required to follow the feed_<id>.yaml convention, so the
// directory is scanned and every file whose parsed feed_id matches is
// removed. Only the feed_id is parsed here, so a file whose rules no longer
// validate can still be deleted. Returns [ErrNotFound] if no file matches.
func (s *Store) Delete(feedID int64) error {
	files, err := s.ruleFiles()
	if err != nil {
		return err
	}

	var deleted bool
	for _, path := range files {
		id, err := feedIDOf(path)
		if err != nil {
			continue
		}
		if id != feedID {
			continue
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		deleted = true
	}
	if !deleted {
		return fmt.Errorf("feed %d: %w", feedID, ErrNotFound)
	}
	return nil
}

// feedIDOf extracts just the feed id from a rule file, without decoding or
// validating the rules.
func feedIDOf(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var hdr struct {
		FeedID int64 `yaml:"feed_id"`
	}
	if err := yaml.Unmarshal(b, &hdr); err != nil {
		return 0, err
	}
	return hdr.FeedID, nil
}
