// Copyright 2024-2026 Aiku AI

// Package archive keeps raw post snapshots on disk for a bounded time.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRetention is how long snapshots are kept.
const DefaultRetention = 28 * 24 * time.Hour

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Store writes snapshots into a single directory.
type Store struct {
	dir       string
	retention time.Duration
	now       func() time.Time
	remove    func(string) error
	log       zerolog.Logger
}

// New creates the archive directory if needed.
func New(dir string, retention time.Duration, log zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		dir:       dir,
		retention: retention,
		now:       time.Now,
		remove:    os.Remove,
		log:       log.With().Str("component", "archive").Logger(),
	}, nil
}

// Dir returns the archive directory.
func (s *Store) Dir() string {
	return s.dir
}

// FileName is the snapshot name of a post. Manually injected posts get a
// suffix so they never overwrite a streamed snapshot.
func FileName(handle, postID string, manual bool) string {
	name := unsafeNameRe.ReplaceAllString(handle, "_") + "-" + unsafeNameRe.ReplaceAllString(postID, "_")
	if manual {
		name += "-manual"
	}
	return name + ".json"
}

// Save writes a snapshot, replacing any previous file of the same name.
func (s *Store) Save(name string, data []byte) error {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid archive name %q", name)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	return nil
}

// Sweep removes snapshots older than the retention period. Files that
// cannot be inspected or removed are logged and skipped. It returns the
// number of removed files; the error is only set when the directory itself
// cannot be listed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list archive directory: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to stat archive file")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := s.remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to remove archive file")
			continue
		}
		removed++
	}

	s.log.Info().
		Int("removed", removed).
		Int("scanned", len(entries)).
		Dur("retention", s.retention).
		Msg("Archive sweep complete")
	return removed, nil
}
