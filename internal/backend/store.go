package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"syscall"
	"time"
)

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// PrunedEntry is one principal's output removed from an old session.
type PrunedEntry struct {
	Session string
	Login   string
}

// PruneReport summarizes a retention pass.
type PruneReport struct {
	// Candidates are the sessions old enough to be considered.
	Candidates []string
	Pruned     []PrunedEntry
	// RemovedSessions are candidates whose directory became empty and was
	// deleted.
	RemovedSessions []string
}

// sessionStore owns the root directory layout shared by both backends:
// where the current session lives, how to delete it, and the retention scan
// over prior sessions. Backends differ only in how an entry name maps back
// to a login.
type sessionStore struct {
	root    string
	session Session
	logger  *slog.Logger

	// entryLogin reverses the backend's entry naming; ok is false for
	// entries the backend did not create.
	entryLogin func(name string, isDir bool) (login string, ok bool)
}

func (s *sessionStore) dir() string {
	return filepath.Join(s.root, s.session.Name())
}

func (s *sessionStore) ensureDir() error {
	if err := os.MkdirAll(s.dir(), dirPerms); err != nil {
		return fmt.Errorf("backend: creating session dir: %w", err)
	}

	return nil
}

// remove deletes the in-progress session.
func (s *sessionStore) remove() error {
	if err := os.RemoveAll(s.dir()); err != nil {
		return fmt.Errorf("backend: removing session %s: %w", s.session, err)
	}

	s.logger.Info("removed session output", slog.String("session", s.session.Name()))

	return nil
}

// prune deletes, from every session older than retentionDays relative to
// the current session, the entries of the logins in completed. A session
// directory left empty is removed. Running it twice deletes nothing the
// second time.
func (s *sessionStore) prune(ctx context.Context, completed []string, retentionDays int) (PruneReport, error) {
	var report PruneReport

	if retentionDays <= 0 || len(completed) == 0 {
		return report, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}

		return report, fmt.Errorf("backend: reading root %s: %w", s.root, err)
	}

	maxAge := time.Duration(retentionDays) * 24 * time.Hour

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if !e.IsDir() {
			continue
		}

		old, err := ParseSession(e.Name())
		if err != nil {
			s.logger.Debug("ignoring non-session entry", slog.String("name", e.Name()))
			continue
		}

		if age := s.session.Start.Sub(old.Start); age <= maxAge {
			continue
		}

		report.Candidates = append(report.Candidates, old.Name())

		pruned, err := s.pruneSession(old, completed)
		report.Pruned = append(report.Pruned, pruned...)

		if err != nil {
			return report, err
		}

		if len(pruned) == 0 {
			continue
		}

		removed, err := removeIfEmpty(filepath.Join(s.root, old.Name()))
		if err != nil {
			return report, fmt.Errorf("backend: removing session %s: %w", old, err)
		}

		if removed {
			report.RemovedSessions = append(report.RemovedSessions, old.Name())
			s.logger.Info("removed empty session", slog.String("session", old.Name()))
		}
	}

	return report, nil
}

func (s *sessionStore) pruneSession(old Session, completed []string) ([]PrunedEntry, error) {
	dir := filepath.Join(s.root, old.Name())

	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backend: reading session %s: %w", old, err)
	}

	var pruned []PrunedEntry

	for _, c := range children {
		login, ok := s.entryLogin(c.Name(), c.IsDir())
		if !ok || !slices.Contains(completed, login) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(dir, c.Name())); err != nil {
			return pruned, fmt.Errorf("backend: pruning %s from %s: %w", c.Name(), old, err)
		}

		s.logger.Info("pruned old backup",
			slog.String("session", old.Name()),
			slog.String("login", login),
		)

		pruned = append(pruned, PrunedEntry{Session: old.Name(), Login: login})
	}

	return pruned, nil
}

// removeIfEmpty removes dir unless it still has entries.
func removeIfEmpty(dir string) (bool, error) {
	err := os.Remove(dir)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
		return false, nil
	}

	return false, err
}
