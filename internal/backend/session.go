package backend

import (
	"fmt"
	"time"
)

// SessionLayout names session directories. It sorts lexicographically in
// chronological order and round-trips through Parse/Format.
const SessionLayout = "2006-01-02T150405Z"

// Session is one backup run, identified by its UTC start second.
type Session struct {
	Start time.Time
}

// NewSession returns the session starting at t, truncated to the second.
func NewSession(t time.Time) Session {
	return Session{Start: t.UTC().Truncate(time.Second)}
}

// Name is the directory name of the session.
func (s Session) Name() string {
	return s.Start.UTC().Format(SessionLayout)
}

func (s Session) String() string {
	return s.Name()
}

// IsZero reports whether the session is unset.
func (s Session) IsZero() bool {
	return s.Start.IsZero()
}

// ParseSession parses a session directory name. Names that are not exactly
// in SessionLayout are rejected.
func ParseSession(name string) (Session, error) {
	t, err := time.Parse(SessionLayout, name)
	if err != nil {
		return Session{}, fmt.Errorf("backend: %q is not a session name: %w", name, err)
	}

	s := Session{Start: t.UTC()}
	if s.Name() != name {
		return Session{}, fmt.Errorf("backend: %q is not a canonical session name", name)
	}

	return s, nil
}
