package memstore

import (
	"context"
	"sync"

	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/sessions"
)

var _ sessions.Repo = (*Store)(nil)

// Store keeps the session in process memory. It backs the tab scope, and
// stands in for the durable scope in tests.
type Store struct {
	values map[string]string
	lock   sync.RWMutex
}

func New() *Store {
	return &Store{}
}

func (s *Store) Save(_ context.Context, session sessions.Session) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.values = session.Values()
	return nil
}

func (s *Store) Load(_ context.Context) (sessions.Session, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if len(s.values) == 0 {
		return sessions.Session{}, conerrors.ErrNotFound
	}
	return sessions.FromValues(s.values), nil
}

func (s *Store) Clear(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.values = nil
	return nil
}

// Get returns a single persisted value. Tests use it to assert on the raw layout.
func (s *Store) Get(key string) (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of persisted keys.
func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.values)
}
