package filestore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	conerrors "github.com/jrsteele09/order101-console/internal/errors"
	"github.com/jrsteele09/order101-console/sessions"
	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	fileName  = "session.bin"
	nonceSize = 24
)

var _ sessions.Repo = (*Store)(nil)

// Store persists the session to a single file sealed with NaCl secretbox.
// Saves go through a temp file and a rename, so readers never see half a group.
type Store struct {
	path string
	key  [32]byte
	lock sync.Mutex
}

// New creates a file store under folder. The encryption key is derived from passphrase.
func New(folder, passphrase string) (*Store, error) {
	if passphrase == "" {
		return nil, errors.New("[New] passphrase is required")
	}
	if err := os.MkdirAll(folder, 0o700); err != nil {
		return nil, errors.Wrap(err, "[New] failed to create folder")
	}
	return &Store{
		path: filepath.Join(folder, fileName),
		key:  sha256.Sum256([]byte(passphrase)),
	}, nil
}

func (s *Store) Save(_ context.Context, session sessions.Session) error {
	plain, err := json.Marshal(session.Values())
	if err != nil {
		return errors.Wrap(err, "[Save] failed to encode session")
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return errors.Wrap(err, "[Save] failed to generate nonce")
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.key)

	s.lock.Lock()
	defer s.lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), fileName+".*")
	if err != nil {
		return errors.Wrap(err, "[Save] failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[Save] failed to write session")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[Save] failed to close temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "[Save] failed to replace session file")
	}
	return nil
}

func (s *Store) Load(_ context.Context) (sessions.Session, error) {
	s.lock.Lock()
	data, err := os.ReadFile(s.path)
	s.lock.Unlock()
	if os.IsNotExist(err) {
		return sessions.Session{}, conerrors.ErrNotFound
	}
	if err != nil {
		return sessions.Session{}, errors.Wrap(err, "[Load] failed to read session file")
	}
	if len(data) < nonceSize+secretbox.Overhead {
		return sessions.Session{}, conerrors.ErrCorruptStore
	}

	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &s.key)
	if !ok {
		return sessions.Session{}, conerrors.ErrCorruptStore
	}

	values := make(map[string]string)
	if err := json.Unmarshal(plain, &values); err != nil {
		return sessions.Session{}, conerrors.Wrapf(conerrors.ErrCorruptStore, "decode: %v", err)
	}
	return sessions.FromValues(values), nil
}

func (s *Store) Clear(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[Clear] failed to remove session file")
	}
	return nil
}
