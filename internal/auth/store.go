// Package auth validates per-user API keys against a TOML-backed store. Keys
// are kept only as bcrypt hashes; plaintext entries found in the file (added
// by hand) are hashed in place on load.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// ErrUserExists is returned when adding a key for a user that already has one.
var ErrUserExists = errors.New("user already exists")

// Key is one user's API key record.
type Key struct {
	User    string `toml:"user"`
	KeyHash string `toml:"key_hash"`
	Created string `toml:"created"`
}

// keyFile is the on-disk structure of keys.toml.
type keyFile struct {
	Keys []Key `toml:"keys"`
}

// Store loads API keys from a TOML file and validates presented keys. The
// file is re-read when its modification time changes, so keys added or
// revoked by the CLI take effect without a restart.
type Store struct {
	filePath string
	logger   *logrus.Logger

	mutex    sync.RWMutex
	keys     []Key
	loadedAt time.Time
}

// NewStore opens (or bootstraps) the key store at filePath. When the file
// does not exist an admin key is generated and printed once.
func NewStore(filePath string) (*Store, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	s := &Store{
		filePath: filePath,
		logger:   logger,
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := s.bootstrap(); err != nil {
			return nil, fmt.Errorf("failed to bootstrap key store: %w", err)
		}
		return s, nil
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load keys: %w", err)
	}
	return s, nil
}

// Validate checks a presented API key and returns the owning user. Stateless
// per request; every call sees the current file contents.
func (s *Store) Validate(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s.reloadIfChanged()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	for _, k := range s.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(key)) == nil {
			return k.User, true
		}
	}
	return "", false
}

// Users returns the known users and creation timestamps (never key material).
func (s *Store) Users() []Key {
	s.reloadIfChanged()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]Key, len(s.keys))
	for i, k := range s.keys {
		out[i] = Key{User: k.User, Created: k.Created}
	}
	return out
}

// AddKey stores a key for a new user. The plaintext is hashed and discarded.
func (s *Store) AddKey(user, key string) error {
	if user == "" || key == "" {
		return errors.New("user and key are required")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, k := range s.keys {
		if k.User == user {
			return ErrUserExists
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}
	s.keys = append(s.keys, Key{
		User:    user,
		KeyHash: string(hash),
		Created: time.Now().Format("2006-01-02 15:04:05"),
	})
	return s.saveLocked()
}

// GenerateKey creates a random key for a new user and returns the plaintext.
// This is the only moment the plaintext exists.
func (s *Store) GenerateKey(user string) (string, error) {
	key := NewKeyString()
	if err := s.AddKey(user, key); err != nil {
		return "", err
	}
	return key, nil
}

// RemoveUser revokes a user's key. Returns false when the user is unknown.
func (s *Store) RemoveUser(user string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for i, k := range s.keys {
		if k.User == user {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			return true, s.saveLocked()
		}
	}
	return false, nil
}

// NewKeyString returns fresh random key material.
func NewKeyString() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// bootstrap creates the key file with a generated admin key, printed to
// stdout once so the operator can record it.
func (s *Store) bootstrap() error {
	key, err := s.GenerateKey("admin")
	if err != nil {
		return err
	}

	fmt.Printf("\n"+
		"=====================================\n"+
		"API KEY STORE CREATED\n"+
		"User: admin\n"+
		"Key:  %s\n"+
		"Store this key now; only its hash is kept.\n"+
		"=====================================\n\n", key)

	s.logger.WithField("keys_file", s.filePath).Info("Created key store with admin key")
	return nil
}

// load reads the file, hashing any plaintext keys it finds.
func (s *Store) load() error {
	var kf keyFile
	if _, err := toml.DecodeFile(s.filePath, &kf); err != nil {
		return fmt.Errorf("failed to parse keys file: %w", err)
	}

	stat, err := os.Stat(s.filePath)
	if err != nil {
		return err
	}

	needsSave := false
	for i := range kf.Keys {
		if !isHashed(kf.Keys[i].KeyHash) {
			hash, err := bcrypt.GenerateFromPassword([]byte(kf.Keys[i].KeyHash), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("failed to hash key for user %s: %w", kf.Keys[i].User, err)
			}
			kf.Keys[i].KeyHash = string(hash)
			needsSave = true
		}
	}

	s.mutex.Lock()
	s.keys = kf.Keys
	s.loadedAt = stat.ModTime()
	var saveErr error
	if needsSave {
		saveErr = s.saveLocked()
	}
	s.mutex.Unlock()
	return saveErr
}

// reloadIfChanged re-reads the file when its mtime moved past our last load.
func (s *Store) reloadIfChanged() {
	stat, err := os.Stat(s.filePath)
	if err != nil {
		return
	}

	s.mutex.RLock()
	stale := stat.ModTime().After(s.loadedAt)
	s.mutex.RUnlock()
	if !stale {
		return
	}
	if err := s.load(); err != nil {
		s.logger.WithError(err).Error("Failed to reload keys file")
	}
}

// saveLocked writes the store back to disk. Caller holds the write lock.
func (s *Store) saveLocked() error {
	if dir := filepath.Dir(s.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create keys directory: %w", err)
		}
	}

	file, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write keys file: %w", err)
	}
	defer file.Close()

	header := "# Andante API keys. Keys are stored as bcrypt hashes.\n" +
		"# Use `andante-keys gen <user>` to issue a new key.\n\n"
	if _, err := file.WriteString(header); err != nil {
		return err
	}

	if err := toml.NewEncoder(file).Encode(keyFile{Keys: s.keys}); err != nil {
		return fmt.Errorf("failed to encode keys file: %w", err)
	}

	if stat, err := os.Stat(s.filePath); err == nil {
		s.loadedAt = stat.ModTime()
	}
	return nil
}

func isHashed(v string) bool {
	return strings.HasPrefix(v, "$2a$") || strings.HasPrefix(v, "$2b$") || strings.HasPrefix(v, "$2y$")
}
