package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestKeyStore(t *testing.T) {
	keysFile := filepath.Join(t.TempDir(), "keys.toml")

	store, err := NewStore(keysFile)
	if err != nil {
		t.Fatalf("Failed to create key store: %v", err)
	}

	// A missing file bootstraps an admin entry.
	users := store.Users()
	if len(users) != 1 || users[0].User != "admin" {
		t.Fatalf("Expected bootstrapped admin, got %+v", users)
	}

	t.Run("GenerateAndValidate", func(t *testing.T) {
		key, err := store.GenerateKey("alice")
		if err != nil {
			t.Fatalf("GenerateKey failed: %v", err)
		}

		user, ok := store.Validate(key)
		if !ok || user != "alice" {
			t.Errorf("Expected alice, got %q ok=%v", user, ok)
		}

		if _, ok := store.Validate("wrong-key"); ok {
			t.Error("Expected validation to fail for unknown key")
		}
		if _, ok := store.Validate(""); ok {
			t.Error("Expected validation to fail for empty key")
		}
	})

	t.Run("DuplicateUser", func(t *testing.T) {
		if _, err := store.GenerateKey("alice"); err != ErrUserExists {
			t.Errorf("Expected ErrUserExists, got %v", err)
		}
	})

	t.Run("UsersNeverExposeHashes", func(t *testing.T) {
		for _, u := range store.Users() {
			if u.KeyHash != "" {
				t.Errorf("User listing leaked key material for %s", u.User)
			}
		}
	})

	t.Run("RemoveUser", func(t *testing.T) {
		key, err := store.GenerateKey("bob")
		if err != nil {
			t.Fatalf("GenerateKey failed: %v", err)
		}

		removed, err := store.RemoveUser("bob")
		if err != nil || !removed {
			t.Fatalf("RemoveUser failed: removed=%v err=%v", removed, err)
		}
		if _, ok := store.Validate(key); ok {
			t.Error("Revoked key still validates")
		}

		removed, err = store.RemoveUser("nonexistent")
		if err != nil {
			t.Fatalf("RemoveUser errored: %v", err)
		}
		if removed {
			t.Error("Expected removed=false for unknown user")
		}
	})
}

func TestPlaintextKeysAreMigrated(t *testing.T) {
	keysFile := filepath.Join(t.TempDir(), "keys.toml")

	// A hand-written file with a plaintext key.
	content := `[[keys]]
user = "carol"
key_hash = "super-secret-key"
created = "2026-01-01 00:00:00"
`
	if err := os.WriteFile(keysFile, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write keys file: %v", err)
	}

	store, err := NewStore(keysFile)
	if err != nil {
		t.Fatalf("Failed to load key store: %v", err)
	}

	user, ok := store.Validate("super-secret-key")
	if !ok || user != "carol" {
		t.Fatalf("Plaintext key no longer validates: %q ok=%v", user, ok)
	}

	// The file on disk must now hold a hash, not the plaintext.
	data, err := os.ReadFile(keysFile)
	if err != nil {
		t.Fatalf("Failed to read keys file: %v", err)
	}
	if strings.Contains(string(data), "super-secret-key") {
		t.Error("Plaintext key survived on disk")
	}
	if !strings.Contains(string(data), "$2") {
		t.Error("No bcrypt hash found on disk")
	}
}

func TestNewKeyStringIsRandom(t *testing.T) {
	a, b := NewKeyString(), NewKeyString()
	if a == b {
		t.Error("Two generated keys are identical")
	}
	if len(a) < 32 {
		t.Errorf("Key material too short: %d chars", len(a))
	}
}
