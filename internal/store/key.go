package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for database key derivation.
const (
	keyTime    = 1
	keyMemory  = 64 * 1024
	keyThreads = 4
	keyLen     = 32
	saltLen    = 16
)

// deriveKeyHex derives a 256-bit database key from the passphrase with
// argon2id. The salt lives next to the database file and is created on
// first use; losing it makes the database unreadable.
func deriveKeyHex(dbPath, passphrase string) (string, error) {
	salt, err := loadOrCreateSalt(dbPath + ".salt")
	if err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(passphrase), salt, keyTime, keyMemory, keyThreads, keyLen)
	return hex.EncodeToString(key), nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltLen {
			return nil, fmt.Errorf("salt file %s has wrong length %d", path, len(salt))
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read salt file: %w", err)
	}

	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write salt file: %w", err)
	}
	return salt, nil
}
