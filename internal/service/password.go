package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2SaltBytes = 16
	pbkdf2KeyBytes  = 32
)

// HashPassword derives a PBKDF2-SHA256 hash and serializes it as
// $pbkdf2$<iterations>$<salt-hex>$<hash-hex>.
func HashPassword(password string, iterations int) (string, error) {
	salt := make([]byte, pbkdf2SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, iterations, pbkdf2KeyBytes, sha256.New)
	return fmt.Sprintf("$pbkdf2$%d$%s$%s", iterations, hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

// VerifyPassword checks a password against a stored hash. Hashes matching
// the $pbkdf2$ grammar are recomputed with the stored salt and iteration
// count; anything else is treated as a legacy plaintext password and
// compared in constant time. The second return value reports whether the
// stored value is legacy and should be upgraded on successful login.
func VerifyPassword(stored, password string) (ok bool, legacy bool) {
	iterations, salt, want, err := parsePBKDF2(stored)
	if err != nil {
		// Legacy path: direct comparison against the stored plaintext.
		return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1, true
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1, false
}

func parsePBKDF2(stored string) (iterations int, salt, hash []byte, err error) {
	parts := strings.Split(stored, "$")
	// ["", "pbkdf2", iterations, salt, hash]
	if len(parts) != 5 || parts[0] != "" || parts[1] != "pbkdf2" {
		return 0, nil, nil, fmt.Errorf("not a pbkdf2 hash")
	}
	iterations, err = strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, fmt.Errorf("invalid iteration count")
	}
	salt, err = hex.DecodeString(parts[3])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, fmt.Errorf("invalid salt")
	}
	hash, err = hex.DecodeString(parts[4])
	if err != nil || len(hash) == 0 {
		return 0, nil, nil, fmt.Errorf("invalid digest")
	}
	return iterations, salt, hash, nil
}
