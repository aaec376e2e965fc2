package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the conversation key length in bytes (AES-256).
	KeySize = 32
	// KeyIterations is the PBKDF2 iteration count used for every conversation key.
	KeyIterations = 100_000

	keySalt          = "e2echat-conversation-key-salt-v1"
	directSeparator  = "_"
	groupKeyPrefix   = "group_chat_"
	fingerprintBytes = 16
)

var (
	// ErrInvalidIdentifier indicates a missing participant or group identifier.
	ErrInvalidIdentifier = errors.New("crypto: invalid identifier")
)

// Key is a symmetric conversation key. It is derived on demand and never persisted.
type Key [KeySize]byte

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Fingerprint returns the truncated SHA-256 hex fingerprint of the key.
//
// Both participants of a conversation derive the same key, so equal fingerprints
// confirm out of band that they will be able to read each other.
func (k Key) Fingerprint() string {
	sum := sha256.Sum256(k[:])
	return hex.EncodeToString(sum[:fingerprintBytes])
}

// DeriveKey derives the conversation key for a direct chat between a and b, or for
// group a when group is true (b is ignored for groups).
//
// Direct chat ids are sorted first so both participants get the same key.
func DeriveKey(a, b string, group bool) (Key, error) {
	canonical, err := canonicalKeyInput(a, b, group)
	if err != nil {
		return Key{}, err
	}

	var key Key
	copy(key[:], pbkdf2.Key([]byte(canonical), []byte(keySalt), KeyIterations, KeySize, sha256.New))
	return key, nil
}

func canonicalKeyInput(a, b string, group bool) (string, error) {
	if group {
		if a == "" {
			return "", ErrInvalidIdentifier
		}
		return groupKeyPrefix + a, nil
	}

	if a == "" || b == "" {
		return "", ErrInvalidIdentifier
	}
	if b < a {
		a, b = b, a
	}
	return a + directSeparator + b, nil
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(clean[i:min(i+4, len(clean))])
	}

	return b.String()
}
