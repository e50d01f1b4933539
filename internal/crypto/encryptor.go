package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
)

// Values written while encryption is disabled carry this prefix and are
// accepted by Decrypt forever, so encryption can be turned on without
// rewriting existing rows.
const plainPrefix = "PLAIN:"

const nonceSize = 12

// Encryptor seals values for storage at rest with AES-256-GCM. Every call
// uses a fresh random IV; the key id is embedded in the envelope so rows
// survive a key id rename with a warning instead of an outage.
//
// Envelope layout, base64 encoded:
//
//	[1 byte key id length][key id][12 byte IV][ciphertext + 16 byte tag]
type Encryptor struct {
	gcm    cipher.AEAD
	keyID  string
	logger logging.Logger
}

// NewEncryptor builds an encryptor from a base64-encoded key. An empty key
// disables encryption: values are stored plaintext-tagged. A configured key
// that is not exactly 256 bits is refused.
func NewEncryptor(base64Key, keyID string, logger logging.Logger) (*Encryptor, error) {
	if len(keyID) > 255 {
		return nil, apperrors.ErrValidation.WithMessage("encryption key id must be at most 255 bytes")
	}

	e := &Encryptor{keyID: keyID, logger: logger}
	if base64Key == "" {
		return e, nil
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, apperrors.ErrValidation.WithMessage("encryption key is not valid base64").WithError(err)
	}
	if len(key) != 32 {
		return nil, apperrors.ErrValidation.WithMessage(
			fmt.Sprintf("encryption key must be 256 bits, got %d", len(key)*8))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	e.gcm = gcm
	return e, nil
}

// Enabled reports whether values are actually encrypted.
func (e *Encryptor) Enabled() bool {
	return e.gcm != nil
}

// Encrypt seals plaintext for storage. With encryption disabled the value
// is stored base64 encoded under the PLAIN: prefix.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	if !e.Enabled() {
		return plainPrefix + base64.StdEncoding.EncodeToString(plaintext), nil
	}

	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating IV: %w", err)
	}

	sealed := e.gcm.Seal(nil, iv, plaintext, nil)

	buf := make([]byte, 0, 1+len(e.keyID)+nonceSize+len(sealed))
	buf = append(buf, byte(len(e.keyID)))
	buf = append(buf, e.keyID...)
	buf = append(buf, iv...)
	buf = append(buf, sealed...)

	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens a stored value. PLAIN: values are accepted regardless of
// whether encryption is currently enabled. A key id mismatch is logged but
// decryption is still attempted with the configured key.
func (e *Encryptor) Decrypt(stored string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(stored, plainPrefix); ok {
		plaintext, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, apperrors.ErrValidation.WithMessage("malformed plaintext value").WithError(err)
		}
		return plaintext, nil
	}

	if !e.Enabled() {
		return nil, apperrors.ErrValidation.WithMessage("encrypted value found but encryption is not configured")
	}

	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, apperrors.ErrValidation.WithMessage("malformed encrypted value").WithError(err)
	}
	if len(raw) < 1 {
		return nil, apperrors.ErrValidation.WithMessage("malformed encrypted value: empty envelope")
	}

	idLen := int(raw[0])
	minLen := 1 + idLen + nonceSize + e.gcm.Overhead()
	if len(raw) < minLen {
		return nil, apperrors.ErrValidation.WithMessage(
			fmt.Sprintf("malformed encrypted value: %d bytes, need at least %d", len(raw), minLen))
	}

	keyID := string(raw[1 : 1+idLen])
	if keyID != e.keyID && e.logger != nil {
		e.logger.Warn(context.Background(), "Encrypted value carries a different key id",
			logging.String("stored_key_id", keyID),
			logging.String("configured_key_id", e.keyID))
	}

	iv := raw[1+idLen : 1+idLen+nonceSize]
	ciphertext := raw[1+idLen+nonceSize:]

	plaintext, err := e.gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, apperrors.ErrValidation.WithMessage("decryption failed").WithError(err)
	}
	return plaintext, nil
}

// EncryptString is Encrypt for string values.
func (e *Encryptor) EncryptString(plaintext string) (string, error) {
	return e.Encrypt([]byte(plaintext))
}

// DecryptString is Decrypt for string values.
func (e *Encryptor) DecryptString(stored string) (string, error) {
	plaintext, err := e.Decrypt(stored)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
