package integrity

import (
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/tandemfamily/tandem/internal/platform/errors"
)

// Keyring stores root HMAC keys and the active key id.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
}

// NewKeyring constructs a keyring for HMAC signing and verification.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active hmac key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active hmac key id is not configured")
	}
	return &Keyring{keys: keys, activeKeyID: activeKeyID}, nil
}

// ActiveKeyID returns the configured signing key id.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// SignDigest signs a record digest with the active key and returns the
// signature and the key id that produced it.
func (k *Keyring) SignDigest(tenantID, digest string) (string, string, error) {
	if k == nil {
		return "", "", fmt.Errorf("hmac keyring is not configured")
	}
	keyID := k.activeKeyID
	key, err := k.deriveKey(keyID, tenantID)
	if err != nil {
		return "", "", err
	}
	sig := hmacSHA256Hex(key, digest)
	return sig, keyID, nil
}

// VerifyDigest validates a record digest signature.
func (k *Keyring) VerifyDigest(tenantID, digest, signature, keyID string) error {
	if k == nil {
		return fmt.Errorf("hmac keyring is not configured")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return fmt.Errorf("signature key id is required")
	}
	rootKey, ok := k.keys[keyID]
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeIntegrityKeyMissing,
			"signature key id is unknown",
			map[string]string{"key_id": keyID})
	}
	key, err := deriveTenantKey(rootKey, tenantID)
	if err != nil {
		return err
	}
	expected := hmacSHA256Hex(key, digest)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (k *Keyring) deriveKey(keyID, tenantID string) ([]byte, error) {
	rootKey, ok := k.keys[keyID]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeIntegrityKeyMissing,
			"hmac key id is unknown",
			map[string]string{"key_id": keyID})
	}
	return deriveTenantKey(rootKey, tenantID)
}

func deriveTenantKey(rootKey []byte, tenantID string) ([]byte, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	key, err := hkdf.Key(sha256.New, rootKey, nil, "tenant:"+tenantID, 32)
	if err != nil {
		return nil, fmt.Errorf("derive tenant key: %w", err)
	}
	return key, nil
}

func hmacSHA256Hex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
