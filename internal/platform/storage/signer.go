package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
)

// Signer signs V4 URL payloads for attachment downloads.
type Signer interface {
	// Email becomes the GoogleAccessID of the signed URL.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner holds a service account's RSA key in memory.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

// LoadSigner reads a service account key file. An empty path returns (nil, nil) and the GCS
// store then omits download links.
func LoadSigner(path string) (Signer, error) {
	if path = strings.TrimSpace(path); path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: signer key %s: %w", path, err)
	}
	signer, err := ParseSigner(raw)
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// ParseSigner accepts the JSON key file downloaded from IAM. PKCS#1 and PKCS#8 keys both work.
func ParseSigner(raw []byte) (*KeySigner, error) {
	var account struct {
		Type        string `json:"type"`
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, fmt.Errorf("storage: signer key is not JSON: %w", err)
	}
	if account.Type != "" && account.Type != "service_account" {
		return nil, fmt.Errorf("storage: signer key type %q is not service_account", account.Type)
	}
	email := strings.TrimSpace(account.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: signer key has no client_email")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("storage: signer private_key: %w", err)
	}
	return &KeySigner{email: email, key: key}, nil
}

func (s *KeySigner) Email() string { return s.email }

// SignBytes returns an RSASSA-PKCS1-v1_5 SHA-256 signature, the scheme GCS expects for
// GOOG4-RSA-SHA256.
func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign: %w", err)
	}
	return sig, nil
}
