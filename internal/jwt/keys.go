// Package jwt issues and verifies the RS256 access and refresh tokens,
// enforces the algorithm allow-list before any cryptographic verification,
// and provides device fingerprinting and automation detection over request
// headers.
package jwt

import (
	"crypto/rsa"
	"fmt"
	"os"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// KeyPair is a single RSA key pair loaded once at startup from operator-
// provisioned PEM files. Keys are never generated at runtime.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
	KeyID   string
}

// LoadKeyPair reads a PEM-encoded RSA private key from privPath; the public
// key is derived from it (operators provision one PEM file per key pair).
func LoadKeyPair(privPath, keyID string) (*KeyPair, error) {
	raw, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", privPath, err)
	}
	priv, err := gojwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", privPath, err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey, KeyID: keyID}, nil
}

// KeyManager holds the two independent RSA key pairs this service signs
// with: one for access tokens, one for refresh tokens. Keeping them
// independent means a compromised access-signing key can be rotated
// without invalidating every outstanding refresh session.
type KeyManager struct {
	Access  *KeyPair
	Refresh *KeyPair
}

// NewKeyManager loads both key pairs from the given PEM file paths.
func NewKeyManager(accessKeyPath, accessKeyID, refreshKeyPath, refreshKeyID string) (*KeyManager, error) {
	access, err := LoadKeyPair(accessKeyPath, accessKeyID)
	if err != nil {
		return nil, fmt.Errorf("load access key pair: %w", err)
	}
	refresh, err := LoadKeyPair(refreshKeyPath, refreshKeyID)
	if err != nil {
		return nil, fmt.Errorf("load refresh key pair: %w", err)
	}
	return &KeyManager{Access: access, Refresh: refresh}, nil
}
