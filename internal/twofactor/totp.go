// Package twofactor implements RFC 6238 TOTP codes and bcrypt-hashed,
// single-use backup codes, generalizing the time-counter HMAC shape the
// teacher's OTP grant used for phone login into a full 2FA device flow.
package twofactor

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// StepSeconds is the RFC 6238 time-step size.
	StepSeconds = 30
	// Digits is the code length generated and accepted.
	Digits = 6
	// Skew is how many adjacent steps (past and future) are accepted to
	// absorb clock drift between client and server.
	Skew = 1
	// SecretBytes is the raw entropy length of a newly generated TOTP seed.
	SecretBytes = 20
	// BackupCodeCount is how many single-use backup codes are minted per
	// enable/regenerate call.
	BackupCodeCount = 10
)

var ErrInvalidCode = errors.New("invalid totp code")

// GenerateSecret returns a new random TOTP seed, base32-encoded for
// display/QR provisioning and raw bytes for storage after encryption.
func GenerateSecret() (raw []byte, encoded string, err error) {
	raw = make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate totp secret: %w", err)
	}
	encoded = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return raw, encoded, nil
}

// Generate computes the TOTP code for secret at time t.
func Generate(secret []byte, t time.Time) string {
	return deriveCode(secret, counterFor(t, 0))
}

// Verify checks code against secret, accepting the current step and up to
// Skew steps on either side to tolerate client/server clock drift.
func Verify(secret []byte, code string, t time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return false
	}
	for offset := -Skew; offset <= Skew; offset++ {
		expected := deriveCode(secret, counterFor(t, offset))
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

func counterFor(t time.Time, stepOffset int) uint64 {
	return uint64(t.Unix()/StepSeconds) + uint64(int64(stepOffset))
}

func deriveCode(secret []byte, counter uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := new(big.Int).Exp(big.NewInt(10), big.NewInt(Digits), nil)
	code := new(big.Int).Mod(big.NewInt(int64(truncated)), mod)
	return fmt.Sprintf("%0*d", Digits, code.Int64())
}

// ProvisioningURI builds the otpauth:// URI an authenticator app scans to
// enroll the account, carrying the base32-encoded secret.
func ProvisioningURI(issuer, accountEmail, secretEncoded string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountEmail))
	values := url.Values{}
	values.Set("secret", secretEncoded)
	values.Set("issuer", issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", fmt.Sprintf("%d", Digits))
	values.Set("period", fmt.Sprintf("%d", StepSeconds))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, values.Encode())
}

// GenerateBackupCodes mints BackupCodeCount single-use codes, returning the
// plaintext codes to show the user once and their bcrypt hashes to persist.
func GenerateBackupCodes() (plaintext []string, hashes []string, err error) {
	plaintext = make([]string, 0, BackupCodeCount)
	hashes = make([]string, 0, BackupCodeCount)
	for i := 0; i < BackupCodeCount; i++ {
		code, err := randomBackupCode()
		if err != nil {
			return nil, nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, fmt.Errorf("hash backup code: %w", err)
		}
		plaintext = append(plaintext, code)
		hashes = append(hashes, string(hash))
	}
	return plaintext, hashes, nil
}

// ConsumeBackupCode finds the first hash in hashes matching code, returning
// the remaining hash set with that entry removed (single-use semantics).
func ConsumeBackupCode(code string, hashes []string) (remaining []string, ok bool) {
	for i, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil {
			remaining = append(remaining, hashes[:i]...)
			remaining = append(remaining, hashes[i+1:]...)
			return remaining, true
		}
	}
	return hashes, false
}

func randomBackupCode() (string, error) {
	const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	out := make([]byte, 10)
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate backup code: %w", err)
	}
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return fmt.Sprintf("%s-%s", out[:5], out[5:]), nil
}
