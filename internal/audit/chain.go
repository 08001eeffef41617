// Package audit implements the append-only, hash-chained, HMAC-signed audit
// log: each entry's previousHash links to the prior entry's
// (signature, timestamp) pair, and signature is an HMAC over the entry's
// own canonicalized fields. This detects tampering; it does not prevent
// direct row edits by a writer with raw database access — see the
// repository layer's revoke of UPDATE/DELETE grants on this table.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/smallbiznis/shieldcart-auth/internal/domain"
)

// Repository is the minimal persistence contract the chain writer needs.
type Repository interface {
	Latest(ctx context.Context) (*domain.AuditLogEntry, error)
	Insert(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error)
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]domain.AuditLogEntry, error)
}

// Writer appends entries to the chain, computing previousHash and signature
// on every insert.
type Writer struct {
	repo Repository
	key  []byte
}

// NewWriter builds a Writer signing with the given process-wide HMAC key.
func NewWriter(repo Repository, signingKey []byte) *Writer {
	return &Writer{repo: repo, key: signingKey}
}

// Append writes a new entry, linking it to the current chain head. Per the
// spec's propagation policy, audit-write failures are logged by the caller
// but never block the security-critical operation that triggered them —
// this method returns the error and leaves that decision to the caller.
func (w *Writer) Append(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error) {
	latest, err := w.repo.Latest(ctx)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("load chain head: %w", err)
	}

	entry.Timestamp = time.Now().UTC()
	if latest != nil {
		entry.PreviousHash = linkHash(latest.Signature, latest.Timestamp)
	}
	entry.Signature = w.sign(entry)

	created, err := w.repo.Insert(ctx, entry)
	if err != nil {
		return domain.AuditLogEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return created, nil
}

func (w *Writer) sign(entry domain.AuditLogEntry) string {
	mac := hmac.New(sha256.New, w.key)
	mac.Write([]byte(canonical(entry)))
	return hex.EncodeToString(mac.Sum(nil))
}

func canonical(entry domain.AuditLogEntry) string {
	userID := "null"
	if entry.UserID != nil {
		userID = strconv.FormatInt(*entry.UserID, 10)
	}
	return entry.Timestamp.Format(time.RFC3339Nano) + "|" +
		string(entry.EventType) + "|" +
		userID + "|" +
		entry.Action + "|" +
		entry.Resource + "|" +
		string(entry.Result)
}

func linkHash(signature string, timestamp time.Time) string {
	sum := sha256.Sum256([]byte(signature + timestamp.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

// VerifyEntry recomputes entry's signature and compares it against the
// stored value with subtle.ConstantTimeCompare, which is constant-time for
// equal-length inputs and returns immediately when the lengths differ.
func (w *Writer) VerifyEntry(entry domain.AuditLogEntry) bool {
	expected := w.sign(entry)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(entry.Signature)) == 1
}

// ChainBreak describes the first point where forward verification failed.
type ChainBreak struct {
	EntryID int64
	Reason  string
}

// VerifyChain walks entries (assumed ordered by timestamp ascending) and
// reports the first break in either the signature or the previousHash
// linkage. A nil return means the chain verified cleanly end to end.
func (w *Writer) VerifyChain(entries []domain.AuditLogEntry) *ChainBreak {
	var prev *domain.AuditLogEntry
	for i := range entries {
		entry := entries[i]
		if !w.VerifyEntry(entry) {
			return &ChainBreak{EntryID: entry.ID, Reason: "signature mismatch"}
		}
		if prev != nil {
			expected := linkHash(prev.Signature, prev.Timestamp)
			if entry.PreviousHash != expected {
				return &ChainBreak{EntryID: entry.ID, Reason: "previousHash mismatch"}
			}
		}
		prev = &entries[i]
	}
	return nil
}
