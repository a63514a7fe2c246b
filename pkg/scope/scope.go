// Package scope provides the scope tuple that qualifies every memory record,
// plus the content-addressed fingerprint service and the cache/lock key
// layout derived from it.
package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// sep joins scope fields and separates scope from content inside the hash
// input. 0x1F (unit separator) cannot occur in normalized text.
const sep = "\x1f"

// ErrIncompleteScope is returned when tenant or user is missing.
var ErrIncompleteScope = errors.New("scope requires tenant and user")

// Scope qualifies every read and write. Tenant and User are required;
// Agent, Session, and Project narrow the scope further.
type Scope struct {
	Tenant  string `json:"tenant"`
	User    string `json:"user"`
	Agent   string `json:"agent,omitempty"`
	Session string `json:"session,omitempty"`
	Project string `json:"project,omitempty"`
}

// Validate checks scope completeness.
func (s Scope) Validate() error {
	if s.Tenant == "" || s.User == "" {
		return ErrIncompleteScope
	}
	return nil
}

// Canonical returns the stable serialized form of the scope used for
// hashing. All five fields participate so that records in narrower scopes
// never collide with records in wider ones.
func (s Scope) Canonical() string {
	return strings.Join([]string{s.Tenant, s.User, s.Agent, s.Session, s.Project}, sep)
}

// Hash returns a short stable hash of the scope used in cache and lock keys.
func (s Scope) Hash() string {
	sum := sha256.Sum256([]byte(s.Canonical()))
	return hex.EncodeToString(sum[:8])
}

// NormalizeContent canonicalizes content for hashing: trimmed, NFKC
// normalized, lowercased. Records store the verbatim content; this form
// exists only so identical memories fingerprint identically.
func NormalizeContent(content string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(content)))
}

// Fingerprint computes the content-addressed record ID: a 128-bit hash of
// the canonical scope and normalized content, rendered in UUID form so
// vector backends with UUID point IDs accept it as-is. Two writes with the
// same scope and content always produce the same ID.
func Fingerprint(s Scope, content string) string {
	sum := sha256.Sum256([]byte(s.Canonical() + sep + NormalizeContent(content)))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// FromBytes only fails on length mismatch, which cannot happen here.
		return hex.EncodeToString(sum[:16])
	}
	return id.String()
}

// QueryHash hashes a query string (or any canonical filter serialization)
// for use inside cache keys.
func QueryHash(q string) string {
	sum := sha256.Sum256([]byte(q))
	return hex.EncodeToString(sum[:8])
}

// Cache and lock key layout. Invalidation on write is by scope prefix.

// CachePrefix returns the invalidation prefix for all cached reads in a scope.
func CachePrefix(scopeHash string) string {
	return "mem:v1:" + scopeHash + ":"
}

// SearchKey returns the cache key for a search result blob.
func SearchKey(scopeHash, queryHash string) string {
	return CachePrefix(scopeHash) + "search:" + queryHash
}

// ContextKey returns the cache key for a context-preset result blob.
func ContextKey(scopeHash, queryHash string) string {
	return CachePrefix(scopeHash) + "context:" + queryHash
}

// IDKey returns the cache key for a single rehydrated record.
func IDKey(scopeHash, id string) string {
	return CachePrefix(scopeHash) + "id:" + id
}

// WriteLockKey returns the lock key serializing writes to one fingerprint.
func WriteLockKey(scopeHash, id string) string {
	return "lock:mem:" + scopeHash + ":" + id
}

// ResolveLockKey returns the lock key serializing conflict resolution over a
// set of record IDs. The set is order-insensitive.
func ResolveLockKey(scopeHash string, ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return "lock:resolve:" + scopeHash + ":" + QueryHash(strings.Join(sorted, sep))
}
