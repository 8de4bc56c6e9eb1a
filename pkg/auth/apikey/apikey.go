// Package apikey authenticates learners and instructors by static
// bearer keys, the form an LMS integration or classroom config hands out.
// Only SHA-256 digests of the keys are held in memory.
package apikey

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"net/http"

	"github.com/rhuss/vibe/pkg/auth"
)

// RawKeyEntry is one configured key and the identity it grants.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// Authenticator maps bearer key digests to identities.
type Authenticator struct {
	keys map[[sha256.Size]byte]auth.Identity
}

// New hashes the configured keys. Empty keys are skipped; when a key is
// listed twice the later identity wins.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{keys: make(map[[sha256.Size]byte]auth.Identity, len(entries))}
	for i, e := range entries {
		if e.Key == "" {
			slog.Warn("skipping empty api key", "index", i, "subject", e.Identity.Subject)
			continue
		}
		sum := sha256.Sum256([]byte(e.Key))
		if prev, dup := a.keys[sum]; dup {
			slog.Warn("duplicate api key", "previous_subject", prev.Subject, "subject", e.Identity.Subject)
		}
		a.keys[sum] = e.Identity
	}
	return a
}

// Len reports how many distinct keys are configured.
func (a *Authenticator) Len() int { return len(a.keys) }

// Authenticate abstains without a bearer token so another authenticator
// in the chain can decide, and rejects unknown keys.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	token, ok := auth.BearerToken(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}
	// Lookup is by digest, so timing reveals nothing about stored keys.
	id, found := a.keys[sha256.Sum256([]byte(token))]
	if !found {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: &id}
}
