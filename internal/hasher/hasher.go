// Package hasher normalizes publisher identifiers and hashes them with SHA-256.
// Values that already look like a SHA-256 hex digest pass through untouched.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
)

// digestRe matches a pre-hashed identifier.
var digestRe = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// DigestFunc computes a message digest. A nil DigestFunc means no digest
// support is available.
type DigestFunc func(msg []byte) ([]byte, error)

// SHA256 is the default digest.
func SHA256(msg []byte) ([]byte, error) {
	sum := sha256.Sum256(msg)
	return sum[:], nil
}

// Hasher hashes identifiers. The zero value has no digest support and
// hashes every raw identifier to "".
type Hasher struct {
	digest DigestFunc
}

// New creates a hasher using the given digest. Pass nil to simulate a
// platform without digest support.
func New(digest DigestFunc) *Hasher {
	return &Hasher{digest: digest}
}

// Hash returns the hashed form of identifier, or "" when there is nothing
// usable to send. Raw identifiers are never returned: if hashing is not
// possible the result is "".
func (h *Hasher) Hash(ctx context.Context, identifier string) string {
	if identifier == "" {
		return ""
	}

	if IsDigest(identifier) {
		return identifier
	}

	if h == nil || h.digest == nil {
		return ""
	}

	if ctx.Err() != nil {
		return ""
	}

	sum, err := h.digest([]byte(Normalize(identifier)))
	if err != nil || len(sum) == 0 {
		return ""
	}

	return hex.EncodeToString(sum)
}

// HashAll hashes email and puid concurrently and returns once both are done.
func (h *Hasher) HashAll(ctx context.Context, email, puid string) (hashedEmail, hashedPUID string) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hashedEmail = h.safeHash(gctx, email)
		return nil
	})
	g.Go(func() error {
		hashedPUID = h.safeHash(gctx, puid)
		return nil
	})

	_ = g.Wait()
	return hashedEmail, hashedPUID
}

// safeHash is Hash with a panicking digest treated as a failed one.
func (h *Hasher) safeHash(ctx context.Context, identifier string) (out string) {
	defer func() {
		if recover() != nil {
			out = ""
		}
	}()
	return h.Hash(ctx, identifier)
}

// IsDigest reports whether s is a 64 character hex string.
func IsDigest(s string) bool {
	return digestRe.MatchString(s)
}

// Normalize trims surrounding whitespace and lower-cases the identifier.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
