// Package delegation implements NIP-26 event delegation: a delegator signs
// a short-lived token authorizing a delegatee pubkey to publish on its
// behalf, subject to kind and created_at conditions carried in the tag.
package delegation

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/minio/sha256-simd"

	"nightjar.dev/crypto"
	"nightjar.dev/encoders/hex"
	"nightjar.dev/encoders/tag"
	"nightjar.dev/event"
	"nightjar.dev/utils/errorf"
)

// Conditions is a parsed NIP-26 condition query string, e.g.
// "kind=1&created_at>1600000000&created_at<1700000000".
type Conditions struct {
	Kind        *uint16
	CreatedAtGT *int64
	CreatedAtLT *int64
}

// Parse decodes a conditions string into its constituent clauses. Unknown
// clauses are ignored, matching the permissive spirit of the NIP.
func Parse(s string) (c Conditions, err error) {
	for _, clause := range strings.Split(s, "&") {
		if clause == "" {
			continue
		}
		switch {
		case strings.HasPrefix(clause, "kind="):
			var n int64
			if n, err = strconv.ParseInt(clause[len("kind="):], 10, 32); err != nil {
				return c, errorf.E("delegation: bad kind condition %q: %w", clause, err)
			}
			k := uint16(n)
			c.Kind = &k
		case strings.HasPrefix(clause, "created_at>"):
			var n int64
			if n, err = strconv.ParseInt(clause[len("created_at>"):], 10, 64); err != nil {
				return c, errorf.E("delegation: bad created_at> condition %q: %w", clause, err)
			}
			c.CreatedAtGT = &n
		case strings.HasPrefix(clause, "created_at<"):
			var n int64
			if n, err = strconv.ParseInt(clause[len("created_at<"):], 10, 64); err != nil {
				return c, errorf.E("delegation: bad created_at< condition %q: %w", clause, err)
			}
			c.CreatedAtLT = &n
		}
	}
	return c, nil
}

// Satisfies reports whether ev's kind and created_at fall within c.
func (c Conditions) Satisfies(ev *event.E) bool {
	if c.Kind != nil && (ev.Kind == nil || ev.Kind.K != *c.Kind) {
		return false
	}
	ts := ev.CreatedAt.I64()
	if c.CreatedAtGT != nil && ts <= *c.CreatedAtGT {
		return false
	}
	if c.CreatedAtLT != nil && ts >= *c.CreatedAtLT {
		return false
	}
	return true
}

// Verify checks an event's "delegation" tag (delegator pubkey, conditions,
// signature) and, if the signature and conditions both hold, returns the
// delegator pubkey.
func Verify(ev *event.E, delegationTag *tag.T) (delegator []byte, err error) {
	if delegationTag.Len() < 4 {
		return nil, errorf.E("delegation: tag has %d fields, want 4", delegationTag.Len())
	}
	var delegatorHex, condStr, sigHex string
	delegatorHex = delegationTag.S(1)
	condStr = delegationTag.S(2)
	sigHex = delegationTag.S(3)

	if delegator, err = hex.Dec(delegatorHex); err != nil {
		return nil, errorf.E("delegation: bad delegator pubkey: %w", err)
	}
	var sig []byte
	if sig, err = hex.Dec(sigHex); err != nil {
		return nil, errorf.E("delegation: bad signature: %w", err)
	}

	token := tokenFor(ev.PubKeyString(), condStr)
	digest := sha256.Sum256(token)

	var ok bool
	if ok, err = crypto.Verify(sig, digest[:], delegator); err != nil {
		return nil, err
	}
	if !ok {
		return nil, errorf.E("delegation: signature verification failed")
	}

	var cond Conditions
	if cond, err = Parse(condStr); err != nil {
		return nil, err
	}
	if !cond.Satisfies(ev) {
		return nil, errorf.E("delegation: event does not satisfy conditions %q", condStr)
	}
	return delegator, nil
}

func tokenFor(delegateeHex, conditions string) []byte {
	var buf bytes.Buffer
	buf.WriteString("nostr:")
	buf.WriteString(delegateeHex)
	buf.WriteByte(':')
	buf.WriteString(conditions)
	return buf.Bytes()
}
