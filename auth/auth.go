// Package auth implements NIP-42 relay-initiated authentication: a random
// challenge is pushed to the client, which replies with a signed kind-22242
// event binding that challenge to this relay's URL.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"strings"
	"time"

	"nightjar.dev/encoders/kind"
	"nightjar.dev/event"
	"nightjar.dev/utils/errorf"
)

// GenerateChallenge returns a fresh 16-byte base64url challenge string.
func GenerateChallenge() []byte {
	raw := make([]byte, 12)
	_, _ = rand.Read(raw)
	out := make([]byte, 16)
	base64.URLEncoding.Encode(out, raw)
	return out
}

// Validate checks that ev is a well-formed kind-22242 response to
// challenge, addressed to relayURL, signed within a 10-minute window of
// now, and correctly signed. Verify alone only proves sig matches id; it
// never recomputes id from the event's other fields, so CheckId must run
// first or a replayed (id, sig) pair from any other event by the same
// pubkey would authenticate under attacker-chosen tags/created_at.
func Validate(ev *event.E, challenge []byte, relayURL string) (ok bool, err error) {
	if ev.Kind == nil || !ev.Kind.Equal(kind.Auth) {
		return false, errorf.E("auth: wrong kind for AUTH response")
	}
	if !ev.CheckId() {
		return false, errorf.E("auth: id does not match canonical hash")
	}
	chTag := ev.Tags.GetFirst("challenge")
	if chTag == nil || string(chTag.Value()) != string(challenge) {
		return false, errorf.E("auth: challenge tag missing or mismatched")
	}
	relayTag := ev.Tags.GetFirst("relay")
	if relayTag == nil || len(relayTag.Value()) == 0 {
		return false, errorf.E("auth: relay tag missing")
	}
	var expected, found *url.URL
	if expected, err = parseURL(relayURL); err != nil {
		return false, err
	}
	if found, err = parseURL(string(relayTag.Value())); err != nil {
		return false, errorf.E("auth: bad relay url: %w", err)
	}
	if expected.Scheme != found.Scheme || expected.Host != found.Host || expected.Path != found.Path {
		return false, errorf.E("auth: relay url does not match this relay")
	}
	now := time.Now()
	ts := ev.CreatedAt.Time()
	if ts.After(now.Add(10*time.Minute)) || ts.Before(now.Add(-10*time.Minute)) {
		return false, errorf.E("auth: response outside 10 minute window")
	}
	return ev.Verify()
}

func parseURL(raw string) (*url.URL, error) {
	return url.Parse(strings.ToLower(strings.TrimSuffix(raw, "/")))
}
