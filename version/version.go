// Package version holds the relay's build identity.
package version

// V is the relay's version string.
const V = "0.1.0"

// URL points to the relay's software. The NIP-11 "software" field is
// filled with the literal "nightjar", not with this URL.
const URL = "https://github.com/nightjar-dev/nightjar"

// Description is a one-line description of the relay software. The NIP-11
// description comes from config (RELAY_DESCRIPTION) and does not fall back
// to this value.
const Description = "a personal nostr relay"
