// Package event is the codec for nostr events: the wire JSON format (with
// id and signature) and the canonical form that is hashed to produce the
// id. Filter matching lives in package filter.
package event

import (
	"github.com/minio/sha256-simd"
	"lukechampine.com/frand"

	"nightjar.dev/crypto"
	"nightjar.dev/encoders/hex"
	"nightjar.dev/encoders/kind"
	"nightjar.dev/encoders/tags"
	"nightjar.dev/encoders/text"
	"nightjar.dev/encoders/timestamp"
	"nightjar.dev/utils/errorf"
)

// E is the primary nostr event record. Once Verify has succeeded it is
// treated as immutable; nothing in the relay mutates an E after ingest
// accepts it.
type E struct {
	// Id is the SHA-256 hash of the canonical encoding, 32 bytes.
	Id []byte
	// Pubkey is the x-only secp256k1 public key of the signer, 32 bytes.
	Pubkey []byte
	// CreatedAt is the signer-supplied timestamp.
	CreatedAt *timestamp.T
	// Kind categorizes the event and selects its storage treatment.
	Kind *kind.T
	// Tags is the ordered list of tags.
	Tags *tags.T
	// Content is the free-form payload, UTF-8, at most 65536 bytes.
	Content []byte
	// Sig is the 64-byte BIP-340 signature over Id.
	Sig []byte
	// ReceivedAt is the server-assigned acceptance time; it is never part
	// of Id and is not sent back over the wire.
	ReceivedAt int64
}

// New returns an empty event ready for Unmarshal.
func New() *E { return &E{} }

// S is a slice of events that sorts newest-first.
type S []*E

func (s S) Len() int      { return len(s) }
func (s S) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s S) Less(i, j int) bool {
	return s[i].CreatedAt.I64() > s[j].CreatedAt.I64()
}

// C is a channel of events, used to feed live matches to a subscription.
type C chan *E

// IdString returns the hex-encoded id.
func (ev *E) IdString() string { return hex.Enc(ev.Id) }

// PubKeyString returns the hex-encoded pubkey.
func (ev *E) PubKeyString() string { return hex.Enc(ev.Pubkey) }

// SigString returns the hex-encoded signature.
func (ev *E) SigString() string { return hex.Enc(ev.Sig) }

// ContentString returns the content as a string.
func (ev *E) ContentString() string { return string(ev.Content) }

// Serialize renders the event as minified wire JSON.
func (ev *E) Serialize() []byte { return ev.Marshal(nil) }

// Canonical builds the NIP-01 canonical serialization
// [0, pubkey, created_at, kind, tags, content] whose SHA-256 is the id.
func (ev *E) Canonical(dst []byte) []byte {
	dst = append(dst, '[', '0', ',')
	dst = quoteHex(dst, ev.Pubkey)
	dst = append(dst, ',')
	dst = ev.CreatedAt.Marshal(dst)
	dst = append(dst, ',')
	dst = appendUint(dst, uint64(ev.Kind.K))
	dst = append(dst, ',')
	dst = ev.Tags.Marshal(dst)
	dst = append(dst, ',')
	dst = quoteEscaped(dst, ev.Content)
	dst = append(dst, ']')
	return dst
}

// ComputeId returns the SHA-256 hash of the event's canonical form.
func (ev *E) ComputeId() []byte {
	h := sha256.Sum256(ev.Canonical(nil))
	return h[:]
}

// CheckId reports whether ev.Id matches the hash of its canonical form.
func (ev *E) CheckId() bool {
	if len(ev.Id) != 32 {
		return false
	}
	want := ev.ComputeId()
	if len(want) != len(ev.Id) {
		return false
	}
	for i := range want {
		if want[i] != ev.Id[i] {
			return false
		}
	}
	return true
}

// Verify checks the event's Schnorr signature against its id and pubkey.
// It does not check CheckId; callers run both, in the order invariants 1
// and 2 are listed in the specification.
func (ev *E) Verify() (ok bool, err error) {
	if len(ev.Sig) != crypto.SigLen {
		return false, errorf.E("invalid signature length %d", len(ev.Sig))
	}
	return crypto.Verify(ev.Sig, ev.Id, ev.Pubkey)
}

// Sign computes the canonical id and signs it, mutating Id and Sig. Used
// by tests and by any future admin tooling that needs to mint events.
func (ev *E) Sign(signer *crypto.Signer) (err error) {
	ev.Pubkey = signer.Pub()
	ev.Id = ev.ComputeId()
	ev.Sig, err = signer.Sign(ev.Id)
	return
}

// GenerateRandomTextNoteEvent mints a signed kind-1 event with random
// content of at most maxSize bytes, for load generation and fixture seeding.
func GenerateRandomTextNoteEvent(signer *crypto.Signer, maxSize int) (ev *E, err error) {
	l := frand.Intn(maxSize*6/8 + 1)
	content := text.NostrEscape(nil, frand.Bytes(l))
	if len(content) > maxSize {
		content = content[:maxSize]
	}
	ev = &E{
		CreatedAt: timestamp.Now(),
		Kind:      kind.New(1),
		Tags:      tags.New(),
		Content:   content,
	}
	err = ev.Sign(signer)
	return
}

func appendUint(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, buf[i:]...)
}

func quoteHex(dst, src []byte) []byte {
	dst = append(dst, '"')
	dst = hex.EncAppend(dst, src)
	dst = append(dst, '"')
	return dst
}
