package event

import (
	"bytes"
	"crypto/rand"
	"testing"

	"nightjar.dev/crypto"
	"nightjar.dev/encoders/kind"
	"nightjar.dev/encoders/tag"
	"nightjar.dev/encoders/tags"
	"nightjar.dev/encoders/timestamp"
)

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	s, err := crypto.NewSigner(seed)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignProducesValidIdAndSignature(t *testing.T) {
	signer := newSigner(t)
	ev := &E{
		CreatedAt: timestamp.New(1700000000),
		Kind:      kind.New(1),
		Tags:      tags.New(tag.New("e", "deadbeef")),
		Content:   []byte("hello, nostr"),
	}
	if err := ev.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !ev.CheckId() {
		t.Fatalf("expected CheckId to pass right after Sign")
	}
	ok, err := ev.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected Verify to pass right after Sign")
	}
}

func TestCheckIdRejectsTamperedContent(t *testing.T) {
	signer := newSigner(t)
	ev := &E{
		CreatedAt: timestamp.New(1700000000),
		Kind:      kind.New(1),
		Tags:      tags.New(),
		Content:   []byte("original"),
	}
	if err := ev.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ev.Content = []byte("tampered")
	if ev.CheckId() {
		t.Fatalf("expected CheckId to fail after content was tampered with")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	signer := newSigner(t)
	ev := &E{
		CreatedAt: timestamp.New(1700000000),
		Kind:      kind.New(1),
		Tags:      tags.New(),
		Content:   []byte("hello"),
	}
	if err := ev.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ev.Sig[0] ^= 0xff
	ok, err := ev.Verify()
	if err == nil && ok {
		t.Fatalf("expected Verify to reject a tampered signature")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	signer := newSigner(t)
	ev := &E{
		CreatedAt: timestamp.New(1700000000),
		Kind:      kind.New(1),
		Tags:      tags.New(tag.New("p", "cafebabe"), tag.New("e", "deadbeef")),
		Content:   []byte("hello \"world\"\nwith escapes"),
	}
	if err := ev.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	wire := ev.Serialize()

	got := New()
	rem, err := got.Unmarshal(wire)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(rem) != 0 {
		t.Fatalf("expected no remainder, got %q", rem)
	}
	if !bytes.Equal(got.Id, ev.Id) {
		t.Fatalf("id mismatch after round-trip")
	}
	if !bytes.Equal(got.Pubkey, ev.Pubkey) {
		t.Fatalf("pubkey mismatch after round-trip")
	}
	if !bytes.Equal(got.Sig, ev.Sig) {
		t.Fatalf("sig mismatch after round-trip")
	}
	if got.CreatedAt.I64() != ev.CreatedAt.I64() {
		t.Fatalf("created_at mismatch after round-trip")
	}
	if got.Kind.K != ev.Kind.K {
		t.Fatalf("kind mismatch after round-trip")
	}
	if !bytes.Equal(got.Content, ev.Content) {
		t.Fatalf("content mismatch after round-trip")
	}
	if got.Tags.Len() != ev.Tags.Len() {
		t.Fatalf("tag count mismatch after round-trip")
	}
	if !got.CheckId() {
		t.Fatalf("round-tripped event must still satisfy CheckId")
	}

	rewire := got.Serialize()
	if !bytes.Equal(wire, rewire) {
		t.Fatalf("re-marshaling a round-tripped event produced different bytes:\n%s\n%s", wire, rewire)
	}
}

func TestGenerateRandomTextNoteEventIsWellFormed(t *testing.T) {
	signer := newSigner(t)
	ev, err := GenerateRandomTextNoteEvent(signer, 256)
	if err != nil {
		t.Fatalf("GenerateRandomTextNoteEvent: %v", err)
	}
	if ev.Kind.K != 1 {
		t.Fatalf("Kind = %d, want 1", ev.Kind.K)
	}
	if !ev.CheckId() {
		t.Fatalf("expected a freshly generated event to satisfy CheckId")
	}
	ok, err := ev.Verify()
	if err != nil || !ok {
		t.Fatalf("expected a freshly generated event to verify, ok=%v err=%v", ok, err)
	}
	if len(ev.Content) > 256 {
		t.Fatalf("content length %d exceeds maxSize 256", len(ev.Content))
	}
}

func TestCanonicalIsDeterministic(t *testing.T) {
	ev := &E{
		Pubkey:    bytes.Repeat([]byte{0xab}, 32),
		CreatedAt: timestamp.New(1700000000),
		Kind:      kind.New(1),
		Tags:      tags.New(),
		Content:   []byte("x"),
	}
	a := ev.Canonical(nil)
	b := ev.Canonical(nil)
	if !bytes.Equal(a, b) {
		t.Fatalf("Canonical must be deterministic for the same event")
	}
	if a[0] != '[' || a[1] != '0' || a[2] != ',' {
		t.Fatalf("Canonical must begin with the NIP-01 [0, literal, got %q", a[:3])
	}
}
