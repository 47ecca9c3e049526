package delegation

import (
	"crypto/rand"
	"testing"

	"github.com/minio/sha256-simd"

	"nightjar.dev/crypto"
	"nightjar.dev/encoders/hex"
	"nightjar.dev/encoders/kind"
	"nightjar.dev/encoders/tag"
	"nightjar.dev/encoders/tags"
	"nightjar.dev/encoders/timestamp"
	"nightjar.dev/event"
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

// delegationTag builds a valid NIP-26 "delegation" tag signed by delegator
// for delegatee, authorizing events matching conditions.
func delegationTag(t *testing.T, delegator *crypto.Signer, delegateePub []byte, conditions string) *tag.T {
	t.Helper()
	token := tokenFor(hex.Enc(delegateePub), conditions)
	digest := sha256.Sum256(token)
	sig, err := delegator.Sign(digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tag.New("delegation", hex.Enc(delegator.Pub()), conditions, hex.Enc(sig))
}

func TestParseConditions(t *testing.T) {
	c, err := Parse("kind=1&created_at>100&created_at<200")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Kind == nil || *c.Kind != 1 {
		t.Fatalf("expected kind 1, got %v", c.Kind)
	}
	if c.CreatedAtGT == nil || *c.CreatedAtGT != 100 {
		t.Fatalf("expected created_at>100, got %v", c.CreatedAtGT)
	}
	if c.CreatedAtLT == nil || *c.CreatedAtLT != 200 {
		t.Fatalf("expected created_at<200, got %v", c.CreatedAtLT)
	}
}

func TestParseIgnoresUnknownClauses(t *testing.T) {
	c, err := Parse("kind=1&bogus=xyz")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Kind == nil || *c.Kind != 1 {
		t.Fatalf("expected kind 1 despite unknown clause, got %v", c.Kind)
	}
}

func TestSatisfiesBoundaries(t *testing.T) {
	k := uint16(1)
	gt := int64(100)
	lt := int64(200)
	c := Conditions{Kind: &k, CreatedAtGT: &gt, CreatedAtLT: &lt}

	inside := &event.E{Kind: kind.New(1), CreatedAt: timestamp.New(150)}
	if !c.Satisfies(inside) {
		t.Fatalf("expected created_at 150 to satisfy (100, 200)")
	}
	onGT := &event.E{Kind: kind.New(1), CreatedAt: timestamp.New(100)}
	if c.Satisfies(onGT) {
		t.Fatalf("created_at> is exclusive, 100 must not satisfy")
	}
	onLT := &event.E{Kind: kind.New(1), CreatedAt: timestamp.New(200)}
	if c.Satisfies(onLT) {
		t.Fatalf("created_at< is exclusive, 200 must not satisfy")
	}
	wrongKind := &event.E{Kind: kind.New(2), CreatedAt: timestamp.New(150)}
	if c.Satisfies(wrongKind) {
		t.Fatalf("a mismatched kind must not satisfy")
	}
}

func TestVerifyAcceptsValidDelegation(t *testing.T) {
	delegator := newSigner(t)
	delegatee := newSigner(t)

	dtag := delegationTag(t, delegator, delegatee.Pub(), "kind=1")

	ev := &event.E{
		CreatedAt: timestamp.New(1000),
		Kind:      kind.New(1),
		Tags:      tags.New(dtag),
		Content:   []byte("hello"),
	}
	if err := ev.Sign(delegatee); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := Verify(ev, dtag)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if hex.Enc(got) != hex.Enc(delegator.Pub()) {
		t.Fatalf("expected the delegator pubkey back, got %x", got)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	delegator := newSigner(t)
	delegatee := newSigner(t)
	other := newSigner(t)

	// Tag claims delegator authorized delegatee, but is actually signed
	// by a third key: the signature check must fail.
	token := tokenFor(hex.Enc(delegatee.Pub()), "kind=1")
	digest := sha256.Sum256(token)
	badSig, err := other.Sign(digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	dtag := tag.New("delegation", hex.Enc(delegator.Pub()), "kind=1", hex.Enc(badSig))

	ev := &event.E{
		CreatedAt: timestamp.New(1000),
		Kind:      kind.New(1),
		Tags:      tags.New(dtag),
		Content:   []byte("hello"),
	}
	if err := ev.Sign(delegatee); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := Verify(ev, dtag); err == nil {
		t.Fatalf("expected Verify to reject a delegation signed by the wrong key")
	}
}

func TestVerifyRejectsViolatedConditions(t *testing.T) {
	delegator := newSigner(t)
	delegatee := newSigner(t)

	dtag := delegationTag(t, delegator, delegatee.Pub(), "kind=1")

	ev := &event.E{
		CreatedAt: timestamp.New(1000),
		Kind:      kind.New(2), // violates kind=1
		Tags:      tags.New(dtag),
		Content:   []byte("hello"),
	}
	if err := ev.Sign(delegatee); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := Verify(ev, dtag); err == nil {
		t.Fatalf("expected Verify to reject an event whose kind violates the delegation conditions")
	}
}
