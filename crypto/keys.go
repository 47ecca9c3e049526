// Package crypto wraps BIP-340 Schnorr signing and verification for the
// relay. Nostr keys are x-only secp256k1 public keys; this package is the
// single place that touches the curve so the rest of the relay only ever
// handles raw 32/64-byte id, pubkey, and signature slices.
package crypto

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nightjar.dev/utils/errorf"
)

// PubKeyLen is the length in bytes of an x-only secp256k1 public key.
const PubKeyLen = 32

// SigLen is the length in bytes of a BIP-340 Schnorr signature.
const SigLen = 64

// Verify reports whether sig is a valid BIP-340 signature over msg (the
// event id) by the x-only public key pubkey.
func Verify(sig, msg, pubkey []byte) (ok bool, err error) {
	if len(pubkey) != PubKeyLen {
		err = errorf.E("invalid pubkey length %d, want %d", len(pubkey), PubKeyLen)
		return
	}
	if len(sig) != SigLen {
		err = errorf.E("invalid signature length %d, want %d", len(sig), SigLen)
		return
	}
	pk, err := schnorr.ParsePubKey(pubkey)
	if err != nil {
		return false, err
	}
	s, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false, err
	}
	return s.Verify(msg, pk), nil
}

// Signer signs messages (event ids) with a held secp256k1 private key; used
// by delegation verification helpers and by tests that need to mint events.
type Signer struct {
	priv *btcec.PrivateKey
}

// NewSigner constructs a Signer from a 32-byte raw private key.
func NewSigner(raw []byte) (s *Signer, err error) {
	if len(raw) != 32 {
		err = errorf.E("invalid private key length %d, want 32", len(raw))
		return
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	s = &Signer{priv: priv}
	return
}

// Pub returns the 32-byte x-only public key.
func (s *Signer) Pub() []byte {
	return schnorr.SerializePubKey(s.priv.PubKey())
}

// Sign produces a BIP-340 signature over msg.
func (s *Signer) Sign(msg []byte) (sig []byte, err error) {
	sg, err := schnorr.Sign(s.priv, msg)
	if err != nil {
		return
	}
	sig = sg.Serialize()
	return
}
