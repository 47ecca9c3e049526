// Package hex wraps templexxx/xhex, a SIMD-accelerated drop-in for the
// standard library's encoding/hex, for the relay's hot path of decoding
// every incoming event's id/pubkey/sig and tag hex values.
package hex

import (
	"github.com/templexxx/xhex"

	"nightjar.dev/utils/errorf"
)

// Enc returns the lowercase hex encoding of b.
func Enc(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	dst := make([]byte, xhex.EncodedLen(len(b)))
	xhex.Encode(dst, b)
	return string(dst)
}

// EncAppend appends the hex encoding of src to dst and returns the result,
// matching the AppendAndEncode-style helpers the rest of the codec package
// uses to build output buffers without extra allocations.
func EncAppend(dst, src []byte) []byte {
	n := xhex.EncodedLen(len(src))
	start := len(dst)
	dst = append(dst, make([]byte, n)...)
	xhex.Encode(dst[start:], src)
	return dst
}

// Dec decodes a hex string into bytes. Odd-length input is accepted by
// right-padding with a zero nibble; callers that need the padded nibble to
// not affect a prefix comparison must use DecPrefix instead, since a plain
// byte-for-byte comparison of the result here cannot tell a real trailing
// zero nibble from a padded one.
func Dec(s string) (b []byte, err error) {
	return DecBytes([]byte(s))
}

// DecBytes decodes hex bytes, accepting odd lengths.
func DecBytes(s []byte) (b []byte, err error) {
	src := s
	if len(src)%2 == 1 {
		padded := make([]byte, len(src)+1)
		copy(padded, src)
		padded[len(src)] = '0'
		src = padded
	}
	dst := make([]byte, xhex.DecodedLen(len(src)))
	if _, err = xhex.Decode(dst, src); err != nil {
		err = errorf.E("invalid hex %q: %w", s, err)
		return nil, err
	}
	return dst, nil
}

// DecPrefix decodes a hex prefix of any length, even or odd, splitting out
// a trailing half-byte so the caller can match it against only the high
// nibble of the candidate's next byte. NIP-01 allows ids/authors filter
// prefixes of any length, including odd, and those are not byte-aligned:
// "abc" names bytes[0]==0xab plus the high nibble of bytes[1]==0xc_, not a
// full byte 0xc0 that happens to also require a zero low nibble.
func DecPrefix(s []byte) (b []byte, hasNibble bool, nibble byte, err error) {
	n := len(s)
	if n%2 == 0 {
		if b, err = DecBytes(s); err != nil {
			return nil, false, 0, err
		}
		return b, false, 0, nil
	}
	if b, err = DecBytes(s[:n-1]); err != nil {
		return nil, false, 0, err
	}
	var last [1]byte
	if _, err = xhex.Decode(last[:], []byte{s[n-1], '0'}); err != nil {
		err = errorf.E("invalid hex %q: %w", s, err)
		return nil, false, 0, err
	}
	return b, true, last[0] >> 4, nil
}

// DecAppend decodes hex bytes and appends them to dst.
func DecAppend(dst, src []byte) (out []byte, err error) {
	var b []byte
	if b, err = DecBytes(src); err != nil {
		return
	}
	out = append(dst, b...)
	return
}

// IsHex reports whether every byte of s is a valid lowercase or uppercase
// hex digit.
func IsHex(s []byte) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
