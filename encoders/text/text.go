// Package text implements the exact JSON string escaping mandated by NIP-01
// for computing an event's canonical id. The canonical form allows only the
// escapes \", \\, \n, \r, \t, \b, \f, and \u00XX for other control bytes;
// every other byte, including multi-byte UTF-8 sequences, passes through
// unchanged. A generic JSON encoder (including encoding/json) is not
// guaranteed to reproduce this exact escape set, so events are hashed
// through this package rather than through the wire marshaler.
package text

const hexdig = "0123456789abcdef"

// NostrEscape appends the NIP-01 canonical escaping of src to dst, without
// surrounding quotes.
func NostrEscape(dst, src []byte) []byte {
	for _, c := range src {
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			if c < 0x20 {
				dst = append(
					dst, '\\', 'u', '0', '0',
					hexdig[c>>4], hexdig[c&0xf],
				)
			} else {
				dst = append(dst, c)
			}
		}
	}
	return dst
}

// AppendQuote appends a double-quoted, escaped rendering of src to dst,
// using escFn to perform the escaping (hex.EncAppend for already-hex
// fields, NostrEscape for free text).
func AppendQuote(dst []byte, src []byte, escFn func(dst, src []byte) []byte) []byte {
	dst = append(dst, '"')
	dst = escFn(dst, src)
	dst = append(dst, '"')
	return dst
}

// JSONKey appends `"key":` to dst.
func JSONKey(dst []byte, key []byte) []byte {
	dst = append(dst, '"')
	dst = append(dst, key...)
	dst = append(dst, '"', ':')
	return dst
}
