// Package tags is an ordered collection of tag.T, with the JSON codec used
// both for the wire event format and for the canonical form hashed to
// produce an event id.
package tags

import (
	"nightjar.dev/encoders/tag"
	"nightjar.dev/encoders/text"
	"nightjar.dev/utils/errorf"
)

// T is an ordered list of tags.
type T struct {
	T []*tag.T
}

// New builds a tag collection from tags.
func New(ts ...*tag.T) *T { return &T{T: ts} }

// NewWithCap preallocates a collection for cap tags.
func NewWithCap(c int) *T { return &T{T: make([]*tag.T, 0, c)} }

// Len returns the number of tags.
func (t *T) Len() int {
	if t == nil {
		return 0
	}
	return len(t.T)
}

// AppendTags adds tags to the collection.
func (t *T) AppendTags(ts ...*tag.T) { t.T = append(t.T, ts...) }

// GetFirst returns the first tag whose key equals the given key, or nil.
func (t *T) GetFirst(key string) *tag.T {
	if t == nil {
		return nil
	}
	for _, tg := range t.T {
		if tg.S(0) == key {
			return tg
		}
	}
	return nil
}

// GetAll returns every tag whose key equals the given key.
func (t *T) GetAll(key string) []*tag.T {
	if t == nil {
		return nil
	}
	var out []*tag.T
	for _, tg := range t.T {
		if tg.S(0) == key {
			out = append(out, tg)
		}
	}
	return out
}

// ToStringsSlice converts the collection into [][]string, the shape used
// by the simplified wire struct.
func (t *T) ToStringsSlice() (s [][]string) {
	if t == nil {
		return nil
	}
	for _, tg := range t.T {
		row := make([]string, tg.Len())
		for i := 0; i < tg.Len(); i++ {
			row[i] = tg.S(i)
		}
		s = append(s, row)
	}
	return
}

// Clone deep-copies the collection.
func (t *T) Clone() *T {
	if t == nil {
		return nil
	}
	out := make([]*tag.T, len(t.T))
	for i, tg := range t.T {
		out[i] = tg.Clone()
	}
	return &T{T: out}
}

// Marshal renders the collection as a minified JSON array of arrays,
// escaping each field per the canonical rules (used both for the wire
// event and for the bytes hashed into the event id).
func (t *T) Marshal(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tg := range t.T {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '[')
		for j := 0; j < tg.Len(); j++ {
			if j > 0 {
				dst = append(dst, ',')
			}
			dst = text.AppendQuote(dst, tg.B(j), text.NostrEscape)
		}
		dst = append(dst, ']')
	}
	dst = append(dst, ']')
	return dst
}

// MarshalWithWhitespace renders the collection with indentation, for the
// human-readable SerializeIndented form.
func (t *T) MarshalWithWhitespace(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tg := range t.T {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '\n', '\t', '\t', '[')
		for j := 0; j < tg.Len(); j++ {
			if j > 0 {
				dst = append(dst, ',')
			}
			dst = text.AppendQuote(dst, tg.B(j), text.NostrEscape)
		}
		dst = append(dst, ']')
	}
	if len(t.T) > 0 {
		dst = append(dst, '\n', '\t')
	}
	dst = append(dst, ']')
	return dst
}

// Unmarshal parses a JSON array-of-arrays-of-strings into the collection,
// starting at the opening '[' and returning what follows the closing ']'.
func (t *T) Unmarshal(b []byte) (rem []byte, err error) {
	r := b
	r = skipWS(r)
	if len(r) == 0 || r[0] != '[' {
		return r, errorf.E("tags: expected '[', got %q", preview(r))
	}
	r = r[1:]
	r = skipWS(r)
	if len(r) > 0 && r[0] == ']' {
		return r[1:], nil
	}
	for {
		r = skipWS(r)
		if len(r) == 0 || r[0] != '[' {
			return r, errorf.E("tags: expected '[' in tag, got %q", preview(r))
		}
		r = r[1:]
		var fields [][]byte
		r = skipWS(r)
		if len(r) > 0 && r[0] == ']' {
			r = r[1:]
		} else {
			for {
				r = skipWS(r)
				if len(r) == 0 || r[0] != '"' {
					return r, errorf.E("tags: expected string, got %q", preview(r))
				}
				var s []byte
				if s, r, err = unquote(r[1:]); err != nil {
					return r, err
				}
				fields = append(fields, s)
				r = skipWS(r)
				if len(r) == 0 {
					return r, errorf.E("tags: unexpected eof in tag")
				}
				if r[0] == ',' {
					r = r[1:]
					continue
				}
				if r[0] == ']' {
					r = r[1:]
					break
				}
				return r, errorf.E("tags: unexpected byte %q in tag", r[0])
			}
		}
		t.T = append(t.T, &tag.T{Field: fields})
		r = skipWS(r)
		if len(r) == 0 {
			return r, errorf.E("tags: unexpected eof after tag")
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == ']' {
			return r[1:], nil
		}
		return r, errorf.E("tags: unexpected byte %q after tag", r[0])
	}
}

func skipWS(r []byte) []byte {
	for len(r) > 0 && (r[0] == ' ' || r[0] == '\t' || r[0] == '\n' || r[0] == '\r') {
		r = r[1:]
	}
	return r
}

func preview(r []byte) []byte {
	if len(r) > 16 {
		return r[:16]
	}
	return r
}

// unquote reads a JSON string body (the opening quote already consumed)
// and unescapes the small set of escapes the protocol defines, returning
// the remainder after the closing quote.
func unquote(r []byte) (out, rem []byte, err error) {
	for len(r) > 0 {
		c := r[0]
		if c == '"' {
			return out, r[1:], nil
		}
		if c == '\\' {
			if len(r) < 2 {
				return out, r, errorf.E("tags: truncated escape")
			}
			switch r[1] {
			case '"':
				out = append(out, '"')
			case '\\':
				out = append(out, '\\')
			case '/':
				out = append(out, '/')
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case 'u':
				if len(r) < 6 {
					return out, r, errorf.E("tags: truncated unicode escape")
				}
				var v rune
				for _, h := range r[2:6] {
					v <<= 4
					switch {
					case h >= '0' && h <= '9':
						v |= rune(h - '0')
					case h >= 'a' && h <= 'f':
						v |= rune(h-'a') + 10
					case h >= 'A' && h <= 'F':
						v |= rune(h-'A') + 10
					default:
						return out, r, errorf.E("tags: bad unicode escape")
					}
				}
				out = appendRune(out, v)
				r = r[4:]
			default:
				return out, r, errorf.E("tags: bad escape \\%c", r[1])
			}
			r = r[2:]
			continue
		}
		out = append(out, c)
		r = r[1:]
	}
	return out, r, errorf.E("tags: unterminated string")
}

func appendRune(dst []byte, r rune) []byte {
	var buf [4]byte
	n := encodeRune(buf[:], r)
	return append(dst, buf[:n]...)
}

// encodeRune is a minimal UTF-8 encoder (avoids importing unicode/utf8
// just for this one call site).
func encodeRune(buf []byte, r rune) int {
	switch {
	case r < 0x80:
		buf[0] = byte(r)
		return 1
	case r < 0x800:
		buf[0] = byte(0xC0 | r>>6)
		buf[1] = byte(0x80 | r&0x3F)
		return 2
	case r < 0x10000:
		buf[0] = byte(0xE0 | r>>12)
		buf[1] = byte(0x80 | (r>>6)&0x3F)
		buf[2] = byte(0x80 | r&0x3F)
		return 3
	default:
		buf[0] = byte(0xF0 | r>>18)
		buf[1] = byte(0x80 | (r>>12)&0x3F)
		buf[2] = byte(0x80 | (r>>6)&0x3F)
		buf[3] = byte(0x80 | r&0x3F)
		return 4
	}
}
