package event

import (
	"bytes"

	"nightjar.dev/encoders/hex"
	"nightjar.dev/encoders/kind"
	"nightjar.dev/encoders/tags"
	"nightjar.dev/encoders/text"
	"nightjar.dev/encoders/timestamp"
	"nightjar.dev/utils/errorf"
)

var (
	jId        = []byte("id")
	jPubkey    = []byte("pubkey")
	jCreatedAt = []byte("created_at")
	jKind      = []byte("kind")
	jTags      = []byte("tags")
	jContent   = []byte("content")
	jSig       = []byte("sig")
)

func quoteEscaped(dst, src []byte) []byte {
	return text.AppendQuote(dst, src, text.NostrEscape)
}

// Marshal appends the event's minified wire JSON to dst.
func (ev *E) Marshal(dst []byte) []byte {
	dst = append(dst, '{')
	dst = text.JSONKey(dst, jId)
	dst = text.AppendQuote(dst, ev.Id, hex.EncAppend)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jPubkey)
	dst = text.AppendQuote(dst, ev.Pubkey, hex.EncAppend)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jCreatedAt)
	dst = ev.CreatedAt.Marshal(dst)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jKind)
	dst = appendUint(dst, uint64(ev.Kind.K))
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jTags)
	dst = ev.Tags.Marshal(dst)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jContent)
	dst = quoteEscaped(dst, ev.Content)
	dst = append(dst, ',')
	dst = text.JSONKey(dst, jSig)
	dst = text.AppendQuote(dst, ev.Sig, hex.EncAppend)
	dst = append(dst, '}')
	return dst
}

// Unmarshal parses a wire-format event starting at b, returning what
// follows the closing brace.
func (ev *E) Unmarshal(b []byte) (rem []byte, err error) {
	r := skipWS(b)
	if len(r) == 0 || r[0] != '{' {
		return r, errorf.E("event: expected '{'")
	}
	r = r[1:]
	for {
		r = skipWS(r)
		if len(r) == 0 {
			return r, errorf.E("event: unexpected eof")
		}
		if r[0] == '}' {
			return r[1:], nil
		}
		if r[0] != '"' {
			return r, errorf.E("event: expected key string, got %q", r[0])
		}
		var key []byte
		if key, r, err = readKey(r[1:]); err != nil {
			return r, err
		}
		r = skipWS(r)
		if len(r) == 0 || r[0] != ':' {
			return r, errorf.E("event: expected ':' after key %q", key)
		}
		r = skipWS(r[1:])
		switch string(key) {
		case "id":
			var s []byte
			if s, r, err = readQuoted(r); err != nil {
				return r, err
			}
			if ev.Id, err = hex.DecBytes(s); err != nil {
				return r, err
			}
		case "pubkey":
			var s []byte
			if s, r, err = readQuoted(r); err != nil {
				return r, err
			}
			if ev.Pubkey, err = hex.DecBytes(s); err != nil {
				return r, err
			}
		case "sig":
			var s []byte
			if s, r, err = readQuoted(r); err != nil {
				return r, err
			}
			if ev.Sig, err = hex.DecBytes(s); err != nil {
				return r, err
			}
		case "content":
			var s []byte
			if s, r, err = readQuotedUnescape(r); err != nil {
				return r, err
			}
			ev.Content = s
		case "created_at":
			var n int64
			if n, r, err = readInt(r); err != nil {
				return r, err
			}
			ev.CreatedAt = timestamp.New(n)
		case "kind":
			var n int64
			if n, r, err = readInt(r); err != nil {
				return r, err
			}
			if n < 0 || n > 65535 {
				return r, errorf.E("event: kind %d out of range", n)
			}
			ev.Kind = kind.New(uint16(n))
		case "tags":
			ev.Tags = &tags.T{}
			if r, err = ev.Tags.Unmarshal(r); err != nil {
				return r, err
			}
		default:
			if r, err = skipValue(r); err != nil {
				return r, err
			}
		}
		r = skipWS(r)
		if len(r) == 0 {
			return r, errorf.E("event: unexpected eof after value")
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == '}' {
			return r[1:], nil
		}
		return r, errorf.E("event: unexpected byte %q", r[0])
	}
}

func skipWS(r []byte) []byte {
	for len(r) > 0 {
		switch r[0] {
		case ' ', '\t', '\n', '\r':
			r = r[1:]
			continue
		}
		break
	}
	return r
}

func readKey(r []byte) (key, rem []byte, err error) {
	i := bytes.IndexByte(r, '"')
	if i < 0 {
		return nil, r, errorf.E("event: unterminated key")
	}
	return r[:i], r[i+1:], nil
}

// readQuoted reads a JSON string and returns its raw (still-escaped)
// bytes, used for hex fields where escaping never occurs.
func readQuoted(r []byte) (s, rem []byte, err error) {
	if len(r) == 0 || r[0] != '"' {
		return nil, r, errorf.E("event: expected string")
	}
	r = r[1:]
	i := bytes.IndexByte(r, '"')
	if i < 0 {
		return nil, r, errorf.E("event: unterminated string")
	}
	return r[:i], r[i+1:], nil
}

// readQuotedUnescape reads a JSON string and unescapes it, for content and
// any other free-text field.
func readQuotedUnescape(r []byte) (s, rem []byte, err error) {
	if len(r) == 0 || r[0] != '"' {
		return nil, r, errorf.E("event: expected string")
	}
	r = r[1:]
	var out []byte
	for len(r) > 0 {
		c := r[0]
		if c == '"' {
			return out, r[1:], nil
		}
		if c == '\\' {
			if len(r) < 2 {
				return out, r, errorf.E("event: truncated escape")
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
					return out, r, errorf.E("event: truncated unicode escape")
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
						return out, r, errorf.E("event: bad unicode escape")
					}
				}
				var buf [4]byte
				n := encodeRune(buf[:], v)
				out = append(out, buf[:n]...)
				r = r[4:]
			default:
				return out, r, errorf.E("event: bad escape")
			}
			r = r[2:]
			continue
		}
		out = append(out, c)
		r = r[1:]
	}
	return out, r, errorf.E("event: unterminated string")
}

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

func readInt(r []byte) (n int64, rem []byte, err error) {
	i := 0
	neg := false
	if i < len(r) && r[i] == '-' {
		neg = true
		i++
	}
	start := i
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		n = n*10 + int64(r[i]-'0')
		i++
	}
	if i == start {
		return 0, r, errorf.E("event: expected number")
	}
	if neg {
		n = -n
	}
	return n, r[i:], nil
}

// skipValue skips an arbitrary JSON value for unrecognized keys, so the
// parser stays forward-compatible with additional fields.
func skipValue(r []byte) (rem []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 {
		return r, errorf.E("event: unexpected eof in value")
	}
	switch r[0] {
	case '"':
		_, rem, err = readQuotedUnescape(r)
		return rem, err
	case '{':
		depth := 0
		for i := 0; i < len(r); i++ {
			switch r[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return r[i+1:], nil
				}
			case '"':
				var rr []byte
				if _, rr, err = readQuotedUnescape(r[i:]); err != nil {
					return rr, err
				}
				i = len(r) - len(rr) - 1
			}
		}
		return nil, errorf.E("event: unterminated object")
	case '[':
		depth := 0
		for i := 0; i < len(r); i++ {
			switch r[i] {
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					return r[i+1:], nil
				}
			case '"':
				var rr []byte
				if _, rr, err = readQuotedUnescape(r[i:]); err != nil {
					return rr, err
				}
				i = len(r) - len(rr) - 1
			}
		}
		return nil, errorf.E("event: unterminated array")
	default:
		i := 0
		for i < len(r) && r[i] != ',' && r[i] != '}' && r[i] != ']' {
			i++
		}
		return r[i:], nil
	}
}
