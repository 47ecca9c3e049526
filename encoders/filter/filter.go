// Package filter is a single REQ/COUNT filter: a conjunction of constraints
// over event fields. A subscription's filter list is a disjunction of these.
package filter

import (
	"bytes"

	"nightjar.dev/encoders/hex"
	"nightjar.dev/encoders/text"
	"nightjar.dev/event"
	"nightjar.dev/utils/errorf"
)

// TagFilter is one #X constraint: a single-letter tag name and the set of
// acceptable values for tag field 1.
type TagFilter struct {
	Letter byte
	Values [][]byte
}

// Prefix is an ids/authors match prefix. NIP-01 lets a filter name a
// prefix of any hex length, including odd, and an odd length is not
// byte-aligned: "abc" fixes bytes[0]==0xab plus only the high nibble of
// the next byte, leaving its low nibble unconstrained. HasNibble carries
// that trailing half-byte separately from Bytes so Matches can compare it
// correctly instead of requiring the candidate's low nibble to equal
// whatever a byte-oriented decode happened to pad it with.
type Prefix struct {
	Bytes     []byte
	HasNibble bool
	Nibble    byte
}

// BytesPrefix wraps a raw, already-binary byte string as a full-byte
// prefix, for callers that have a prefix as bytes rather than hex text.
func BytesPrefix(b []byte) Prefix { return Prefix{Bytes: b} }

// F is a single filter: the conjunction of every non-nil field.
type F struct {
	Ids      []Prefix
	Authors  []Prefix
	Kinds    []uint16
	Tags     []TagFilter
	Since    *int64
	Until    *int64
	Search   []byte
	Limit    *int
	HasLimit bool
}

// New returns an empty filter, which matches every event.
func New() *F { return &F{} }

// Matches reports whether ev satisfies every constraint of f.
func (f *F) Matches(ev *event.E) bool {
	if f == nil || ev == nil {
		return f == nil
	}
	if len(f.Ids) > 0 && !anyPrefix(f.Ids, ev.Id) {
		return false
	}
	if len(f.Authors) > 0 && !anyPrefix(f.Authors, ev.Pubkey) {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if ev.Kind != nil && ev.Kind.K == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	ts := ev.CreatedAt.I64()
	if f.Since != nil && ts < *f.Since {
		return false
	}
	if f.Until != nil && ts > *f.Until {
		return false
	}
	for _, tf := range f.Tags {
		if len(tf.Values) == 0 {
			return false
		}
		if !matchesTagFilter(ev, tf) {
			return false
		}
	}
	if len(f.Search) > 0 && !matchesSearch(ev, f.Search) {
		return false
	}
	return true
}

// MatchesAny reports whether ev satisfies at least one of fs. An empty fs
// matches nothing, whereas a single empty filter object matches everything.
func MatchesAny(ev *event.E, fs []*F) bool {
	for _, f := range fs {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

// EmptySet reports whether f is guaranteed to match no event (since > until,
// or a tag filter with an empty value set): the subscription is legal but
// its backfill (and any future live match) is vacuous.
func (f *F) EmptySet() bool {
	if f == nil {
		return false
	}
	if f.Since != nil && f.Until != nil && *f.Since > *f.Until {
		return true
	}
	for _, tf := range f.Tags {
		if len(tf.Values) == 0 {
			return true
		}
	}
	return false
}

func anyPrefix(prefixes []Prefix, full []byte) bool {
	for _, p := range prefixes {
		if matchPrefix(full, p) {
			return true
		}
	}
	return false
}

func matchPrefix(full []byte, p Prefix) bool {
	if !bytes.HasPrefix(full, p.Bytes) {
		return false
	}
	if !p.HasNibble {
		return true
	}
	if len(full) <= len(p.Bytes) {
		return false
	}
	return full[len(p.Bytes)]>>4 == p.Nibble
}

func matchesTagFilter(ev *event.E, tf TagFilter) bool {
	if ev.Tags == nil {
		return false
	}
	for _, tg := range ev.Tags.T {
		if tg.Len() < 2 {
			continue
		}
		key := tg.B(0)
		if len(key) != 1 || key[0] != tf.Letter {
			continue
		}
		val := tg.B(1)
		for _, v := range tf.Values {
			if bytes.Equal(val, v) {
				return true
			}
		}
	}
	return false
}

func matchesSearch(ev *event.E, needle []byte) bool {
	lower := bytes.ToLower(needle)
	if bytes.Contains(bytes.ToLower(ev.Content), lower) {
		return true
	}
	if ev.Tags == nil {
		return false
	}
	for _, tg := range ev.Tags.T {
		for i := 0; i < tg.Len(); i++ {
			if bytes.Contains(bytes.ToLower(tg.B(i)), lower) {
				return true
			}
		}
	}
	return false
}

// Marshal renders the filter object as minified wire JSON.
func (f *F) Marshal(dst []byte) []byte {
	dst = append(dst, '{')
	first := true
	comma := func() {
		if !first {
			dst = append(dst, ',')
		}
		first = false
	}
	if len(f.Ids) > 0 {
		comma()
		dst = text.JSONKey(dst, []byte("ids"))
		dst = marshalHexArray(dst, f.Ids)
	}
	if len(f.Authors) > 0 {
		comma()
		dst = text.JSONKey(dst, []byte("authors"))
		dst = marshalHexArray(dst, f.Authors)
	}
	if len(f.Kinds) > 0 {
		comma()
		dst = text.JSONKey(dst, []byte("kinds"))
		dst = append(dst, '[')
		for i, k := range f.Kinds {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendUint(dst, uint64(k))
		}
		dst = append(dst, ']')
	}
	if f.Since != nil {
		comma()
		dst = text.JSONKey(dst, []byte("since"))
		dst = appendInt(dst, *f.Since)
	}
	if f.Until != nil {
		comma()
		dst = text.JSONKey(dst, []byte("until"))
		dst = appendInt(dst, *f.Until)
	}
	if f.HasLimit {
		comma()
		dst = text.JSONKey(dst, []byte("limit"))
		dst = appendInt(dst, int64(*f.Limit))
	}
	if f.Search != nil {
		comma()
		dst = text.JSONKey(dst, []byte("search"))
		dst = text.AppendQuote(dst, f.Search, text.NostrEscape)
	}
	for _, tf := range f.Tags {
		comma()
		dst = text.JSONKey(dst, []byte{'#', tf.Letter})
		dst = marshalStringArray(dst, tf.Values)
	}
	dst = append(dst, '}')
	return dst
}

// marshalHexArray renders a prefix array (ids, authors) as a JSON array of
// hex strings, restoring any trailing half nibble as the odd final digit.
func marshalHexArray(dst []byte, vs []Prefix) []byte {
	dst = append(dst, '[')
	for i, v := range vs {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = text.AppendQuote(dst, v.Bytes, hex.EncAppend)
		if v.HasNibble {
			dst = dst[:len(dst)-1]
			dst = append(dst, nibbleHexDigit(v.Nibble), '"')
		}
	}
	dst = append(dst, ']')
	return dst
}

func nibbleHexDigit(n byte) byte {
	const digits = "0123456789abcdef"
	return digits[n&0xf]
}

// marshalStringArray renders a tag-value array as a JSON array of strings,
// unchanged: tag filter values are matched against raw tag field bytes,
// which are not necessarily hex (e.g. "#t" hashtag values).
func marshalStringArray(dst []byte, vs [][]byte) []byte {
	dst = append(dst, '[')
	for i, v := range vs {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = text.AppendQuote(dst, v, text.NostrEscape)
	}
	dst = append(dst, ']')
	return dst
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

func appendInt(dst []byte, v int64) []byte {
	if v < 0 {
		dst = append(dst, '-')
		v = -v
	}
	return appendUint(dst, uint64(v))
}

// Unmarshal parses a filter object starting at b, returning what follows
// the closing brace.
func (f *F) Unmarshal(b []byte) (rem []byte, err error) {
	r := skipWS(b)
	if len(r) == 0 || r[0] != '{' {
		return r, errorf.E("filter: expected '{'")
	}
	r = r[1:]
	r = skipWS(r)
	if len(r) > 0 && r[0] == '}' {
		return r[1:], nil
	}
	for {
		r = skipWS(r)
		if len(r) == 0 || r[0] != '"' {
			return r, errorf.E("filter: expected key string")
		}
		var key []byte
		if key, r, err = readKey(r[1:]); err != nil {
			return r, err
		}
		r = skipWS(r)
		if len(r) == 0 || r[0] != ':' {
			return r, errorf.E("filter: expected ':'")
		}
		r = skipWS(r[1:])
		switch {
		case string(key) == "ids":
			if f.Ids, r, err = readHexArray(r); err != nil {
				return r, err
			}
		case string(key) == "authors":
			if f.Authors, r, err = readHexArray(r); err != nil {
				return r, err
			}
		case string(key) == "kinds":
			if f.Kinds, r, err = readKindArray(r); err != nil {
				return r, err
			}
		case string(key) == "since":
			var n int64
			if n, r, err = readInt(r); err != nil {
				return r, err
			}
			f.Since = &n
		case string(key) == "until":
			var n int64
			if n, r, err = readInt(r); err != nil {
				return r, err
			}
			f.Until = &n
		case string(key) == "limit":
			var n int64
			if n, r, err = readInt(r); err != nil {
				return r, err
			}
			lim := int(n)
			f.Limit = &lim
			f.HasLimit = true
		case string(key) == "search":
			if f.Search, r, err = readQuotedUnescape(r); err != nil {
				return r, err
			}
		case len(key) == 2 && key[0] == '#':
			var vs [][]byte
			if vs, r, err = readStringArray(r); err != nil {
				return r, err
			}
			f.Tags = append(f.Tags, TagFilter{Letter: key[1], Values: vs})
		default:
			if r, err = skipValue(r); err != nil {
				return r, err
			}
		}
		r = skipWS(r)
		if len(r) == 0 {
			return r, errorf.E("filter: unexpected eof")
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == '}' {
			return r[1:], nil
		}
		return r, errorf.E("filter: unexpected byte %q", r[0])
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
		return nil, r, errorf.E("filter: unterminated key")
	}
	return r[:i], r[i+1:], nil
}

func readQuotedUnescape(r []byte) (s, rem []byte, err error) {
	if len(r) == 0 || r[0] != '"' {
		return nil, r, errorf.E("filter: expected string")
	}
	r = r[1:]
	var out []byte
	for len(r) > 0 {
		c := r[0]
		if c == '"' {
			return out, r[1:], nil
		}
		if c == '\\' && len(r) >= 2 {
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
			default:
				out = append(out, r[1])
			}
			r = r[2:]
			continue
		}
		out = append(out, c)
		r = r[1:]
	}
	return out, r, errorf.E("filter: unterminated string")
}

func readHexArray(r []byte) (out []Prefix, rem []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 || r[0] != '[' {
		return nil, r, errorf.E("filter: expected '['")
	}
	r = r[1:]
	r = skipWS(r)
	if len(r) > 0 && r[0] == ']' {
		return out, r[1:], nil
	}
	for {
		r = skipWS(r)
		var s []byte
		if s, r, err = readQuotedUnescape(r); err != nil {
			return out, r, err
		}
		var p Prefix
		if p.Bytes, p.HasNibble, p.Nibble, err = hex.DecPrefix(s); err != nil {
			return out, r, err
		}
		out = append(out, p)
		r = skipWS(r)
		if len(r) == 0 {
			return out, r, errorf.E("filter: unexpected eof in array")
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == ']' {
			return out, r[1:], nil
		}
		return out, r, errorf.E("filter: unexpected byte %q in array", r[0])
	}
}

// readStringArray reads a JSON array of strings without hex-decoding, for
// tag filter values which are matched against raw (not necessarily hex) tag
// field bytes.
func readStringArray(r []byte) (out [][]byte, rem []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 || r[0] != '[' {
		return nil, r, errorf.E("filter: expected '['")
	}
	r = r[1:]
	r = skipWS(r)
	if len(r) > 0 && r[0] == ']' {
		return out, r[1:], nil
	}
	for {
		r = skipWS(r)
		var s []byte
		if s, r, err = readQuotedUnescape(r); err != nil {
			return out, r, err
		}
		out = append(out, s)
		r = skipWS(r)
		if len(r) == 0 {
			return out, r, errorf.E("filter: unexpected eof in array")
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == ']' {
			return out, r[1:], nil
		}
		return out, r, errorf.E("filter: unexpected byte %q in array", r[0])
	}
}

func readKindArray(r []byte) (out []uint16, rem []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 || r[0] != '[' {
		return nil, r, errorf.E("filter: expected '['")
	}
	r = r[1:]
	r = skipWS(r)
	if len(r) > 0 && r[0] == ']' {
		return out, r[1:], nil
	}
	for {
		r = skipWS(r)
		var n int64
		if n, r, err = readInt(r); err != nil {
			return out, r, err
		}
		if n < 0 || n > 65535 {
			return out, r, errorf.E("filter: kind %d out of range", n)
		}
		out = append(out, uint16(n))
		r = skipWS(r)
		if len(r) == 0 {
			return out, r, errorf.E("filter: unexpected eof in array")
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == ']' {
			return out, r[1:], nil
		}
		return out, r, errorf.E("filter: unexpected byte %q in array", r[0])
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
		return 0, r, errorf.E("filter: expected number")
	}
	if neg {
		n = -n
	}
	return n, r[i:], nil
}

func skipValue(r []byte) (rem []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 {
		return r, errorf.E("filter: unexpected eof in value")
	}
	switch r[0] {
	case '"':
		_, rem, err = readQuotedUnescape(r)
		return rem, err
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
		return nil, errorf.E("filter: unterminated array")
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
		return nil, errorf.E("filter: unterminated object")
	default:
		i := 0
		for i < len(r) && r[i] != ',' && r[i] != '}' && r[i] != ']' {
			i++
		}
		return r[i:], nil
	}
}
