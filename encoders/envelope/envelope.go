// Package envelope is the wire-frame codec: the outer `["WORD", …]` JSON
// array that every client and server message is wrapped in. It tokenizes a
// raw frame into its top-level elements without committing to what kind of
// frame it is, then exposes one parser per command word.
package envelope

import (
	"bytes"

	"nightjar.dev/encoders/filter"
	"nightjar.dev/encoders/hex"
	"nightjar.dev/encoders/text"
	"nightjar.dev/event"
	"nightjar.dev/utils/errorf"
)

// Word is a frame's command word (the first array element).
type Word string

const (
	WordEvent  Word = "EVENT"
	WordReq    Word = "REQ"
	WordClose  Word = "CLOSE"
	WordCount  Word = "COUNT"
	WordAuth   Word = "AUTH"
	WordOK     Word = "OK"
	WordNotice Word = "NOTICE"
	WordEOSE   Word = "EOSE"
)

// Identify reports a raw frame's command word and its remaining top-level
// elements (still-encoded JSON), without parsing them.
func Identify(raw []byte) (word Word, rest [][]byte, err error) {
	var elems [][]byte
	if elems, err = splitArray(raw); err != nil {
		return "", nil, err
	}
	if len(elems) == 0 {
		return "", nil, errorf.E("envelope: empty frame")
	}
	var w []byte
	if w, err = unquote(elems[0]); err != nil {
		return "", nil, errorf.E("envelope: bad command word: %w", err)
	}
	return Word(w), elems[1:], nil
}

// ParseReq parses a ["REQ", subId, filter...] frame's rest elements.
func ParseReq(rest [][]byte) (subID string, filters []*filter.F, err error) {
	if len(rest) < 1 {
		return "", nil, errorf.E("envelope: REQ requires a subscription id")
	}
	var s []byte
	if s, err = unquote(rest[0]); err != nil {
		return "", nil, err
	}
	subID = string(s)
	for _, raw := range rest[1:] {
		f := filter.New()
		if _, err = f.Unmarshal(raw); err != nil {
			return subID, nil, err
		}
		filters = append(filters, f)
	}
	return subID, filters, nil
}

// ParseClose parses a ["CLOSE", subId] frame's rest elements.
func ParseClose(rest [][]byte) (subID string, err error) {
	if len(rest) < 1 {
		return "", errorf.E("envelope: CLOSE requires a subscription id")
	}
	var s []byte
	if s, err = unquote(rest[0]); err != nil {
		return "", err
	}
	return string(s), nil
}

// ParseCount parses a ["COUNT", subId, filter...] frame's rest elements.
func ParseCount(rest [][]byte) (subID string, filters []*filter.F, err error) {
	return ParseReq(rest)
}

// ParseEvent parses an ["EVENT", event] frame's rest elements.
func ParseEvent(rest [][]byte) (ev *event.E, err error) {
	if len(rest) < 1 {
		return nil, errorf.E("envelope: EVENT requires an event object")
	}
	ev = event.New()
	if _, err = ev.Unmarshal(rest[0]); err != nil {
		return nil, err
	}
	return ev, nil
}

// ParseAuth parses an ["AUTH", event] frame's rest elements.
func ParseAuth(rest [][]byte) (ev *event.E, err error) {
	return ParseEvent(rest)
}

// EventFrame renders a ["EVENT", subId, event] server push.
func EventFrame(dst []byte, subID string, ev *event.E) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(WordEvent), copyEsc)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, []byte(subID), text.NostrEscape)
	dst = append(dst, ',')
	dst = ev.Marshal(dst)
	dst = append(dst, ']')
	return dst
}

// OKFrame renders an ["OK", id, ok, message] acceptance reply.
func OKFrame(dst []byte, id []byte, ok bool, message []byte) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(WordOK), copyEsc)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, id, hex.EncAppend)
	dst = append(dst, ',')
	if ok {
		dst = append(dst, 't', 'r', 'u', 'e')
	} else {
		dst = append(dst, 'f', 'a', 'l', 's', 'e')
	}
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, message, text.NostrEscape)
	dst = append(dst, ']')
	return dst
}

// EOSEFrame renders an ["EOSE", subId] end-of-stored-events marker.
func EOSEFrame(dst []byte, subID string) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(WordEOSE), copyEsc)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, []byte(subID), text.NostrEscape)
	dst = append(dst, ']')
	return dst
}

// NoticeFrame renders a ["NOTICE", message] frame.
func NoticeFrame(dst []byte, message []byte) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(WordNotice), copyEsc)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, message, text.NostrEscape)
	dst = append(dst, ']')
	return dst
}

// CountFrame renders a ["COUNT", subId, {"count": n}] reply.
func CountFrame(dst []byte, subID string, n int64) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(WordCount), copyEsc)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, []byte(subID), text.NostrEscape)
	dst = append(dst, ',', '{')
	dst = text.JSONKey(dst, []byte("count"))
	dst = appendInt(dst, n)
	dst = append(dst, '}', ']')
	return dst
}

// AuthFrame renders an ["AUTH", challenge] NIP-42 challenge push.
func AuthFrame(dst []byte, challenge string) []byte {
	dst = append(dst, '[')
	dst = text.AppendQuote(dst, []byte(WordAuth), copyEsc)
	dst = append(dst, ',')
	dst = text.AppendQuote(dst, []byte(challenge), text.NostrEscape)
	dst = append(dst, ']')
	return dst
}

func copyEsc(dst, src []byte) []byte { return append(dst, src...) }

func appendInt(dst []byte, v int64) []byte {
	if v < 0 {
		dst = append(dst, '-')
		v = -v
	}
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

// splitArray tokenizes a top-level JSON array into its raw element byte
// slices, trimming surrounding whitespace. It does not recurse into the
// elements: each parser below decodes its own elements according to what
// the command word says they should be.
func splitArray(b []byte) (elems [][]byte, err error) {
	r := skipWS(b)
	if len(r) == 0 || r[0] != '[' {
		return nil, errorf.E("envelope: expected '['")
	}
	r = r[1:]
	r = skipWS(r)
	if len(r) > 0 && r[0] == ']' {
		return nil, nil
	}
	for {
		r = skipWS(r)
		var elem []byte
		if elem, r, err = readValue(r); err != nil {
			return nil, err
		}
		elems = append(elems, elem)
		r = skipWS(r)
		if len(r) == 0 {
			return nil, errorf.E("envelope: unexpected eof")
		}
		if r[0] == ',' {
			r = r[1:]
			continue
		}
		if r[0] == ']' {
			return elems, nil
		}
		return nil, errorf.E("envelope: unexpected byte %q", r[0])
	}
}

// readValue returns the raw bytes of the next JSON value (string, number,
// object, or array) starting at r, and what follows it.
func readValue(r []byte) (value, rem []byte, err error) {
	r = skipWS(r)
	if len(r) == 0 {
		return nil, r, errorf.E("envelope: unexpected eof in value")
	}
	switch r[0] {
	case '"':
		end, e := stringEnd(r)
		if e != nil {
			return nil, r, e
		}
		return r[:end], r[end:], nil
	case '{':
		end, e := balancedEnd(r, '{', '}')
		if e != nil {
			return nil, r, e
		}
		return r[:end], r[end:], nil
	case '[':
		end, e := balancedEnd(r, '[', ']')
		if e != nil {
			return nil, r, e
		}
		return r[:end], r[end:], nil
	default:
		i := 0
		for i < len(r) && r[i] != ',' && r[i] != ']' && r[i] != '}' {
			i++
		}
		return bytes.TrimRight(r[:i], " \t\n\r"), r[i:], nil
	}
}

func stringEnd(r []byte) (int, error) {
	i := 1
	for i < len(r) {
		if r[i] == '\\' {
			i += 2
			continue
		}
		if r[i] == '"' {
			return i + 1, nil
		}
		i++
	}
	return 0, errorf.E("envelope: unterminated string")
}

func balancedEnd(r []byte, open, close byte) (int, error) {
	depth := 0
	i := 0
	for i < len(r) {
		switch r[i] {
		case '"':
			n, err := stringEnd(r[i:])
			if err != nil {
				return 0, err
			}
			i += n
			continue
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
		i++
	}
	return 0, errorf.E("envelope: unterminated value")
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

// unquote decodes a raw JSON string token (quotes included) into its
// unescaped bytes.
func unquote(r []byte) (out []byte, err error) {
	r = skipWS(r)
	if len(r) < 2 || r[0] != '"' || r[len(r)-1] != '"' {
		return nil, errorf.E("envelope: expected string")
	}
	r = r[1 : len(r)-1]
	for len(r) > 0 {
		c := r[0]
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
	return out, nil
}
