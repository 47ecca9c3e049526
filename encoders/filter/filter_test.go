package filter

import (
	"testing"

	"nightjar.dev/encoders/kind"
	"nightjar.dev/encoders/tag"
	"nightjar.dev/encoders/tags"
	"nightjar.dev/encoders/timestamp"
	"nightjar.dev/event"
)

func testEvent(id []byte, pubkey []byte, k uint16, createdAt int64, ts *tags.T, content string) *event.E {
	if ts == nil {
		ts = tags.New()
	}
	return &event.E{
		Id:        id,
		Pubkey:    pubkey,
		CreatedAt: timestamp.New(createdAt),
		Kind:      kind.New(k),
		Tags:      ts,
		Content:   []byte(content),
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f := New()
	ev := testEvent([]byte{1, 2, 3}, []byte{4, 5, 6}, 1, 100, nil, "anything")
	if !f.Matches(ev) {
		t.Fatalf("empty filter must match every event")
	}
}

func TestSinceAfterUntilIsEmptySet(t *testing.T) {
	since := int64(100)
	until := int64(50)
	f := &F{Since: &since, Until: &until}
	if !f.EmptySet() {
		t.Fatalf("since > until must be an empty set")
	}
}

func TestSinceBeforeUntilIsNotEmptySet(t *testing.T) {
	since := int64(50)
	until := int64(100)
	f := &F{Since: &since, Until: &until}
	if f.EmptySet() {
		t.Fatalf("since <= until must not be an empty set")
	}
}

func TestTagFilterWithNoValuesIsEmptySet(t *testing.T) {
	f := &F{Tags: []TagFilter{{Letter: 'e', Values: nil}}}
	if !f.EmptySet() {
		t.Fatalf("a #e filter with zero values can never match, so it is an empty set")
	}
}

func TestEmptySearchMatchesEverything(t *testing.T) {
	f := &F{Search: nil}
	ev := testEvent(nil, nil, 1, 1, nil, "hello world")
	if !f.Matches(ev) {
		t.Fatalf("a filter with no search term must match")
	}
}

func TestIdPrefixMatching(t *testing.T) {
	fullID := make([]byte, 32)
	for i := range fullID {
		fullID[i] = byte(i)
	}
	ev := testEvent(fullID, nil, 1, 1, nil, "")

	for _, n := range []int{1, 2, 31, 32} {
		f := &F{Ids: []Prefix{BytesPrefix(fullID[:n])}}
		if !f.Matches(ev) {
			t.Fatalf("id prefix of length %d must match", n)
		}
	}

	mismatched := append([]byte{}, fullID[:4]...)
	mismatched[3] ^= 0xff
	f := &F{Ids: []Prefix{BytesPrefix(mismatched)}}
	if f.Matches(ev) {
		t.Fatalf("a differing id prefix must not match")
	}
}

func TestAuthorPrefixMatching(t *testing.T) {
	author := make([]byte, 32)
	for i := range author {
		author[i] = byte(200 + i)
	}
	ev := testEvent(nil, author, 1, 1, nil, "")
	f := &F{Authors: []Prefix{BytesPrefix(author[:2])}}
	if !f.Matches(ev) {
		t.Fatalf("a 2-byte author prefix must match")
	}
}

func TestKindsConjunctionAcrossDisjunction(t *testing.T) {
	ev := testEvent(nil, nil, 1, 1, nil, "")
	f := &F{Kinds: []uint16{0, 3}}
	if f.Matches(ev) {
		t.Fatalf("kind 1 must not match a filter restricted to kinds 0 and 3")
	}
	f2 := &F{Kinds: []uint16{0, 1}}
	if !f2.Matches(ev) {
		t.Fatalf("kind 1 must match a filter that lists kind 1")
	}
}

func TestTagFilterMatches(t *testing.T) {
	ts := tags.New(tag.New("e", "deadbeef"))
	ev := testEvent(nil, nil, 1, 1, ts, "")
	f := &F{Tags: []TagFilter{{Letter: 'e', Values: [][]byte{[]byte("deadbeef")}}}}
	if !f.Matches(ev) {
		t.Fatalf("expected the #e filter to match the tagged event")
	}
	f2 := &F{Tags: []TagFilter{{Letter: 'e', Values: [][]byte{[]byte("cafebabe")}}}}
	if f2.Matches(ev) {
		t.Fatalf("a #e filter for a different value must not match")
	}
}

func TestSinceUntilBoundaryInclusive(t *testing.T) {
	ev := testEvent(nil, nil, 1, 100, nil, "")
	since := int64(100)
	until := int64(100)
	f := &F{Since: &since, Until: &until}
	if !f.Matches(ev) {
		t.Fatalf("since and until are inclusive bounds")
	}
}

func TestMatchesAny(t *testing.T) {
	ev := testEvent(nil, nil, 5, 1, nil, "")
	fs := []*F{
		{Kinds: []uint16{1}},
		{Kinds: []uint16{5}},
	}
	if !MatchesAny(ev, fs) {
		t.Fatalf("expected at least one filter in the disjunction to match")
	}
	fs2 := []*F{{Kinds: []uint16{1}}, {Kinds: []uint16{2}}}
	if MatchesAny(ev, fs2) {
		t.Fatalf("expected no filter to match")
	}
}

func TestSearchIsCaseInsensitiveOverContentAndTags(t *testing.T) {
	ev := testEvent(nil, nil, 1, 1, nil, "Hello Nostr")
	f := &F{Search: []byte("nostr")}
	if !f.Matches(ev) {
		t.Fatalf("search must be case-insensitive")
	}
}

func TestUnmarshalOddLengthHexIdPrefixMatches(t *testing.T) {
	// Every byte here has a nonzero low nibble, so a fix that merely
	// zero-pads the last nibble instead of masking it out of the
	// comparison would fail every case below.
	fullID := []byte{0xab, 0xcd, 0xef, 0x01, 0x02}
	ev := testEvent(fullID, nil, 1, 1, nil, "")

	for _, s := range []string{"a", "abc", "abcde"} {
		f := New()
		rem, err := f.Unmarshal([]byte(`{"ids":["` + s + `"]}`))
		if err != nil {
			t.Fatalf("Unmarshal(%q): %v", s, err)
		}
		if len(rem) != 0 {
			t.Fatalf("expected no remainder, got %q", rem)
		}
		if !f.Matches(ev) {
			t.Fatalf("odd-length hex prefix %q must match an id starting with it", s)
		}
	}
}

func TestUnmarshalOddLengthHexIdPrefixRejectsWrongNibble(t *testing.T) {
	fullID := []byte{0xab, 0xcd, 0xef}
	ev := testEvent(fullID, nil, 1, 1, nil, "")

	f := New()
	// "abd" wants id[1]'s high nibble to be 0xd, but it is 0xc.
	if _, err := f.Unmarshal([]byte(`{"ids":["abd"]}`)); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if f.Matches(ev) {
		t.Fatalf("a prefix whose final nibble disagrees with the id must not match")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	since := int64(10)
	until := int64(20)
	lim := 5
	f := &F{
		Ids:      []Prefix{BytesPrefix([]byte("abcd"))},
		Authors:  []Prefix{BytesPrefix([]byte("ef01"))},
		Kinds:    []uint16{1, 2},
		Since:    &since,
		Until:    &until,
		Limit:    &lim,
		HasLimit: true,
		Tags:     []TagFilter{{Letter: 'e', Values: [][]byte{[]byte("f00d")}}},
	}
	marshaled := f.Marshal(nil)

	got := New()
	rem, err := got.Unmarshal(marshaled)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(rem) != 0 {
		t.Fatalf("expected no remainder, got %q", rem)
	}
	if len(got.Ids) != 1 || got.Ids[0].HasNibble || string(got.Ids[0].Bytes) != "abcd" {
		t.Fatalf("ids mismatch: %v", got.Ids)
	}
	if got.Since == nil || *got.Since != since {
		t.Fatalf("since mismatch: %v", got.Since)
	}
	if got.Until == nil || *got.Until != until {
		t.Fatalf("until mismatch: %v", got.Until)
	}
	if !got.HasLimit || got.Limit == nil || *got.Limit != lim {
		t.Fatalf("limit mismatch: %v", got.Limit)
	}
	if len(got.Tags) != 1 || got.Tags[0].Letter != 'e' {
		t.Fatalf("tag filter mismatch: %v", got.Tags)
	}
}
