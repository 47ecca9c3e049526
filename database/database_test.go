package database

import (
	"crypto/rand"
	"os"
	"sync"
	"testing"
	"time"

	"nightjar.dev/crypto"
	"nightjar.dev/encoders/filter"
	"nightjar.dev/encoders/kind"
	"nightjar.dev/encoders/tag"
	"nightjar.dev/encoders/tags"
	"nightjar.dev/encoders/timestamp"
	"nightjar.dev/event"
	"nightjar.dev/utils/context"
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

func mintEvent(t *testing.T, signer *crypto.Signer, k uint16, createdAt int64, ts *tags.T, content string) *event.E {
	t.Helper()
	if ts == nil {
		ts = tags.New()
	}
	ev := &event.E{
		CreatedAt: timestamp.New(createdAt),
		Kind:      kind.New(k),
		Tags:      ts,
		Content:   []byte(content),
	}
	if err := ev.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return ev
}

func openTestDB(t *testing.T) *D {
	t.Helper()
	dir, err := os.MkdirTemp("", "nightjar-db-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	ctx, cancel := context.Cancellable(context.Bg())
	d, err := Open(ctx, cancel, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestSaveEventFreshInsert(t *testing.T) {
	d := openTestDB(t)
	signer := newSigner(t)
	now := time.Now().Unix()
	ev := mintEvent(t, signer, 1, now, nil, "hello")

	if err := d.SaveEvent(ev); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	serial, err := d.GetSerialByID(ev.Id)
	if err != nil {
		t.Fatalf("GetSerialByID: %v", err)
	}
	if serial == 0 {
		t.Fatalf("expected a nonzero serial for a saved event")
	}

	total, err := d.TotalEvents()
	if err != nil {
		t.Fatalf("TotalEvents: %v", err)
	}
	if total != 1 {
		t.Fatalf("TotalEvents = %d, want 1", total)
	}
}

func TestSaveEventDuplicateRejected(t *testing.T) {
	d := openTestDB(t)
	signer := newSigner(t)
	now := time.Now().Unix()
	ev := mintEvent(t, signer, 1, now, nil, "hello")

	if err := d.SaveEvent(ev); err != nil {
		t.Fatalf("first SaveEvent: %v", err)
	}
	if err := d.SaveEvent(ev); err != ErrDuplicate {
		t.Fatalf("second SaveEvent = %v, want ErrDuplicate", err)
	}
}

func TestSaveEventReplaceableSupersedes(t *testing.T) {
	d := openTestDB(t)
	signer := newSigner(t)
	now := time.Now().Unix()

	older := mintEvent(t, signer, 0, now, nil, `{"name":"old"}`)
	if err := d.SaveEvent(older); err != nil {
		t.Fatalf("save older: %v", err)
	}
	newer := mintEvent(t, signer, 0, now+10, nil, `{"name":"new"}`)
	if err := d.SaveEvent(newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	serial, err := d.GetSerialByID(older.Id)
	if err != nil || serial != 0 {
		t.Fatalf("expected the older replaceable event's id to be gone, got serial %d err %v", serial, err)
	}
	serial, err = d.GetSerialByID(newer.Id)
	if err != nil || serial == 0 {
		t.Fatalf("expected the newer replaceable event to remain: %v", err)
	}
}

func TestSaveEventReplaceableStaleRejected(t *testing.T) {
	d := openTestDB(t)
	signer := newSigner(t)
	now := time.Now().Unix()

	newer := mintEvent(t, signer, 0, now, nil, `{"name":"new"}`)
	if err := d.SaveEvent(newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	older := mintEvent(t, signer, 0, now-10, nil, `{"name":"old"}`)
	if err := d.SaveEvent(older); err != ErrStale {
		t.Fatalf("SaveEvent(older) = %v, want ErrStale", err)
	}
}

func TestSaveEventReplaceableTieBreaksOnSmallerID(t *testing.T) {
	d := openTestDB(t)
	signer := newSigner(t)
	now := time.Now().Unix()

	a := mintEvent(t, signer, 0, now, nil, `{"v":"a"}`)
	b := mintEvent(t, signer, 0, now, nil, `{"v":"b"}`)
	first, second := a, b
	if bytesLess(b.Id, a.Id) {
		first, second = b, a
	}
	// first has the smaller id; saving second (same timestamp, larger id)
	// must not supersede it, since ties favor the smaller id.
	if err := d.SaveEvent(first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := d.SaveEvent(second); err != ErrStale {
		t.Fatalf("SaveEvent(second) = %v, want ErrStale", err)
	}
}

func TestSaveEventReplaceableConcurrentWritesLeaveExactlyOneSurvivor(t *testing.T) {
	d := openTestDB(t)
	signer := newSigner(t)
	now := time.Now().Unix()

	const n = 8
	evs := make([]*event.E, n)
	for i := range evs {
		evs[i] = mintEvent(t, signer, 0, now+int64(i), nil, "concurrent")
	}

	var wg sync.WaitGroup
	for _, ev := range evs {
		wg.Add(1)
		go func(ev *event.E) {
			defer wg.Done()
			_ = d.SaveEvent(ev)
		}(ev)
	}
	wg.Wait()

	total, err := d.TotalEvents()
	if err != nil {
		t.Fatalf("TotalEvents: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected exactly one surviving row for the replaceable identity, got %d", total)
	}

	events, err := d.QueryEvents([]*filter.F{{Kinds: []uint16{0}, Authors: []filter.Prefix{filter.BytesPrefix(signer.Pub())}}}, 10)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one queryable event, got %d", len(events))
	}
	last := evs[n-1]
	if string(events[0].Id) != string(last.Id) {
		t.Fatalf("expected the newest event (created_at=%d) to win, got id %x", last.CreatedAt.I64(), events[0].Id)
	}
}

func TestSaveEventParameterizedReplaceableKeyedByDTag(t *testing.T) {
	d := openTestDB(t)
	signer := newSigner(t)
	now := time.Now().Unix()

	tagsA := tags.New(tag.New("d", "profile"))
	a := mintEvent(t, signer, 30000, now, tagsA, "v1")
	if err := d.SaveEvent(a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	tagsB := tags.New(tag.New("d", "profile"))
	b := mintEvent(t, signer, 30000, now+5, tagsB, "v2")
	if err := d.SaveEvent(b); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if serial, err := d.GetSerialByID(a.Id); err != nil || serial != 0 {
		t.Fatalf("expected a to be superseded, got serial %d err %v", serial, err)
	}

	tagsC := tags.New(tag.New("d", "other"))
	c := mintEvent(t, signer, 30000, now+1, tagsC, "v1-other-d")
	if err := d.SaveEvent(c); err != nil {
		t.Fatalf("save c (different d tag): %v", err)
	}
	if serial, err := d.GetSerialByID(c.Id); err != nil || serial == 0 {
		t.Fatalf("expected c to survive, it has a distinct d tag: serial %d err %v", serial, err)
	}
}

func TestDeleteByAuthorTombstones(t *testing.T) {
	d := openTestDB(t)
	signer := newSigner(t)
	now := time.Now().Unix()

	ev := mintEvent(t, signer, 1, now, nil, "to be deleted")
	if err := d.SaveEvent(ev); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := d.DeleteByAuthor(ev.Pubkey, [][]byte{ev.Id}); err != nil {
		t.Fatalf("DeleteByAuthor: %v", err)
	}
	tombstoned, err := d.IsTombstoned(ev.Pubkey, ev.Id)
	if err != nil {
		t.Fatalf("IsTombstoned: %v", err)
	}
	if !tombstoned {
		t.Fatalf("expected event to be tombstoned after deletion")
	}
}

func TestDeleteByAuthorIgnoresOtherAuthors(t *testing.T) {
	d := openTestDB(t)
	owner := newSigner(t)
	other := newSigner(t)
	now := time.Now().Unix()

	ev := mintEvent(t, owner, 1, now, nil, "owner's event")
	if err := d.SaveEvent(ev); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := d.DeleteByAuthor(other.Pub(), [][]byte{ev.Id}); err != nil {
		t.Fatalf("DeleteByAuthor: %v", err)
	}
	tombstoned, err := d.IsTombstoned(owner.Pub(), ev.Id)
	if err != nil {
		t.Fatalf("IsTombstoned: %v", err)
	}
	if tombstoned {
		t.Fatalf("an event must only be tombstoned by its own author")
	}
}
