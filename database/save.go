package database

import (
	"github.com/dgraph-io/badger/v4"

	"nightjar.dev/event"
	"nightjar.dev/utils/chk"
	"nightjar.dev/utils/errorf"
)

// ErrDuplicate is returned by SaveEvent when an event with the same id is
// already stored; the caller (ingest) treats this as idempotent success.
var ErrDuplicate = errorf.E("event already exists")

// ErrStale is returned when a replaceable or parameterized-replaceable
// event arrives with a created_at older than (or tied-and-lexicographically
// not smaller than) the event already occupying that slot.
var ErrStale = errorf.E("stale replaceable event")

// SaveEvent enforces invariants 3-4 (replaceable/parameterized-replaceable
// supersession) and then writes the event and its secondary indices in one
// transaction. Deletion tombstones (invariant 5) are not consulted here;
// QueryEvents and Count skip tombstoned events when reading.
func (d *D) SaveEvent(ev *event.E) (err error) {
	// The supersession check-then-act below spans a View and a later
	// Update; badger's conflict detection does not span that gap, so two
	// concurrent SaveEvent calls for the same replaceable identity could
	// both pass the stale check and both commit. writeMu makes the whole
	// sequence a single critical section instead.
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if existing, e := d.GetSerialByID(ev.Id); e == nil && existing != 0 {
		return ErrDuplicate
	}

	var supersedeKey []byte
	var supersedeSerial uint64
	switch {
	case ev.Kind.IsReplaceable():
		supersedeKey = replaceableKey(ev.Pubkey, ev.Kind.K)
	case ev.Kind.IsParameterizedReplaceable():
		dTag := ev.Tags.GetFirst("d")
		var dval []byte
		if dTag != nil {
			dval = dTag.Value()
		}
		supersedeKey = paramReplaceableKey(ev.Pubkey, ev.Kind.K, dval)
	}

	if supersedeKey != nil {
		if err = d.DB.View(func(txn *badger.Txn) error {
			item, e := txn.Get(supersedeKey)
			if e == badger.ErrKeyNotFound {
				return nil
			}
			if e != nil {
				return e
			}
			return item.Value(func(v []byte) error {
				supersedeSerial = getU64(v)
				return nil
			})
		}); chk.E(err) {
			return err
		}
	}

	var oldEvent *event.E
	if supersedeSerial != 0 {
		if oldEvent, err = d.fetchBySerial(supersedeSerial); chk.E(err) {
			return err
		}
		if oldEvent != nil && !supersedes(ev, oldEvent) {
			return ErrStale
		}
	}

	serial, err := d.nextSerial()
	if chk.E(err) {
		return err
	}

	return d.DB.Update(func(txn *badger.Txn) (err error) {
		if oldEvent != nil {
			if err = deleteEventTxn(txn, oldEvent, supersedeSerial); chk.E(err) {
				return err
			}
		}
		if err = txn.Set(eventKey(serial), ev.Marshal(nil)); chk.E(err) {
			return err
		}
		if err = txn.Set(byIDKey(ev.Id), putU64(nil, serial)); chk.E(err) {
			return err
		}
		if err = txn.Set(byAuthorKey(ev.Pubkey, ev.CreatedAt.I64(), serial), nil); chk.E(err) {
			return err
		}
		if err = txn.Set(byKindKey(ev.Kind.K, ev.CreatedAt.I64(), serial), nil); chk.E(err) {
			return err
		}
		if err = txn.Set(byTimeKey(ev.CreatedAt.I64(), serial), nil); chk.E(err) {
			return err
		}
		for _, tg := range ev.Tags.T {
			if tg.Len() < 2 || len(tg.B(0)) != 1 {
				continue
			}
			k := tagKey(tg.B(0)[0], tg.B(1), ev.CreatedAt.I64(), serial)
			if err = txn.Set(k, nil); chk.E(err) {
				return err
			}
		}
		if supersedeKey != nil {
			if err = txn.Set(supersedeKey, putU64(nil, serial)); chk.E(err) {
				return err
			}
		}
		return nil
	})
}

// supersedes reports whether newEv should replace oldEv under invariant
// 3/4's tie-break: strictly newer created_at wins; on a tie, the
// lexicographically smaller id wins.
func supersedes(newEv, oldEv *event.E) bool {
	if newEv.CreatedAt.I64() != oldEv.CreatedAt.I64() {
		return newEv.CreatedAt.I64() > oldEv.CreatedAt.I64()
	}
	return bytesLess(newEv.Id, oldEv.Id)
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// GetSerialByID returns the serial number stored under id, or 0 if absent.
func (d *D) GetSerialByID(id []byte) (serial uint64, err error) {
	err = d.DB.View(func(txn *badger.Txn) error {
		item, e := txn.Get(byIDKey(id))
		if e == badger.ErrKeyNotFound {
			return nil
		}
		if e != nil {
			return e
		}
		return item.Value(func(v []byte) error {
			serial = getU64(v)
			return nil
		})
	})
	return
}

func (d *D) fetchBySerial(serial uint64) (ev *event.E, err error) {
	err = d.DB.View(func(txn *badger.Txn) error {
		item, e := txn.Get(eventKey(serial))
		if e == badger.ErrKeyNotFound {
			return nil
		}
		if e != nil {
			return e
		}
		return item.Value(func(v []byte) error {
			ev = event.New()
			_, uerr := ev.Unmarshal(v)
			return uerr
		})
	})
	return
}
