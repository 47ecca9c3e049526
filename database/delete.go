package database

import (
	"time"

	"github.com/dgraph-io/badger/v4"

	"nightjar.dev/event"
	"nightjar.dev/utils/chk"
)

// DeleteByAuthor tombstones every id in ids that was authored by author,
// implementing a kind-5 deletion event's effect: the referenced events
// become unreachable via queries and are never redelivered. The event rows
// stay in the store; no code path removes tombstoned events physically.
func (d *D) DeleteByAuthor(author []byte, ids [][]byte) (err error) {
	return d.DB.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			serial, e := getSerialByIDTxn(txn, id)
			if e != nil || serial == 0 {
				continue
			}
			item, e := txn.Get(eventKey(serial))
			if e != nil {
				continue
			}
			var owner []byte
			_ = item.Value(func(v []byte) error {
				ev := event.New()
				if _, uerr := ev.Unmarshal(v); uerr != nil {
					return uerr
				}
				owner = ev.Pubkey
				return nil
			})
			if owner == nil || !bytesEqual(owner, author) {
				continue
			}
			if e := txn.Set(tombstoneKey(author, id), nil); e != nil {
				return e
			}
		}
		return nil
	})
}

// IsTombstoned reports whether id has been deleted by its own author.
func (d *D) IsTombstoned(pubkey, id []byte) (tombstoned bool, err error) {
	err = d.DB.View(func(txn *badger.Txn) error {
		_, e := txn.Get(tombstoneKey(pubkey, id))
		if e == badger.ErrKeyNotFound {
			return nil
		}
		if e != nil {
			return e
		}
		tombstoned = true
		return nil
	})
	return
}

func getSerialByIDTxn(txn *badger.Txn, id []byte) (serial uint64, err error) {
	item, e := txn.Get(byIDKey(id))
	if e == badger.ErrKeyNotFound {
		return 0, nil
	}
	if e != nil {
		return 0, e
	}
	err = item.Value(func(v []byte) error {
		serial = getU64(v)
		return nil
	})
	return
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// deleteEventTxn removes an event's row and every secondary index entry
// within an already-open transaction, used both by DeleteExpired and by
// SaveEvent when a replaceable event supersedes an older one.
func deleteEventTxn(txn *badger.Txn, ev *event.E, serial uint64) (err error) {
	if err = txn.Delete(eventKey(serial)); chk.E(err) {
		return err
	}
	if err = txn.Delete(byIDKey(ev.Id)); chk.E(err) {
		return err
	}
	if err = txn.Delete(byAuthorKey(ev.Pubkey, ev.CreatedAt.I64(), serial)); chk.E(err) {
		return err
	}
	if err = txn.Delete(byKindKey(ev.Kind.K, ev.CreatedAt.I64(), serial)); chk.E(err) {
		return err
	}
	if err = txn.Delete(byTimeKey(ev.CreatedAt.I64(), serial)); chk.E(err) {
		return err
	}
	for _, tg := range ev.Tags.T {
		if tg.Len() < 2 || len(tg.B(0)) != 1 {
			continue
		}
		if err = txn.Delete(tagKey(tg.B(0)[0], tg.B(1), ev.CreatedAt.I64(), serial)); chk.E(err) {
			return err
		}
	}
	return nil
}

// DeleteExpired sweeps the by-time index for events whose expiration tag
// has passed and removes them, complementing query.go's read-time filter
// (which hides expired events immediately, before this sweep ever runs).
func (d *D) DeleteExpired() {
	now := time.Now().Unix()
	var toDelete []struct {
		ev     *event.E
		serial uint64
	}
	if err := d.DB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixByTime}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			serial := getU64(key[1+8:])
			item, e := txn.Get(eventKey(serial))
			if e != nil {
				continue
			}
			var ev *event.E
			_ = item.Value(func(v []byte) error {
				ev = event.New()
				_, uerr := ev.Unmarshal(v)
				return uerr
			})
			if ev == nil {
				continue
			}
			exp := expirationOf(ev)
			if exp == 0 || exp > now {
				continue
			}
			toDelete = append(toDelete, struct {
				ev     *event.E
				serial uint64
			}{ev, serial})
		}
		return nil
	}); chk.E(err) {
		return
	}
	if len(toDelete) == 0 {
		return
	}
	if err := d.DB.Update(func(txn *badger.Txn) error {
		for _, td := range toDelete {
			if err := deleteEventTxn(txn, td.ev, td.serial); err != nil {
				return err
			}
		}
		return nil
	}); chk.E(err) {
	}
}

// expirationOf returns an event's expiration tag value as a unix
// timestamp, or 0 if it has none or the value doesn't parse.
func expirationOf(ev *event.E) int64 {
	tg := ev.Tags.GetFirst("expiration")
	if tg == nil || tg.Len() < 2 {
		return 0
	}
	var n int64
	for _, c := range tg.B(1) {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
