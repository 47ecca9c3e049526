package database

import (
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"nightjar.dev/encoders/filter"
	"nightjar.dev/event"
	"nightjar.dev/utils/chk"
)

type candidate struct {
	serial uint64
	ts     int64
}

// prefixesFor picks the secondary index (or indices) a filter's backfill
// should scan: an exact author match is the most selective pushdown
// available, followed by an exact kind match; anything else falls back to
// the global creation-time index with a post-filter.
func prefixesFor(f *filter.F) [][]byte {
	if len(f.Authors) == 1 && isFullAuthor(f.Authors[0]) {
		return [][]byte{byAuthorPrefix(f.Authors[0].Bytes)}
	}
	if len(f.Authors) > 1 {
		var out [][]byte
		for _, a := range f.Authors {
			if isFullAuthor(a) {
				out = append(out, byAuthorPrefix(a.Bytes))
			}
		}
		if len(out) == len(f.Authors) {
			return out
		}
	}
	if len(f.Kinds) > 0 && len(f.Authors) == 0 {
		var out [][]byte
		for _, k := range f.Kinds {
			out = append(out, byKindPrefix(k))
		}
		return out
	}
	return [][]byte{{prefixByTime}}
}

// isFullAuthor reports whether p names an exact 32-byte pubkey rather than
// a shorter (or odd-nibble) prefix, the only case the author index can
// serve directly.
func isFullAuthor(p filter.Prefix) bool {
	return !p.HasNibble && len(p.Bytes) == 32
}

// scanRange walks a time-descending index under prefix, restricted to
// since/until, calling fn with each entry's serial and created_at until fn
// returns false or the prefix is exhausted.
func (d *D) scanRange(prefix []byte, since, until *int64, fn func(serial uint64, ts int64) bool) error {
	return d.DB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		seekKey := prefix
		if until != nil {
			seekKey = putU64(append([]byte{}, prefix...), invTS(*until))
		}
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			n := len(key)
			if n < 16 {
				continue
			}
			inv := getU64(key[n-16 : n-8])
			ts := tsFromInv(inv)
			if since != nil && ts < *since {
				break
			}
			serial := getU64(key[n-8:])
			if !fn(serial, ts) {
				break
			}
		}
		return nil
	})
}

// QueryEvents returns the events matching the filter disjunction, ordered
// by created_at descending, deduplicated by id, with each filter capped at
// min(filter.limit, globalLimit) candidates and the merged result capped
// at globalLimit.
func (d *D) QueryEvents(filters []*filter.F, globalLimit int) (events []*event.E, err error) {
	now := time.Now().Unix()
	seen := make(map[string]*event.E)
	for _, f := range filters {
		if f.EmptySet() {
			continue
		}
		if f.HasLimit && *f.Limit == 0 {
			continue
		}
		limit := globalLimit
		if f.HasLimit && *f.Limit < limit {
			limit = *f.Limit
		}
		var candidates []candidate
		for _, prefix := range prefixesFor(f) {
			if err = d.scanRange(prefix, f.Since, f.Until, func(serial uint64, ts int64) bool {
				candidates = append(candidates, candidate{serial, ts})
				return true
			}); chk.E(err) {
				return nil, err
			}
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ts > candidates[j].ts })
		count := 0
		for _, c := range candidates {
			if count >= limit {
				break
			}
			ev, e := d.fetchBySerial(c.serial)
			if e != nil || ev == nil {
				continue
			}
			if expirationOf(ev) != 0 && expirationOf(ev) <= now {
				continue
			}
			tomb, e := d.IsTombstoned(ev.Pubkey, ev.Id)
			if e == nil && tomb {
				continue
			}
			if !f.Matches(ev) {
				continue
			}
			if _, ok := seen[string(ev.Id)]; ok {
				continue
			}
			seen[string(ev.Id)] = ev
			count++
		}
	}
	events = make([]*event.E, 0, len(seen))
	for _, ev := range seen {
		events = append(events, ev)
	}
	sort.Sort(event.S(events))
	if len(events) > globalLimit {
		events = events[:globalLimit]
	}
	return events, nil
}
