package database

import (
	"time"

	"nightjar.dev/encoders/filter"
	"nightjar.dev/utils/chk"
)

// Count returns the number of distinct stored events matching the filter
// disjunction, NIP-45 semantics: the same matching rules as QueryEvents,
// without ordering or a limit cutoff.
func (d *D) Count(filters []*filter.F) (n int64, err error) {
	now := time.Now().Unix()
	seen := make(map[string]struct{})
	for _, f := range filters {
		if f.EmptySet() {
			continue
		}
		for _, prefix := range prefixesFor(f) {
			if err = d.scanRange(prefix, f.Since, f.Until, func(serial uint64, ts int64) bool {
				ev, e := d.fetchBySerial(serial)
				if e != nil || ev == nil {
					return true
				}
				if expirationOf(ev) != 0 && expirationOf(ev) <= now {
					return true
				}
				tomb, e := d.IsTombstoned(ev.Pubkey, ev.Id)
				if e == nil && tomb {
					return true
				}
				if !f.Matches(ev) {
					return true
				}
				seen[string(ev.Id)] = struct{}{}
				return true
			}); chk.E(err) {
				return 0, err
			}
		}
	}
	return int64(len(seen)), nil
}
