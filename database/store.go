// Package database is the persistent event store: a BadgerDB-backed table
// with secondary indices for the access patterns the relay actually needs
// (by author, by kind, by creation time, and the replaceable-event slots),
// plus the tombstone set deletions populate.
package database

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"

	"nightjar.dev/utils/apputil"
	"nightjar.dev/utils/chk"
	"nightjar.dev/utils/context"
	"nightjar.dev/utils/log"
	"nightjar.dev/utils/units"
)

// D is the event store. A single instance owns one badger database and one
// sequence for serial numbers. Badger's own SSI conflict detection only
// catches conflicts on keys read inside the committing transaction, which
// does not cover SaveEvent's read-check-write across a View and a later
// Update; writeMu gives SaveEvent the single-writer lease the replaceable
// and parameterized-replaceable supersession check needs.
type D struct {
	ctx     context.T
	cancel  context.F
	dataDir string
	*badger.DB
	seq     *badger.Sequence
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the database at dataDir and starts
// its background expiration sweep, which stops when ctx is canceled.
func Open(ctx context.T, cancel context.F, dataDir string) (d *D, err error) {
	d = &D{ctx: ctx, cancel: cancel, dataDir: dataDir}

	if err = os.MkdirAll(dataDir, 0755); chk.E(err) {
		return
	}
	if err = apputil.EnsureDir(filepath.Join(dataDir, "dummy.sst")); chk.E(err) {
		return
	}

	opts := badger.DefaultOptions(dataDir)
	opts.BlockCacheSize = int64(units.Gb)
	opts.Logger = badgerLogger{}
	if d.DB, err = badger.Open(opts); chk.E(err) {
		return
	}
	log.T.Ln("getting event sequence lease", dataDir)
	if d.seq, err = d.DB.GetSequence([]byte("EVENTS"), 1000); chk.E(err) {
		return
	}
	go d.expireLoop()
	return
}

// Path returns the directory the database files live under.
func (d *D) Path() string { return d.dataDir }

// DiskUsage reports the on-disk size of the LSM tree and value log, in
// human-readable form, for the operator startup log line.
func (d *D) DiskUsage() string {
	lsm, vlog := d.DB.Size()
	return humanize.Bytes(uint64(lsm + vlog))
}

// Sync flushes buffered writes and runs badger's value-log GC.
func (d *D) Sync() (err error) {
	d.DB.RunValueLogGC(0.5)
	return d.DB.Sync()
}

// Close releases the sequence lease and closes the underlying database.
func (d *D) Close() (err error) {
	if d.seq != nil {
		if err = d.seq.Release(); chk.E(err) {
			return
		}
	}
	if d.DB != nil {
		if err = d.DB.Close(); chk.E(err) {
			return
		}
	}
	return
}

func (d *D) nextSerial() (serial uint64, err error) {
	return d.seq.Next()
}

// TotalEvents counts the rows under the event prefix, for the operator
// stats endpoint. It walks keys only, never values.
func (d *D) TotalEvents() (n int64, err error) {
	err = d.DB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte{prefixEvent}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return
}

// expireLoop periodically removes events whose expiration tag has passed,
// mirroring the store's duty to never return an expired event from a query
// even before the sweep runs (query.go also filters at read time).
func (d *D) expireLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.DeleteExpired()
		case <-d.ctx.Done():
			return
		}
	}
}

// badgerLogger adapts badger's Logger interface onto the ambient logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, a ...interface{})   { log.E.F(f, a...) }
func (badgerLogger) Warningf(f string, a ...interface{}) { log.W.F(f, a...) }
func (badgerLogger) Infof(f string, a ...interface{})    { log.I.F(f, a...) }
func (badgerLogger) Debugf(f string, a ...interface{})   { log.D.F(f, a...) }
