package database

import (
	"encoding/binary"
	"math"
)

// Key layout. Every key is prefixed by one of these tags; within a prefix,
// fields are fixed-width and big-endian so badger's natural byte ordering
// gives us the range scans the query planner needs.
const (
	prefixEvent            byte = 0x01 // + serial(8)                              -> wire JSON
	prefixByID             byte = 0x02 // + id(32)                                  -> serial(8)
	prefixByAuthor         byte = 0x03 // + pubkey(32) + invTS(8) + serial(8)       -> (nil)
	prefixByKind           byte = 0x04 // + kind(2) + invTS(8) + serial(8)          -> (nil)
	prefixByTime           byte = 0x05 // + invTS(8) + serial(8)                    -> (nil)
	prefixReplaceable      byte = 0x06 // + pubkey(32) + kind(2)                    -> serial(8)
	prefixParamReplaceable byte = 0x07 // + pubkey(32) + kind(2) + dtag             -> serial(8)
	prefixTag              byte = 0x08 // + letter(1) + vlen(2) + value + invTS(8) + serial(8) -> (nil)
	prefixTombstone        byte = 0x09 // + pubkey(32) + id(32)                     -> (nil)
)

// invTS maps a created_at so that ascending byte order sorts newest-first.
func invTS(ts int64) uint64 {
	if ts < 0 {
		ts = 0
	}
	return math.MaxUint64 - uint64(ts)
}

func tsFromInv(inv uint64) int64 {
	return int64(math.MaxUint64 - inv)
}

func putU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func putU16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

func getU64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
func getU16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

func eventKey(serial uint64) []byte {
	return putU64([]byte{prefixEvent}, serial)
}

func byIDKey(id []byte) []byte {
	return append([]byte{prefixByID}, id...)
}

func byAuthorKey(pubkey []byte, ts int64, serial uint64) []byte {
	k := append([]byte{prefixByAuthor}, pubkey...)
	k = putU64(k, invTS(ts))
	return putU64(k, serial)
}

func byAuthorPrefix(pubkey []byte) []byte {
	return append([]byte{prefixByAuthor}, pubkey...)
}

func byKindKey(kind uint16, ts int64, serial uint64) []byte {
	k := putU16([]byte{prefixByKind}, kind)
	k = putU64(k, invTS(ts))
	return putU64(k, serial)
}

func byKindPrefix(kind uint16) []byte {
	return putU16([]byte{prefixByKind}, kind)
}

func byTimeKey(ts int64, serial uint64) []byte {
	k := putU64([]byte{prefixByTime}, invTS(ts))
	return putU64(k, serial)
}

func replaceableKey(pubkey []byte, kind uint16) []byte {
	k := append([]byte{prefixReplaceable}, pubkey...)
	return putU16(k, kind)
}

func paramReplaceableKey(pubkey []byte, kind uint16, dtag []byte) []byte {
	k := append([]byte{prefixParamReplaceable}, pubkey...)
	k = putU16(k, kind)
	return append(k, dtag...)
}

func tagKey(letter byte, value []byte, ts int64, serial uint64) []byte {
	k := append([]byte{prefixTag, letter}, tagValueLenPrefixed(value)...)
	k = putU64(k, invTS(ts))
	return putU64(k, serial)
}

func tagPrefix(letter byte, value []byte) []byte {
	return append([]byte{prefixTag, letter}, tagValueLenPrefixed(value)...)
}

// tagValueLenPrefixed length-prefixes a tag value so that one value can
// never be mistaken for a byte-prefix of another during a prefix scan.
func tagValueLenPrefixed(value []byte) []byte {
	out := putU16(nil, uint16(len(value)))
	return append(out, value...)
}

func tombstoneKey(pubkey, id []byte) []byte {
	k := append([]byte{prefixTombstone}, pubkey...)
	return append(k, id...)
}
