// Package ingest is the validation-and-acceptance pipeline (C6): every
// EVENT frame runs through here before it is persisted and broadcast. The
// verdict order mirrors the protocol's acceptance rules exactly; the first
// failing rule terminates the pipeline with a normalize-prefixed reason.
package ingest

import (
	"time"

	"nightjar.dev/crypto"
	"nightjar.dev/database"
	"nightjar.dev/delegation"
	"nightjar.dev/encoders/hex"
	"nightjar.dev/encoders/kind"
	"nightjar.dev/event"
	"nightjar.dev/utils/chk"
	"nightjar.dev/utils/log"
	"nightjar.dev/utils/normalize"
)

// Config is the operator-tunable policy the pipeline enforces.
type Config struct {
	OwnerOnly           bool
	OwnerPubkey         []byte
	MinPow              int
	FutureLimitSeconds  int64
	PastLimitSeconds    int64
	MaxContentLength    int
}

// DefaultConfig matches the protocol's stated defaults.
func DefaultConfig() Config {
	return Config{
		FutureLimitSeconds: 600,
		PastLimitSeconds:   2_592_000,
		MaxContentLength:   65536,
	}
}

// Verdict is the outcome of running an event through the pipeline.
type Verdict struct {
	Accepted bool
	Reason   []byte // "" on acceptance; "<prefix>: <detail>" on rejection
}

// Process runs ev through every acceptance rule in order and, if accepted,
// persists it (including kind-5 and replaceable handling). The caller is
// responsible for the OK reply and for calling hub.Publish on acceptance.
func Process(db *database.D, ev *event.E, cfg Config) (v Verdict) {
	if reason, ok := structuralCheck(ev, cfg); !ok {
		return Verdict{Reason: reason}
	}

	if !ev.CheckId() {
		return Verdict{Reason: normalize.Invalid.F("id does not match canonical hash")}
	}

	if ok, err := ev.Verify(); err != nil || !ok {
		return Verdict{Reason: normalize.Invalid.F("signature verification failed")}
	}

	now := time.Now().Unix()
	ts := ev.CreatedAt.I64()
	if ts > now+cfg.FutureLimitSeconds {
		return Verdict{Reason: normalize.Invalid.F("created_at too far in the future")}
	}
	if ts < now-cfg.PastLimitSeconds {
		return Verdict{Reason: normalize.Invalid.F("created_at too far in the past")}
	}

	if exp := expirationOf(ev); exp != 0 && exp <= now {
		return Verdict{Reason: normalize.Invalid.F("expired")}
	}

	if cfg.OwnerOnly && !bytesEqual(ev.Pubkey, cfg.OwnerPubkey) {
		return Verdict{Reason: normalize.Restricted.F("only owner can publish")}
	}

	if cfg.MinPow > 0 && leadingZeroBits(ev.Id) < cfg.MinPow {
		return Verdict{Reason: normalize.Pow.F("difficulty %d required", cfg.MinPow)}
	}

	if dtag := ev.Tags.GetFirst("delegation"); dtag != nil {
		if _, err := delegation.Verify(ev, dtag); err != nil {
			return Verdict{Reason: normalize.Invalid.F("delegation: %v", err)}
		}
	}

	if ev.Kind.Equal(kind.Auth) {
		return Verdict{Reason: normalize.Invalid.F("kind 22242 must arrive via AUTH, not EVENT")}
	}

	if ev.Kind.IsDeletion() {
		ids := referencedIDs(ev)
		if err := db.DeleteByAuthor(ev.Pubkey, ids); chk.E(err) {
			return Verdict{Reason: normalize.Error.F("storage")}
		}
	}

	// Ephemeral kinds (20000 <= kind < 30000) are relayed live but never
	// persisted: the glossary's ephemeral range has no stored representation
	// to replace or query against.
	if ev.Kind.IsEphemeral() {
		return Verdict{Accepted: true, Reason: normalize.Empty()}
	}

	if err := db.SaveEvent(ev); err != nil {
		switch err {
		case database.ErrDuplicate:
			return Verdict{Accepted: true, Reason: normalize.Duplicate.F("")}
		case database.ErrStale:
			return Verdict{Reason: normalize.Blocked.F("superseded by a newer event")}
		default:
			log.E.F("store error saving %x: %v", ev.Id, err)
			return Verdict{Reason: normalize.Error.F("storage")}
		}
	}

	return Verdict{Accepted: true, Reason: normalize.Empty()}
}

func structuralCheck(ev *event.E, cfg Config) (reason []byte, ok bool) {
	if len(ev.Id) != 32 {
		return normalize.Invalid.F("id must be 32 bytes"), false
	}
	if len(ev.Pubkey) != crypto.PubKeyLen {
		return normalize.Invalid.F("pubkey must be %d bytes", crypto.PubKeyLen), false
	}
	if len(ev.Sig) != crypto.SigLen {
		return normalize.Invalid.F("sig must be %d bytes", crypto.SigLen), false
	}
	if ev.Kind == nil {
		return normalize.Invalid.F("missing kind"), false
	}
	if ev.CreatedAt == nil {
		return normalize.Invalid.F("missing created_at"), false
	}
	max := cfg.MaxContentLength
	if max == 0 {
		max = 65536
	}
	if len(ev.Content) > max {
		return normalize.Invalid.F("content exceeds %d bytes", max), false
	}
	for i := 0; i < ev.Tags.Len(); i++ {
		if ev.Tags.T[i].Len() < 1 {
			return normalize.Invalid.F("tag %d is empty", i), false
		}
	}
	return nil, true
}

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

func referencedIDs(ev *event.E) (ids [][]byte) {
	for _, tg := range ev.Tags.GetAll("e") {
		if tg.Len() >= 2 {
			id, err := hex.Dec(tg.S(1))
			if err != nil || len(id) != 32 {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids
}

// leadingZeroBits counts an id's leading zero bits, NIP-13 difficulty.
func leadingZeroBits(id []byte) int {
	n := 0
	for _, b := range id {
		if b == 0 {
			n += 8
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if b&(1<<uint(bit)) != 0 {
				return n
			}
			n++
		}
	}
	return n
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
