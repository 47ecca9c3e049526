package session

import (
	"bytes"
	"fmt"

	"nightjar.dev/database"
	"nightjar.dev/encoders/envelope"
	"nightjar.dev/encoders/filter"
	"nightjar.dev/hub"
	"nightjar.dev/ingest"
	"nightjar.dev/matcher"
	"nightjar.dev/utils/log"
	"nightjar.dev/utils/normalize"

	nauth "nightjar.dev/auth"
)

const (
	maxSubIDLen      = 64
	maxFiltersPerReq = 10
	maxFilterLimit   = 500
	maxSubsPerSess   = 20
)

// Deps is everything a session needs from the rest of the relay to
// dispatch a frame. Passed in at construction so package session never
// needs to know how the hub, store, or policy were built.
type Deps struct {
	Hub          *hub.H
	DB           *database.D
	IngestCfg    ingest.Config
	AuthRequired bool
	RelayURL     string

	// FrameRatePerSecond/FrameBurst configure the per-session inbound
	// token bucket. Zero means "use the default" (20/s, burst 40).
	FrameRatePerSecond float64
	FrameBurst         int
}

// dispatch identifies and routes one raw inbound frame, replying on this
// session's send queue as needed.
func (s *S) dispatch(raw []byte) {
	word, rest, err := envelope.Identify(raw)
	if err != nil {
		s.Enqueue(envelope.NoticeFrame(nil, []byte(err.Error())))
		s.recordParseFailure()
		return
	}
	if !s.limiter.Allow() {
		if word == envelope.WordEvent {
			if ev, perr := envelope.ParseEvent(rest); perr == nil {
				s.Enqueue(envelope.OKFrame(nil, ev.Id, false, normalize.RateLimited.F("too many frames")))
				return
			}
		}
		s.Enqueue(envelope.NoticeFrame(nil, normalize.RateLimited.F("too many frames")))
		return
	}
	switch word {
	case envelope.WordEvent:
		s.handleEvent(rest)
	case envelope.WordReq:
		s.handleReq(rest)
	case envelope.WordClose:
		s.handleClose(rest)
	case envelope.WordCount:
		s.handleCount(rest)
	case envelope.WordAuth:
		s.handleAuth(rest)
	default:
		s.Enqueue(envelope.NoticeFrame(nil, []byte(fmt.Sprintf("unsupported: %s", word))))
	}
}

func (s *S) handleEvent(rest [][]byte) {
	ev, err := envelope.ParseEvent(rest)
	if err != nil {
		s.Enqueue(envelope.OKFrame(nil, nil, false, normalize.Invalid.F("%v", err)))
		s.recordParseFailure()
		return
	}

	if s.deps.AuthRequired && !s.isAuthed() {
		s.authRequested.Store(true)
		s.Enqueue(envelope.OKFrame(nil, ev.Id, false, normalize.AuthRequired.F("authentication required to publish")))
		s.sendAuthChallenge()
		return
	}

	v := ingest.Process(s.deps.DB, ev, s.deps.IngestCfg)
	s.Enqueue(envelope.OKFrame(nil, ev.Id, v.Accepted, v.Reason))
	if v.Accepted && !bytes.HasPrefix(v.Reason, []byte(normalize.Duplicate)) {
		s.deps.Hub.Publish(ev)
	}
}

func (s *S) handleReq(rest [][]byte) {
	subID, filters, err := envelope.ParseReq(rest)
	if err != nil {
		s.Enqueue(envelope.NoticeFrame(nil, []byte(err.Error())))
		s.recordParseFailure()
		return
	}
	if s.deps.AuthRequired && !s.isAuthed() {
		s.authRequested.Store(true)
		s.Enqueue(envelope.NoticeFrame(nil, normalize.AuthRequired.F("authentication required to subscribe")))
		s.sendAuthChallenge()
		return
	}
	if len(subID) == 0 || len(subID) > maxSubIDLen {
		s.Enqueue(envelope.NoticeFrame(nil, []byte("invalid: subscription id must be 1-64 characters")))
		return
	}
	if len(filters) > maxFiltersPerReq {
		s.Enqueue(envelope.NoticeFrame(nil, []byte("invalid: too many filters")))
		return
	}
	for _, f := range filters {
		clampLimit(f)
	}

	s.subsMu.Lock()
	_, replacing := s.subs[subID]
	if !replacing && len(s.subs) >= maxSubsPerSess {
		s.subsMu.Unlock()
		s.Enqueue(envelope.NoticeFrame(nil, []byte("invalid: too many subscriptions")))
		return
	}
	s.subs[subID] = struct{}{}
	s.subsMu.Unlock()

	plan := matcher.Compile(filters)

	if !plan.BackfillVacuous() {
		events, err := s.deps.DB.QueryEvents(filters, maxFilterLimit)
		if err != nil {
			log.E.F("session %s: query error for %s: %v", s.ID, subID, err)
		}
		for _, ev := range events {
			s.Enqueue(envelope.EventFrame(nil, subID, ev))
		}
	}
	s.Enqueue(envelope.EOSEFrame(nil, subID))

	s.deps.Hub.Register(s.ID, s)
	s.deps.Hub.Subscribe(s.ID, subID, plan)
}

func (s *S) handleClose(rest [][]byte) {
	subID, err := envelope.ParseClose(rest)
	if err != nil {
		s.Enqueue(envelope.NoticeFrame(nil, []byte(err.Error())))
		s.recordParseFailure()
		return
	}
	s.subsMu.Lock()
	delete(s.subs, subID)
	s.subsMu.Unlock()
	s.deps.Hub.Unsubscribe(s.ID, subID)
}

func (s *S) handleCount(rest [][]byte) {
	subID, filters, err := envelope.ParseCount(rest)
	if err != nil {
		s.Enqueue(envelope.NoticeFrame(nil, []byte(err.Error())))
		s.recordParseFailure()
		return
	}
	n, err := s.deps.DB.Count(filters)
	if err != nil {
		log.E.F("session %s: count error for %s: %v", s.ID, subID, err)
		s.Enqueue(envelope.NoticeFrame(nil, []byte("error: count failed")))
		return
	}
	s.Enqueue(envelope.CountFrame(nil, subID, n))
}

func (s *S) handleAuth(rest [][]byte) {
	ev, err := envelope.ParseAuth(rest)
	if err != nil {
		s.Enqueue(envelope.OKFrame(nil, nil, false, normalize.Invalid.F("%v", err)))
		s.recordParseFailure()
		return
	}
	ok, err := nauth.Validate(ev, s.challenge.Load(), s.deps.RelayURL)
	if err != nil || !ok {
		reason := "authentication failed"
		if err != nil {
			reason = err.Error()
		}
		s.Enqueue(envelope.OKFrame(nil, ev.Id, false, normalize.Error.F("%s", reason)))
		return
	}
	s.authedPubkey.Store(ev.Pubkey)
	s.Enqueue(envelope.OKFrame(nil, ev.Id, true, nil))
}

func (s *S) isAuthed() bool { return len(s.authedPubkey.Load()) > 0 }

// AuthedPubkey returns the authenticated pubkey, or nil if this session
// has not completed NIP-42 auth.
func (s *S) AuthedPubkey() []byte { return s.authedPubkey.Load() }

func clampLimit(f *filter.F) {
	if f.HasLimit && f.Limit != nil && *f.Limit > maxFilterLimit {
		lim := maxFilterLimit
		f.Limit = &lim
	}
}
