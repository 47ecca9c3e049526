// Package session is the per-connection state machine (C4): one goroutine
// reads frames off the WebSocket and dispatches them, one goroutine drains
// the outbound queue and writes frames back, and a shared bounded channel
// between them gives the relay its back-pressure and overflow policy.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"golang.org/x/time/rate"

	"nightjar.dev/auth"
	"nightjar.dev/encoders/envelope"
	atomic2 "nightjar.dev/utils/atomic"
	"nightjar.dev/utils/log"
)

const (
	writeWait    = 10 * time.Second
	pingPeriod   = 54 * time.Second
	pongWait     = 2 * pingPeriod
	sendQueue    = 256
	maxFrameSize = 65536

	parseFailWindow = 60 * time.Second
	parseFailLimit  = 10
)

// S is one client connection: its socket, its auth state, and its bounded
// outbound queue. The zero value is not usable; use New.
type S struct {
	ID   string
	Conn *websocket.Conn
	Req  *http.Request

	send    chan []byte
	closing atomic2.Bool

	remote        atomic2.String
	authedPubkey  atomic2.Bytes
	challenge     atomic2.Bytes
	authRequested atomic2.Bool

	limiter *rate.Limiter

	subsMu sync.Mutex
	subs   map[string]struct{}

	parseFailMu    sync.Mutex
	parseFailCount int
	parseFailSince time.Time

	// deps is the set of collaborators dispatch.go needs; kept as a
	// plain struct so S itself stays free of import-cycle-prone types.
	deps Deps
}

// New wires a freshly-upgraded connection into a session, ready for Serve.
func New(conn *websocket.Conn, req *http.Request, deps Deps) *S {
	rps, burst := deps.FrameRatePerSecond, deps.FrameBurst
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	s := &S{
		ID:      randomID(),
		Conn:    conn,
		Req:     req,
		send:    make(chan []byte, sendQueue),
		subs:    make(map[string]struct{}),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		deps:    deps,
	}
	s.remote.Store(remoteAddr(req, conn))
	if deps.AuthRequired {
		s.challenge.Store(auth.GenerateChallenge())
	}
	return s
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func remoteAddr(r *http.Request, conn *websocket.Conn) string {
	if r != nil {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
	}
	return conn.NetConn().RemoteAddr().String()
}

// RealRemote returns the client's best-known address, for logging.
func (s *S) RealRemote() string { return s.remote.Load() }

// Enqueue implements hub.Sink: appends frame to the outbound queue without
// blocking. It returns false if the queue is full or the session is
// already closing, in which case the caller must treat this session as
// gone.
func (s *S) Enqueue(frame []byte) bool {
	if s.closing.Load() {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close implements hub.Sink: marks the session CLOSING. The writer
// goroutine notices the closed channel and tears down the socket.
func (s *S) Close() {
	if s.closing.CAS(false, true) {
		close(s.send)
	}
}

// Serve runs the session to completion: it starts the writer goroutine,
// requests auth if required, and reads frames until the socket closes or
// the session is marked CLOSING. It blocks until the connection ends.
func (s *S) Serve() {
	defer s.teardown()

	go s.writePump()

	s.Conn.SetReadLimit(maxFrameSize + 1)
	_ = s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		_ = s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if s.deps.AuthRequired {
		s.authRequested.Store(true)
		s.sendAuthChallenge()
	}

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure,
			) && !strings.Contains(err.Error(), "use of closed network connection") {
				log.W.F("session %s unexpected close: %v", s.ID, err)
			}
			return
		}
		if len(message) > maxFrameSize {
			s.Enqueue(envelope.NoticeFrame(nil, []byte("invalid: message too large")))
			s.Close()
			return
		}
		s.dispatch(message)
		if s.closing.Load() {
			return
		}
	}
}

// writePump drains the outbound queue onto the socket and sends periodic
// pings on an idle timer. It exits (and closes the socket) once the queue
// is closed by Close, or a write fails.
func (s *S) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.Conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.send:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.Conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// recordParseFailure counts one malformed frame and closes the session if
// more than parseFailLimit have arrived within the trailing parseFailWindow.
// It reports whether the session was closed.
func (s *S) recordParseFailure() bool {
	now := time.Now()
	s.parseFailMu.Lock()
	if s.parseFailSince.IsZero() || now.Sub(s.parseFailSince) > parseFailWindow {
		s.parseFailSince = now
		s.parseFailCount = 0
	}
	s.parseFailCount++
	tripped := s.parseFailCount > parseFailLimit
	s.parseFailMu.Unlock()
	if tripped {
		s.Enqueue(envelope.NoticeFrame(nil, []byte("error: too many malformed messages")))
		s.Close()
	}
	return tripped
}

func (s *S) teardown() {
	s.Close()
	s.deps.Hub.Unregister(s.ID)
}

func (s *S) sendAuthChallenge() {
	s.Enqueue(envelope.AuthFrame(nil, string(s.challenge.Load())))
}
