// Package relayserver is the HTTP/WebSocket front door (C7 plus upgrade
// wiring): it routes the NIP-11 document, the operator stats and health
// endpoints, and the WebSocket upgrade onto one net/http handler, and owns
// the process-level listener lifecycle.
package relayserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/vmihailenco/msgpack/v5"

	"nightjar.dev/config"
	"nightjar.dev/database"
	"nightjar.dev/hub"
	"nightjar.dev/ingest"
	"nightjar.dev/relayinfo"
	"nightjar.dev/session"
	"nightjar.dev/utils/chk"
	"nightjar.dev/utils/context"
	"nightjar.dev/utils/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the hub and store to an HTTP handler and owns the listener.
type Server struct {
	Ctx    context.T
	Cancel context.F

	Cfg *config.C
	Hub *hub.H
	DB  *database.D

	RelayURL string

	mux        chi.Router
	httpServer *http.Server
}

// New builds a Server over an already-open hub and database.
func New(ctx context.T, cancel context.F, cfg *config.C, h *hub.H, db *database.D, relayURL string) *Server {
	s := &Server{Ctx: ctx, Cancel: cancel, Cfg: cfg, Hub: h, DB: db, RelayURL: relayURL}
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/ws", s.handleRoot)
	r.Get("/relay/info", s.handleRelayInfo)
	r.Get("/relay/stats", s.handleStats)
	r.Get("/relay/stats.msgpack", s.handleStatsMsgpack)
	r.Get("/health", s.handleHealth)
	s.mux = r
	return s
}

// ServeHTTP delegates the relay's small HTTP surface to the chi router
// built in New.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleRoot is the standard nostr protocol entry point: a WebSocket
// upgrade request becomes a session, an "application/nostr+json" Accept
// header gets the NIP-11 document, anything else is a 404.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") == "websocket" {
		s.handleWebsocket(w, r)
		return
	}
	if r.Header.Get("Accept") == "application/nostr+json" {
		s.handleRelayInfo(w, r)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if chk.E(err) {
		return
	}
	deps := session.Deps{
		Hub:          s.Hub,
		DB:           s.DB,
		IngestCfg:    s.ingestConfig(),
		AuthRequired: s.Cfg.AuthRequired,
		RelayURL:     s.RelayURL,
	}
	sess := session.New(conn, r, deps)
	log.T.F("session %s connected from %s", sess.ID, sess.RealRemote())
	sess.Serve()
}

func (s *Server) ingestConfig() ingest.Config {
	cfg := ingest.DefaultConfig()
	cfg.OwnerOnly = s.Cfg.OwnerOnly
	if pk, err := s.Cfg.OwnerPubkeyBytes(); err == nil {
		cfg.OwnerPubkey = pk
	}
	cfg.MinPow = s.Cfg.MinPow
	cfg.PastLimitSeconds = s.Cfg.PastLimitSeconds
	cfg.FutureLimitSeconds = s.Cfg.FutureLimitSeconds
	return cfg
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); chk.E(err) {
	}
}

func (s *Server) handleRelayInfo(w http.ResponseWriter, r *http.Request) {
	log.T.Ln("handling relay information document")
	supported := relayinfo.GetList(
		relayinfo.BasicProtocol,
		relayinfo.GenericTagQueries,
		relayinfo.EventTreatment,
		relayinfo.EventDeletion,
		relayinfo.ExpirationTimestamp,
		relayinfo.ParameterizedReplaceableEvents,
		relayinfo.RelayInformationDocument,
		relayinfo.CountingResults,
		relayinfo.DelegatedEventSigning,
	)
	if s.Cfg.AuthRequired {
		supported = append(supported, relayinfo.Authentication)
	}
	info := (&relayinfo.T{
		Name:        s.Cfg.Name,
		Description: s.Cfg.Description,
		Contact:     s.Cfg.Contact,
		Nips:        supported,
		Software:    "nightjar",
		Version:     "0.1.0",
		Limitation: relayinfo.Limits{
			MaxMessageLength: 65536,
			MaxSubscriptions: 20,
			MaxFilters:       10,
			MaxLimit:         500,
			MaxSubIDLength:   64,
			MaxEventTags:     2000,
			MaxContentLength: 65536,
			MinPowDifficulty: s.Cfg.MinPow,
			AuthRequired:     s.Cfg.AuthRequired,
			PaymentRequired:  false,
			RestrictedWrites: s.Cfg.OwnerOnly || s.Cfg.AuthRequired,
			CreatedAtLower:   -s.Cfg.PastLimitSeconds,
			CreatedAtUpper:   s.Cfg.FutureLimitSeconds,
		},
	}).Sorted()
	writeJSON(w, info)
}

type statsDoc struct {
	ConnectedClients int    `json:"connected_clients" msgpack:"connected_clients"`
	TotalEvents      int64  `json:"total_events" msgpack:"total_events"`
	SupportedNips    []int  `json:"supported_nips" msgpack:"supported_nips"`
	OwnerOnly        bool   `json:"owner_only" msgpack:"owner_only"`
	RelayName        string `json:"relay_name" msgpack:"relay_name"`
}

func (s *Server) buildStatsDoc() statsDoc {
	total, err := s.DB.TotalEvents()
	if chk.E(err) {
		total = -1
	}
	nips := relayinfo.GetList(
		relayinfo.BasicProtocol, relayinfo.GenericTagQueries, relayinfo.EventTreatment,
		relayinfo.EventDeletion, relayinfo.ExpirationTimestamp,
		relayinfo.ParameterizedReplaceableEvents, relayinfo.RelayInformationDocument,
		relayinfo.CountingResults, relayinfo.DelegatedEventSigning,
	)
	out := make([]int, len(nips))
	for i, n := range nips {
		out[i] = int(n)
	}
	return statsDoc{
		ConnectedClients: s.Hub.SessionCount(),
		TotalEvents:      total,
		SupportedNips:    out,
		OwnerOnly:        s.Cfg.OwnerOnly,
		RelayName:        s.Cfg.Name,
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.buildStatsDoc())
}

// handleStatsMsgpack serves the same stats document in msgpack, for
// operator tooling that scrapes a compact binary form instead of JSON.
func (s *Server) handleStatsMsgpack(w http.ResponseWriter, r *http.Request) {
	body, err := msgpack.Marshal(s.buildStatsDoc())
	if chk.E(err) {
		http.Error(w, "error: storage", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	_, _ = w.Write(body)
}

type healthDoc struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthDoc{Status: "ok", Clients: s.Hub.SessionCount()})
}

// Start binds the listener and serves until Shutdown is called or the
// listener fails. started, if given, is closed once the bind succeeds.
func (s *Server) Start(host string, port int, started ...chan bool) (err error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log.I.F("starting relay listener at %s", addr)
	var ln net.Listener
	if ln, err = net.Listen("tcp", addr); err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           cors.Default().Handler(s),
		Addr:              addr,
		ReadHeaderTimeout: 7 * time.Second,
		IdleTimeout:       28 * time.Second,
	}
	for _, c := range started {
		close(c)
	}
	if err = s.httpServer.Serve(ln); errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and closes the event store.
func (s *Server) Shutdown() {
	log.I.Ln("shutting down relay")
	s.Cancel()
	if s.httpServer != nil {
		chk.E(s.httpServer.Shutdown(s.Ctx))
	}
	chk.E(s.DB.Close())
}
