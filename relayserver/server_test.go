package relayserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"nightjar.dev/config"
	"nightjar.dev/database"
	"nightjar.dev/hub"
	"nightjar.dev/utils/context"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "nightjar-relayserver-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	ctx, cancel := context.Cancellable(context.Bg())
	db, err := database.Open(ctx, cancel, dir)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.C{Name: "test relay", Description: "a test relay", MinPow: 0}
	h := hub.New()
	return New(ctx, cancel, cfg, h, db, "ws://127.0.0.1:8080")
}

func TestHandleRelayInfoReturnsNip11Document(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/relay/info", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var doc struct {
		Name       string `json:"name"`
		Software   string `json:"software"`
		SupportedN []int  `json:"supported_nips"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Name != "test relay" {
		t.Fatalf("name = %q, want %q", doc.Name, "test relay")
	}
	if len(doc.SupportedN) == 0 {
		t.Fatalf("expected a non-empty supported_nips list")
	}
	for i := 1; i < len(doc.SupportedN); i++ {
		if doc.SupportedN[i] < doc.SupportedN[i-1] {
			t.Fatalf("supported_nips not sorted ascending: %v", doc.SupportedN)
		}
	}
}

func TestHandleRootWithNostrAcceptHeaderServesRelayInfo(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "application/nostr+json")
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
}

func TestHandleRootWithoutSpecialHeadersIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleStatsReturnsCounts(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/relay/stats", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc statsDoc
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.TotalEvents != 0 {
		t.Fatalf("TotalEvents = %d, want 0 for a fresh store", doc.TotalEvents)
	}
	if doc.RelayName != "test relay" {
		t.Fatalf("RelayName = %q, want %q", doc.RelayName, "test relay")
	}
}

func TestHandleStatsMsgpackMatchesJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/relay/stats.msgpack", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/msgpack" {
		t.Fatalf("Content-Type = %q, want application/msgpack", ct)
	}
	var doc statsDoc
	if err := msgpack.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("msgpack.Unmarshal: %v", err)
	}
	if doc.RelayName != "test relay" {
		t.Fatalf("RelayName = %q, want %q", doc.RelayName, "test relay")
	}
}

func TestHandleHealthReportsOk(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc healthDoc
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Status != "ok" {
		t.Fatalf("Status = %q, want ok", doc.Status)
	}
}
