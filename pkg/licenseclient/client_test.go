package licenseclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:    srv.URL,
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

func TestBorrow_Success(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/licenses/borrow" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Tool string `json:"tool"`
			User string `json:"user"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if req.Tool != "cad_tool" || req.User != "alice" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"L1","tool":"cad_tool","user":"alice","borrowed_at":"2025-01-01T00:00:00Z"}`))
	}))

	lic, err := c.Borrow(context.Background(), "cad_tool", "alice")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if lic.ID() != "L1" || lic.Tool() != "cad_tool" || lic.User() != "alice" {
		t.Fatalf("unexpected handle: id=%s tool=%s user=%s", lic.ID(), lic.Tool(), lic.User())
	}
	if lic.Returned() {
		t.Fatal("fresh handle reports returned")
	}
}

func TestBorrow_ConflictMapsToNoLicensesAvailable(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail":"No licenses available for cad_tool"}`))
	}))

	_, err := c.Borrow(context.Background(), "cad_tool", "alice")
	na, ok := err.(*NoLicensesAvailableError)
	if !ok {
		t.Fatalf("expected *NoLicensesAvailableError, got %T: %v", err, err)
	}
	if na.Tool != "cad_tool" {
		t.Fatalf("error carries wrong tool: %q", na.Tool)
	}
}

func TestBorrow_OtherStatusMapsToHTTPStatusError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))

	_, err := c.Borrow(context.Background(), "cad_tool", "alice")
	he, ok := err.(*HTTPStatusError)
	if !ok {
		t.Fatalf("expected *HTTPStatusError, got %T: %v", err, err)
	}
	if he.Code != http.StatusInternalServerError || he.Body != "boom" {
		t.Fatalf("unexpected error detail: %+v", he)
	}
}

func TestBorrow_BadBodyMapsToDecodeError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))

	_, err := c.Borrow(context.Background(), "cad_tool", "alice")
	if _, ok := err.(*DecodeError); !ok {
		t.Fatalf("expected *DecodeError, got %T: %v", err, err)
	}
}

func TestBorrow_SecurityHeaders(t *testing.T) {
	signer := NewSigner("techvendor", "fixture-secret-abc123")

	var sawHeaders bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig := r.Header.Get(HeaderSignature)
		ts := r.Header.Get(HeaderTimestamp)
		vendor := r.Header.Get(HeaderVendorID)
		if sig == "" || ts == "" || vendor != "techvendor" {
			t.Errorf("missing security headers: sig=%q ts=%q vendor=%q", sig, ts, vendor)
		}
		if err := signer.Verify("cad_tool", "alice", ts, sig, 5*time.Minute, time.Now()); err != nil {
			t.Errorf("server-side verification failed: %v", err)
		}
		sawHeaders = true
		w.Write([]byte(`{"id":"L1"}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		BaseURL:        srv.URL,
		EnableSecurity: true,
		VendorID:       "techvendor",
		VendorSecret:   "fixture-secret-abc123",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Borrow(context.Background(), "cad_tool", "alice"); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if !sawHeaders {
		t.Fatal("handler never ran")
	}
}

func TestBorrow_NoSecurityHeadersWhenDisabled(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderSignature) != "" || r.Header.Get(HeaderTimestamp) != "" {
			t.Error("security headers emitted with security disabled")
		}
		w.Write([]byte(`{"id":"L1"}`))
	}))

	if _, err := c.Borrow(context.Background(), "cad_tool", "alice"); err != nil {
		t.Fatalf("borrow: %v", err)
	}
}

func TestGetStatus_PercentEncodesTool(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.EscapedPath(); !strings.Contains(got, "CAN%20Bus%20Analyzer%20Pro") {
			t.Errorf("tool not percent-encoded in path: %s", got)
		}
		w.Write([]byte(`{"tool":"CAN Bus Analyzer Pro","total":10,"borrowed":3,"available":7}`))
	}))

	st, err := c.GetStatus(context.Background(), "CAN Bus Analyzer Pro")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.Borrowed != 3 || st.Available != 7 {
		t.Fatalf("unexpected status: %+v", st)
	}
	// Omitted optional fields take their documented defaults.
	if !st.InCommit {
		t.Fatal("in_commit must default to true when absent")
	}
	if st.Overage != 0 {
		t.Fatalf("overage must default to 0, got %d", st.Overage)
	}
}

func TestGetAllStatuses(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/licenses/status" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[
			{"tool":"a","total":5,"borrowed":1,"available":4},
			{"tool":"b","total":2,"borrowed":2,"available":0,"in_commit":false,"overage":1}
		]`))
	}))

	statuses, err := c.GetAllStatuses(context.Background())
	if err != nil {
		t.Fatalf("GetAllStatuses: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].InCommit || statuses[1].Overage != 1 {
		t.Fatalf("explicit fields not honored: %+v", statuses[1])
	}
}

func TestBorrowWithRetry_SucceedsAfterConflicts(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls <= 2 {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"detail":"No licenses available for cad_tool"}`))
			return
		}
		w.Write([]byte(`{"id":"L1","tool":"cad_tool","user":"me","borrowed_at":"2025-01-01T00:00:00Z"}`))
	}))

	lic, err := c.BorrowWithRetry(context.Background(), "cad_tool", "me", BorrowOptions{
		MaxRetries:   10,
		MaxTotalWait: 1 * time.Second,
		MinRetry:     5 * time.Millisecond,
		MaxRetry:     20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if lic.ID() != "L1" {
		t.Fatalf("unexpected lease id %q", lic.ID())
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestBorrowWithRetry_HardErrorAbortsImmediately(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.BorrowWithRetry(context.Background(), "cad_tool", "me", BorrowOptions{MaxRetries: 10})
	if _, ok := err.(*HTTPStatusError); !ok {
		t.Fatalf("expected *HTTPStatusError, got %T: %v", err, err)
	}
	if calls != 1 {
		t.Fatalf("hard errors must not retry; got %d calls", calls)
	}
}
