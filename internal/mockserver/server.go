// Package mockserver is an in-memory rendition of the license server wire
// contract, used by the test suites and as a local development target for
// the load harness. Pool admission mirrors the real server: a tool has a
// total cap, a commit quantity, and a bounded overage range; borrows past
// the commit accrue per-borrow overage charges that persist across returns.
package mockserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mholetzko/permetix/pkg/licenseclient"
)

// Pool configures one tool's license pool.
type Pool struct {
	Total        int
	Commit       int
	MaxOverage   int
	CommitPrice  float64
	OveragePrice float64
}

type poolState struct {
	Pool
	borrowed       int
	overageCharges int
}

type borrowRec struct {
	tool       string
	user       string
	borrowedAt time.Time
	overage    bool
}

// Server implements the four license endpoints against in-memory state.
// Safe for concurrent use.
type Server struct {
	mu      sync.Mutex
	pools   map[string]*poolState
	borrows map[string]borrowRec

	unlimited  bool
	alwaysBusy bool

	// request signing enforcement, off unless set
	requireSig bool
	signer     licenseclient.Signer
	sigWindow  time.Duration

	// instrumentation for concurrency assertions
	outstanding     int
	peakOutstanding int
	borrowCalls     int
	returnCalls     int

	mux *http.ServeMux
}

// New builds a server with fixed pools. Borrowing an unknown tool conflicts,
// matching the real server.
func New(pools map[string]Pool) *Server {
	s := &Server{
		pools:   make(map[string]*poolState, len(pools)),
		borrows: make(map[string]borrowRec),
	}
	for tool, p := range pools {
		if p.Commit == 0 && p.MaxOverage == 0 {
			p.Commit = p.Total // no overage range configured: all commit
		}
		s.pools[tool] = &poolState{Pool: p}
	}
	s.routes()
	return s
}

// NewUnlimited accepts every borrow and return; pools are created on first
// sight with an effectively infinite total.
func NewUnlimited() *Server {
	s := New(nil)
	s.unlimited = true
	return s
}

// NewAlwaysBusy answers 409 to every borrow.
func NewAlwaysBusy() *Server {
	s := New(nil)
	s.alwaysBusy = true
	return s
}

// RequireSignatures makes borrow reject requests whose HMAC headers fail
// verification against the given credentials.
func (s *Server) RequireSignatures(vendorID, secret string, window time.Duration) {
	s.requireSig = true
	s.signer = licenseclient.NewSigner(vendorID, secret)
	s.sigWindow = window
}

func (s *Server) Handler() http.Handler { return s.mux }

// PeakOutstanding reports the maximum number of simultaneously unreturned
// leases observed since startup.
func (s *Server) PeakOutstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakOutstanding
}

// Calls reports how many borrow and return requests have been handled.
func (s *Server) Calls() (borrows, returns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.borrowCalls, s.returnCalls
}

func (s *Server) routes() {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/licenses/", s.handleLicenses)
}

func (s *Server) handleLicenses(w http.ResponseWriter, r *http.Request) {
	// Expected:
	//   POST /licenses/borrow
	//   POST /licenses/return
	//   GET  /licenses/status
	//   GET  /licenses/{tool}/status   (tool percent-encoded)
	rest := strings.TrimPrefix(r.URL.EscapedPath(), "/licenses/")
	rest = strings.Trim(rest, "/")

	switch {
	case rest == "borrow" && r.Method == http.MethodPost:
		s.handleBorrow(w, r)
	case rest == "return" && r.Method == http.MethodPost:
		s.handleReturn(w, r)
	case rest == "status" && r.Method == http.MethodGet:
		s.handleStatusAll(w, r)
	case strings.HasSuffix(rest, "/status") && r.Method == http.MethodGet:
		enc := strings.TrimSuffix(rest, "/status")
		tool, err := url.PathUnescape(enc)
		if err != nil || tool == "" || strings.Contains(enc, "/") {
			writeErr(w, http.StatusNotFound, "invalid path")
			return
		}
		s.handleStatus(w, r, tool)
	default:
		writeErr(w, http.StatusNotFound, "invalid path")
	}
}

type borrowReq struct {
	Tool string `json:"tool"`
	User string `json:"user"`
}

type borrowResp struct {
	ID         string `json:"id"`
	Tool       string `json:"tool"`
	User       string `json:"user"`
	BorrowedAt string `json:"borrowed_at"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Tool == "" || req.User == "" {
		writeErr(w, http.StatusBadRequest, "tool and user required")
		return
	}

	if s.requireSig {
		sig := r.Header.Get(licenseclient.HeaderSignature)
		ts := r.Header.Get(licenseclient.HeaderTimestamp)
		if sig == "" || ts == "" {
			writeErr(w, http.StatusUnauthorized, "missing signature headers")
			return
		}
		if err := s.signer.Verify(req.Tool, req.User, ts, sig, s.sigWindow, time.Now()); err != nil {
			writeErr(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.borrowCalls++

	if s.alwaysBusy {
		writeErr(w, http.StatusConflict, "No licenses available for "+req.Tool)
		return
	}

	ps, ok := s.pools[req.Tool]
	if !ok {
		if !s.unlimited {
			writeErr(w, http.StatusConflict, "No licenses available for "+req.Tool)
			return
		}
		ps = &poolState{Pool: Pool{Total: 1 << 30, Commit: 1 << 30}}
		s.pools[req.Tool] = ps
	}

	if ps.borrowed >= ps.Total {
		writeErr(w, http.StatusConflict, "No licenses available for "+req.Tool)
		return
	}
	isOverage := ps.borrowed >= ps.Commit
	if isOverage && ps.borrowed-ps.Commit >= ps.MaxOverage {
		writeErr(w, http.StatusConflict, "No licenses available for "+req.Tool)
		return
	}

	now := time.Now()
	id := uuid.NewString()
	ps.borrowed++
	if isOverage {
		ps.overageCharges++
	}
	s.borrows[id] = borrowRec{tool: req.Tool, user: req.User, borrowedAt: now, overage: isOverage}

	s.outstanding++
	if s.outstanding > s.peakOutstanding {
		s.peakOutstanding = s.outstanding
	}

	writeJSON(w, http.StatusOK, borrowResp{
		ID:         id,
		Tool:       req.Tool,
		User:       req.User,
		BorrowedAt: now.UTC().Format(time.RFC3339Nano),
	})
}

type returnReq struct {
	ID string `json:"id"`
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req returnReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.returnCalls++

	rec, ok := s.borrows[req.ID]
	if !ok {
		writeErr(w, http.StatusNotFound, "Borrow record not found")
		return
	}
	delete(s.borrows, req.ID)
	if ps, ok := s.pools[rec.tool]; ok && ps.borrowed > 0 {
		ps.borrowed--
	}
	s.outstanding--

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "tool": rec.tool})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.pools[tool]
	if !ok {
		writeErr(w, http.StatusNotFound, "Tool not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot(tool, ps))
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]licenseclient.LicenseStatus, 0, len(s.pools))
	for tool, ps := range s.pools {
		out = append(out, snapshot(tool, ps))
	}
	writeJSON(w, http.StatusOK, out)
}

func snapshot(tool string, ps *poolState) licenseclient.LicenseStatus {
	available := ps.Total - ps.borrowed
	if available < 0 {
		available = 0
	}
	overage := ps.borrowed - ps.Commit
	if overage < 0 {
		overage = 0
	}
	overageCost := float64(ps.overageCharges) * ps.OveragePrice
	return licenseclient.LicenseStatus{
		Tool:      tool,
		Total:     ps.Total,
		Borrowed:  ps.borrowed,
		Available: available,

		Commit:     ps.Commit,
		MaxOverage: ps.MaxOverage,
		Overage:    overage,
		InCommit:   ps.borrowed <= ps.Commit,

		CommitPrice:            ps.CommitPrice,
		OveragePricePerLicense: ps.OveragePrice,
		CurrentOverageCost:     overageCost,
		TotalCost:              ps.CommitPrice + overageCost,
	}
}

// --- helpers ---

func readJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
