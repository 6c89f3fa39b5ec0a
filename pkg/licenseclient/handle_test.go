package licenseclient

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

// borrowAndReturnServer hands out lease "L1" and records returns.
func borrowAndReturnServer(t *testing.T, returns *[]string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/licenses/borrow":
			w.Write([]byte(`{"id":"L1","tool":"cad_tool","user":"alice","borrowed_at":"2025-01-01T00:00:00Z"}`))
		case "/licenses/return":
			var req struct {
				ID string `json:"id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad return body: %v", err)
			}
			*returns = append(*returns, req.ID)
			w.Write([]byte(`{"status":"ok","tool":"cad_tool"}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func TestReturn_TransitionsExactlyOnce(t *testing.T) {
	var returns []string
	c, _ := newTestClient(t, borrowAndReturnServer(t, &returns))

	lic, err := c.Borrow(context.Background(), "cad_tool", "alice")
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := lic.Return(context.Background()); err != nil {
		t.Fatalf("first return: %v", err)
	}
	if !lic.Returned() {
		t.Fatal("returned flag not set after Return")
	}
	if len(returns) != 1 || returns[0] != "L1" {
		t.Fatalf("server saw returns %v", returns)
	}

	// Second return is a caller bug and must fail fast, not no-op.
	if err := lic.Return(context.Background()); err != ErrAlreadyReturned {
		t.Fatalf("second return: got %v, want ErrAlreadyReturned", err)
	}
	if len(returns) != 1 {
		t.Fatalf("second return hit the network: %v", returns)
	}
}

func TestReturn_FailureKeepsHandleLive(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/licenses/borrow":
			w.Write([]byte(`{"id":"L1","tool":"cad_tool","user":"alice","borrowed_at":"x"}`))
		case "/licenses/return":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"Borrow record not found"}`))
		}
	}))

	lic, err := c.Borrow(context.Background(), "cad_tool", "alice")
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := lic.Return(context.Background()); err == nil {
		t.Fatal("expected return failure")
	}
	// A failed return leaves the obligation with the caller.
	if lic.Returned() {
		t.Fatal("failed return must not mark the handle returned")
	}
}

func TestAccessorsPanicAfterReturn(t *testing.T) {
	var returns []string
	c, _ := newTestClient(t, borrowAndReturnServer(t, &returns))

	lic, err := c.Borrow(context.Background(), "cad_tool", "alice")
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := lic.Return(context.Background()); err != nil {
		t.Fatalf("return: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("ID on returned license must panic")
		}
	}()
	_ = lic.ID()
}
