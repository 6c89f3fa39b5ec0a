package licenseclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Security header names, part of the wire contract with the server.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderVendorID  = "X-Vendor-ID"
)

// Signer produces per-request HMAC signatures. The vendor id and secret are
// injected at construction; there are deliberately no package-level secret
// constants so tests can supply fixtures.
type Signer struct {
	vendorID string
	secret   []byte
}

func NewSigner(vendorID, secret string) Signer {
	return Signer{vendorID: vendorID, secret: []byte(secret)}
}

func (s Signer) VendorID() string { return s.vendorID }

// Sign computes the hex HMAC-SHA256 over "tool|user|timestamp". Field order
// and the pipe separator must match the server's verifier exactly.
func (s Signer) Sign(tool, user, timestamp string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%s|%s", tool, user, timestamp)
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers returns the three auth headers for a request sent at now. The
// timestamp is generated here so that it and the signature always travel
// together, letting the server enforce a freshness window.
func (s Signer) Headers(tool, user string, now time.Time) map[string]string {
	ts := strconv.FormatInt(now.Unix(), 10)
	return map[string]string{
		HeaderSignature: s.Sign(tool, user, ts),
		HeaderTimestamp: ts,
		HeaderVendorID:  s.vendorID,
	}
}

// Verify checks a presented signature and its timestamp freshness. Used by
// server-side verifiers (the in-repo mock server); the comparison is
// constant time.
func (s Signer) Verify(tool, user, timestamp, signature string, window time.Duration, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", timestamp)
	}
	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	if window > 0 && diff > int64(window/time.Second) {
		return fmt.Errorf("request expired: timestamp off by %ds", diff)
	}
	want := s.Sign(tool, user, timestamp)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}
