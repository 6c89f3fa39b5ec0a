// Package licenseclient is the client SDK for the permetix license server.
//
// A Client borrows and returns named licenses over HTTP. Successful borrows
// yield a *License handle that owns the obligation to return the lease.
// Requests are optionally authenticated with per-request HMAC signatures.
package licenseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	secure bool
	signer Signer

	rng *rand.Rand
}

// Config carries everything a Client needs. The vendor credentials are
// opaque configuration: callers (and tests) inject them, the library never
// hardcodes them.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client // nil => 10s timeout default

	EnableSecurity bool
	VendorID       string
	VendorSecret   string

	Logger *zerolog.Logger // nil => disabled
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("licenseclient: BaseURL required")
	}
	if cfg.EnableSecurity && (cfg.VendorID == "" || cfg.VendorSecret == "") {
		return nil, fmt.Errorf("licenseclient: security enabled but vendor credentials missing")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		log:     log,
		secure:  cfg.EnableSecurity,
		signer:  NewSigner(cfg.VendorID, cfg.VendorSecret),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// ---- Wire format ----

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

type returnReq struct {
	ID string `json:"id"`
}

// ---- Operations ----

// Borrow acquires one license for tool on behalf of user. A 409 reply maps
// to *NoLicensesAvailableError, the one recoverable outcome; any other
// non-2xx maps to *HTTPStatusError. When security is enabled the request
// carries a signature computed at send time, never cached, so the signed
// timestamp reflects the actual send.
func (c *Client) Borrow(ctx context.Context, tool, user string) (*License, error) {
	if tool == "" || user == "" {
		return nil, fmt.Errorf("licenseclient: tool and user required")
	}

	path := c.baseURL + "/licenses/borrow"
	var headers map[string]string
	if c.secure {
		headers = c.signer.Headers(tool, user, time.Now())
	}

	var out borrowResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, headers, borrowReq{Tool: tool, User: user}, &out)
	if err != nil {
		return nil, err
	}

	switch {
	case code == http.StatusConflict:
		return nil, &NoLicensesAvailableError{Tool: tool, Body: raw}
	case code < 200 || code >= 300:
		return nil, &HTTPStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	if out.ID == "" {
		return nil, &DecodeError{Path: path, Body: raw, Err: fmt.Errorf("missing lease id")}
	}

	c.log.Debug().Str("tool", tool).Str("user", user).Str("id", out.ID).Msg("license borrowed")
	return newLicense(c, out.ID, tool, user), nil
}

// BorrowWithRetry borrows with bounded retries while the pool is exhausted.
// Only *NoLicensesAvailableError is retried; transport and HTTP failures
// abort immediately. Backoff grows per attempt, clamped to
// [MinRetry, MaxRetry] with JitterFrac jitter.
func (c *Client) BorrowWithRetry(ctx context.Context, tool, user string, opt BorrowOptions) (*License, error) {
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 50
	}
	if opt.MinRetry <= 0 {
		opt.MinRetry = 25 * time.Millisecond
	}
	if opt.MaxRetry <= 0 {
		opt.MaxRetry = 1 * time.Second
	}
	if opt.JitterFrac <= 0 {
		opt.JitterFrac = 0.2
	}

	start := time.Now()
	var lastNA *NoLicensesAvailableError

	for attempt := 0; attempt <= opt.MaxRetries; attempt++ {
		if opt.MaxTotalWait > 0 && time.Since(start) > opt.MaxTotalWait {
			if lastNA != nil {
				return nil, lastNA
			}
			return nil, context.DeadlineExceeded
		}

		lic, err := c.Borrow(ctx, tool, user)
		if err == nil {
			return lic, nil
		}
		na, ok := err.(*NoLicensesAvailableError)
		if !ok {
			return nil, err
		}
		lastNA = na

		sleep := time.Duration(float64(opt.MinRetry) * math.Pow(1.5, float64(attempt)))
		if sleep < opt.MinRetry {
			sleep = opt.MinRetry
		}
		if sleep > opt.MaxRetry {
			sleep = opt.MaxRetry
		}
		sleep = addJitter(c.rng, sleep, opt.JitterFrac)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastNA
}

// Return gives back a borrowed license. Equivalent to handle.Return.
func (c *Client) Return(ctx context.Context, l *License) error {
	return l.Return(ctx)
}

func (c *Client) returnLease(ctx context.Context, id string) error {
	path := c.baseURL + "/licenses/return"
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, nil, returnReq{ID: id}, nil)
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		return &HTTPStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	c.log.Debug().Str("id", id).Msg("license returned")
	return nil
}

// GetStatus fetches the pool snapshot for one tool. Tool names may contain
// arbitrary text, so the path segment is percent-encoded.
func (c *Client) GetStatus(ctx context.Context, tool string) (LicenseStatus, error) {
	path := fmt.Sprintf("%s/licenses/%s/status", c.baseURL, url.PathEscape(tool))
	var out LicenseStatus
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out)
	if err != nil {
		return LicenseStatus{}, err
	}
	if code < 200 || code >= 300 {
		return LicenseStatus{}, &HTTPStatusError{Method: http.MethodGet, Path: path, Code: code, Body: raw}
	}
	return out, nil
}

// GetAllStatuses fetches pool snapshots for every tool the server knows.
func (c *Client) GetAllStatuses(ctx context.Context) ([]LicenseStatus, error) {
	path := c.baseURL + "/licenses/status"
	var out []LicenseStatus
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out)
	if err != nil {
		return nil, err
	}
	if code < 200 || code >= 300 {
		return nil, &HTTPStatusError{Method: http.MethodGet, Path: path, Code: code, Body: raw}
	}
	return out, nil
}

// doJSON sends an optional JSON body and decodes a JSON response on 2xx.
// Returns the status code and the raw body (trimmed) so callers can build
// error values; the raw body of non-2xx replies is never decoded.
func (c *Client) doJSON(ctx context.Context, method, url string, headers map[string]string, req, resp any) (int, string, error) {
	var body io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, "", err
	}
	if req != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, "", fmt.Errorf("licenseclient: %s %s: %w", method, url, err)
	}
	defer rsp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	raw := strings.TrimSpace(string(data))

	if resp != nil && rsp.StatusCode >= 200 && rsp.StatusCode < 300 {
		if err := json.Unmarshal(data, resp); err != nil {
			return rsp.StatusCode, raw, &DecodeError{Path: url, Body: raw, Err: err}
		}
	}
	return rsp.StatusCode, raw, nil
}

func addJitter(r *rand.Rand, d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	// jitter range: [d*(1-frac), d*(1+frac)]
	j := (r.Float64()*2 - 1) * frac
	out := time.Duration(float64(d) * (1 + j))
	if out < 0 {
		return 0
	}
	return out
}
