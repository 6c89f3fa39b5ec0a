package licenseclient

import (
	"encoding/json"
	"time"
)

// LicenseStatus is a point-in-time snapshot of one tool's pool as reported
// by the server. available = total - borrowed is a server-side invariant;
// the client takes it as-is. The pricing fields are zero unless the server
// has commit/overage billing configured for the tool.
type LicenseStatus struct {
	Tool      string `json:"tool"`
	Total     int    `json:"total"`
	Borrowed  int    `json:"borrowed"`
	Available int    `json:"available"`

	Commit     int  `json:"commit,omitempty"`
	MaxOverage int  `json:"max_overage,omitempty"`
	Overage    int  `json:"overage,omitempty"`
	InCommit   bool `json:"in_commit"`

	CommitPrice            float64 `json:"commit_price,omitempty"`
	OveragePricePerLicense float64 `json:"overage_price_per_license,omitempty"`
	CurrentOverageCost     float64 `json:"current_overage_cost,omitempty"`
	TotalCost              float64 `json:"total_cost,omitempty"`
}

// in_commit defaults to true when the server omits it.
func (s *LicenseStatus) UnmarshalJSON(b []byte) error {
	type plain LicenseStatus
	p := plain{InCommit: true}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = LicenseStatus(p)
	return nil
}

// BorrowOptions controls BorrowWithRetry. Zero values pick defaults.
type BorrowOptions struct {
	MaxRetries   int           // default 50
	MaxTotalWait time.Duration // optional global cap; 0 => no cap
	MinRetry     time.Duration // default 25ms
	MaxRetry     time.Duration // default 1s
	JitterFrac   float64       // default 0.2 (20%)
}
