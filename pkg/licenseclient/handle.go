package licenseclient

import (
	"context"
	"fmt"
	"runtime"
)

// License is a handle to one borrowed license. It owns the obligation to
// return the lease: call Return exactly once when done. The handle must not
// be shared between goroutines; ownership of the return obligation is
// singular.
//
// Go has no synchronous teardown hook, so release-on-scope-exit is a
// diagnostic safety net only: a handle reclaimed by the garbage collector
// without an explicit Return logs a warning naming the leaked lease. The
// server is expected to reclaim abandoned leases on its own schedule.
type License struct {
	id   string
	tool string
	user string

	client   *Client
	returned bool
}

func newLicense(c *Client, id, tool, user string) *License {
	l := &License{id: id, tool: tool, user: user, client: c}
	runtime.SetFinalizer(l, func(leaked *License) {
		leaked.client.log.Warn().
			Str("id", leaked.id).
			Str("tool", leaked.tool).
			Str("user", leaked.user).
			Msg("license handle dropped without explicit return")
	})
	return l
}

// ID returns the server-assigned lease token. Panics if the license has
// already been returned; use-after-return is a caller bug and fails fast so
// it surfaces in tests.
func (l *License) ID() string {
	l.mustBeLive("ID")
	return l.id
}

// Tool returns the tool name the license was borrowed for.
func (l *License) Tool() string {
	l.mustBeLive("Tool")
	return l.tool
}

// User returns the user the license was borrowed as.
func (l *License) User() string {
	l.mustBeLive("User")
	return l.user
}

// Returned reports whether the license has been given back. Safe to call at
// any point in the handle's lifecycle.
func (l *License) Returned() bool { return l.returned }

// Return gives the license back to the server. The first call transitions
// the handle to returned; any further call fails with ErrAlreadyReturned.
func (l *License) Return(ctx context.Context) error {
	if l.returned {
		return ErrAlreadyReturned
	}
	if err := l.client.returnLease(ctx, l.id); err != nil {
		return err
	}
	l.returned = true
	runtime.SetFinalizer(l, nil)
	return nil
}

func (l *License) mustBeLive(op string) {
	if l.returned {
		panic(fmt.Sprintf("licenseclient: %s on returned license %s", op, l.id))
	}
}
