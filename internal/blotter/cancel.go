package blotter

import (
	"time"

	"github.com/alejandrodnm/backalpha/internal/domain"
)

// CancelPolicy decides whether an open order should be auto-cancelled
// before it is matched against the next bar.
type CancelPolicy interface {
	ShouldCancel(order domain.Order, ts time.Time) bool
}

// NeverCancel leaves every order open until filled or explicitly
// cancelled.
type NeverCancel struct{}

func (NeverCancel) ShouldCancel(_ domain.Order, _ time.Time) bool { return false }

// EndOfDaySweep cancels any order still open once ts has moved past the
// order's trading day (Open Question 1, resolved in SPEC_FULL.md in
// favor of a per-bar end-of-day sweep, configurable per blotter).
type EndOfDaySweep struct{}

func (EndOfDaySweep) ShouldCancel(order domain.Order, ts time.Time) bool {
	oy, om, od := order.CreatedTS.Date()
	ty, tm, td := ts.Date()
	return oy != ty || om != tm || od != td
}
