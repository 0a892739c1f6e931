package coupon

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the applier state.
type Status int

const (
	StatusIdle Status = iota
	StatusChecking
	StatusApplied
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusChecking:
		return "checking"
	case StatusApplied:
		return "applied"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Session is the shopper's coupon state.
//
// Input is the code shown in the coupon field (the pending code). Code is the
// last code that validated successfully (the confirmed code); Discount always
// belongs to Code.
type Session struct {
	Input        string
	Code         string
	CampaignID   string
	Discount     decimal.Decimal
	Attempts     int
	BlockedUntil time.Time
	Status       Status
	Message      string
	Warning      string
}

// Applied reports whether a confirmed code is active.
func (s Session) Applied() bool {
	return s.Code != ""
}

// Blocked reports whether submissions are blocked at now.
func (s Session) Blocked(now time.Time) bool {
	return !s.BlockedUntil.IsZero() && now.Before(s.BlockedUntil)
}
