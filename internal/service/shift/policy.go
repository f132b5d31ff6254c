package shift

import (
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
)

// Policy holds the business limits the state machine enforces.
type Policy struct {
	MaxGPSAccuracyMeters float64
	EarlyStartTolerance  time.Duration
	MinShiftDuration     time.Duration
	MaxBreakMinutes      map[shift.BreakType]int
	DailyBreakCapMinutes int

	// LockTimeout bounds the wait for the staff and shift locks
	LockTimeout time.Duration
	// OperationTimeout bounds the whole read-validate-write transaction
	OperationTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxGPSAccuracyMeters: 50,
		EarlyStartTolerance:  30 * time.Minute,
		MinShiftDuration:     30 * time.Minute,
		MaxBreakMinutes: map[shift.BreakType]int{
			shift.BreakLunch:        90,
			shift.BreakShort:        30,
			shift.BreakEmergency:    120,
			shift.BreakAuthorized:   120,
			shift.BreakUnauthorized: 30,
		},
		DailyBreakCapMinutes: 180,
		LockTimeout:          5 * time.Second,
		OperationTimeout:     10 * time.Second,
	}
}

// maxBreak returns the per-type limit; types without a limit fall back to the daily cap.
func (p Policy) maxBreak(t shift.BreakType) int {
	if m, ok := p.MaxBreakMinutes[t]; ok {
		return m
	}
	return p.DailyBreakCapMinutes
}
