package shift

import (
	"math"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/pkg/geo"
)

type State string

const (
	StateIdle      State = "idle"
	StateInShift   State = "in-shift"
	StateOnBreak   State = "on-break"
	StatePostShift State = "post-shift"
	StateCompleted State = "completed"
)

var StateValues = []string{
	string(StateIdle),
	string(StateInShift),
	string(StateOnBreak),
	string(StatePostShift),
	string(StateCompleted),
}

// transitions is the complete set of legal edges.
var transitions = map[State][]State{
	StateIdle:      {StateInShift},
	StateInShift:   {StateOnBreak, StatePostShift},
	StateOnBreak:   {StateInShift},
	StatePostShift: {StateCompleted},
	StateCompleted: {},
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Active reports whether the state holds the staff member's single active slot.
func (s State) Active() bool {
	return s == StateInShift || s == StateOnBreak || s == StatePostShift
}

func (s State) Terminal() bool {
	return s == StateCompleted
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAutomatic Trigger = "automatic"
)

// ReasonRecovered marks a corrective transition appended by state recovery.
const ReasonRecovered = "recovered"

type BreakType string

const (
	BreakLunch        BreakType = "lunch"
	BreakShort        BreakType = "short"
	BreakEmergency    BreakType = "emergency"
	BreakAuthorized   BreakType = "authorized"
	BreakUnauthorized BreakType = "unauthorized"
)

var BreakTypeValues = []string{
	string(BreakLunch),
	string(BreakShort),
	string(BreakEmergency),
	string(BreakAuthorized),
	string(BreakUnauthorized),
}

type Break struct {
	Type                   BreakType  `json:"type"`
	PlannedDurationMinutes int        `json:"planned_duration_minutes"`
	Reason                 string     `json:"reason,omitempty"`
	StartTime              time.Time  `json:"start_time"`
	EndTime                *time.Time `json:"end_time,omitempty"`
	ActualDurationMinutes  int        `json:"actual_duration_minutes"`
	ExtendedBreak          bool       `json:"extended_break"`
	OverageMinutes         int        `json:"overage_minutes"`
}

// Close ends the break at end and derives its duration and overage flags.
func (b *Break) Close(end time.Time) {
	b.EndTime = &end
	b.ActualDurationMinutes = int(math.Round(end.Sub(b.StartTime).Minutes()))
	if b.ActualDurationMinutes > b.PlannedDurationMinutes {
		b.ExtendedBreak = true
		b.OverageMinutes = b.ActualDurationMinutes - b.PlannedDurationMinutes
	}
}

type TransitionMetadata struct {
	GPSAccuracy *float64 `json:"gps_accuracy,omitempty"`
	DeviceID    string   `json:"device_id,omitempty"`
	GeofenceID  string   `json:"geofence_id,omitempty"`
	NeedsReview bool     `json:"needs_review,omitempty"`
}

// StateTransition is one append-only history entry.
type StateTransition struct {
	FromState State              `json:"from_state"`
	ToState   State              `json:"to_state"`
	Timestamp time.Time          `json:"timestamp"`
	Trigger   Trigger            `json:"trigger"`
	Reason    string             `json:"reason,omitempty"`
	Location  *geo.Coordinate    `json:"location,omitempty"`
	Metadata  TransitionMetadata `json:"metadata"`
}

type Shift struct {
	ID               string
	StaffID          string
	SiteID           string
	ScheduledStart   time.Time
	ScheduledEnd     time.Time
	ActualStart      *time.Time
	ActualEnd        *time.Time
	CurrentState     State
	GeofenceRequired bool
	GeofenceID       *string

	CurrentBreak *Break
	BreakHistory []Break
	StateHistory []StateTransition

	TotalHours       *float64
	OvertimeHours    *float64
	RequiresApproval bool
	EarlyEnd         bool
	ScheduledHours   *float64
	ActualHours      *float64

	Summary        *string
	Issues         []string
	NextShiftNotes *string

	RequiresReview bool
	ReviewNotes    []string

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so an operation can mutate freely and discard on failure.
func (s Shift) Clone() Shift {
	out := s
	if s.ActualStart != nil {
		v := *s.ActualStart
		out.ActualStart = &v
	}
	if s.ActualEnd != nil {
		v := *s.ActualEnd
		out.ActualEnd = &v
	}
	if s.GeofenceID != nil {
		v := *s.GeofenceID
		out.GeofenceID = &v
	}
	if s.CurrentBreak != nil {
		v := *s.CurrentBreak
		out.CurrentBreak = &v
	}
	out.BreakHistory = append([]Break(nil), s.BreakHistory...)
	out.StateHistory = append([]StateTransition(nil), s.StateHistory...)
	out.Issues = append([]string(nil), s.Issues...)
	out.ReviewNotes = append([]string(nil), s.ReviewNotes...)
	out.TotalHours = cloneFloat(s.TotalHours)
	out.OvertimeHours = cloneFloat(s.OvertimeHours)
	out.ScheduledHours = cloneFloat(s.ScheduledHours)
	out.ActualHours = cloneFloat(s.ActualHours)
	if s.Summary != nil {
		v := *s.Summary
		out.Summary = &v
	}
	if s.NextShiftNotes != nil {
		v := *s.NextShiftNotes
		out.NextShiftNotes = &v
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Transition moves the shift to `to` and appends the history entry. The
// caller has already checked CanTransition.
func (s *Shift) Transition(t StateTransition) {
	t.FromState = s.CurrentState
	s.CurrentState = t.ToState
	s.StateHistory = append(s.StateHistory, t)
	s.UpdatedAt = t.Timestamp
}

// ScheduledDuration is the planned length of the shift.
func (s Shift) ScheduledDuration() time.Duration {
	return s.ScheduledEnd.Sub(s.ScheduledStart)
}

// BreakMinutesOn sums the closed break minutes that started on the same UTC day as day.
func (s Shift) BreakMinutesOn(day time.Time) int {
	y, m, d := day.UTC().Date()
	total := 0
	for _, b := range s.BreakHistory {
		by, bm, bd := b.StartTime.UTC().Date()
		if by == y && bm == m && bd == d {
			total += b.ActualDurationMinutes
		}
	}
	return total
}

// RoundHours converts a duration to hours rounded to two decimals.
func RoundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}

// Replay walks history from idle and returns the state it implies. A
// recovery entry resets the walk to its target; any other illegal edge stops
// the walk and is reported with its index.
func Replay(history []StateTransition) (State, int) {
	state := StateIdle
	for i, t := range history {
		if t.Reason == ReasonRecovered && t.ToState.Valid() {
			state = t.ToState
			continue
		}
		if t.FromState != state || !CanTransition(t.FromState, t.ToState) {
			return state, i
		}
		state = t.ToState
	}
	return state, -1
}

// LastValidState returns the target of the most recent history entry whose
// target is a known state.
func LastValidState(history []StateTransition) (State, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ToState.Valid() {
			return history[i].ToState, true
		}
	}
	return "", false
}
