package geofence

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/pkg/geo"
)

type ShapeKind string

const (
	ShapeCircle  ShapeKind = "circle"
	ShapePolygon ShapeKind = "polygon"
)

type Role string

const (
	RoleFieldWorker Role = "field-worker"
	RoleSupervisor  Role = "supervisor"
	RoleManager     Role = "manager"
	RoleContractor  Role = "contractor"
	RoleVisitor     Role = "visitor"
)

var RoleValues = []string{
	string(RoleFieldWorker),
	string(RoleSupervisor),
	string(RoleManager),
	string(RoleContractor),
	string(RoleVisitor),
}

type EventType string

const (
	EventEnter  EventType = "enter"
	EventExit   EventType = "exit"
	EventDwell  EventType = "dwell"
	EventBreach EventType = "breach"
)

var EventTypeValues = []string{
	string(EventEnter),
	string(EventExit),
	string(EventDwell),
	string(EventBreach),
}

type Action string

const (
	ActionAutoClockIn         Action = "auto-clock-in"
	ActionAutoClockOut        Action = "auto-clock-out"
	ActionSiteVisitStart      Action = "site-visit-start"
	ActionSiteVisitEnd        Action = "site-visit-end"
	ActionRestrictedAreaAlert Action = "restricted-area-alert"
	ActionEmergencyAlert      Action = "emergency-alert"
	ActionNotifyOnly          Action = "notify-only"
)

var ActionValues = []string{
	string(ActionAutoClockIn),
	string(ActionAutoClockOut),
	string(ActionSiteVisitStart),
	string(ActionSiteVisitEnd),
	string(ActionRestrictedAreaAlert),
	string(ActionEmergencyAlert),
	string(ActionNotifyOnly),
}

// StartsShift reports whether the action asks the shift state machine for an automatic start.
func (a Action) StartsShift() bool {
	return a == ActionAutoClockIn || a == ActionSiteVisitStart
}

// EndsShift reports whether the action asks the shift state machine for an automatic end.
func (a Action) EndsShift() bool {
	return a == ActionAutoClockOut || a == ActionSiteVisitEnd
}

// IsAlert reports whether the action goes to the alerting collaborator.
func (a Action) IsAlert() bool {
	return a == ActionRestrictedAreaAlert || a == ActionEmergencyAlert
}

// Notifies reports whether the action goes to the notification collaborator.
func (a Action) Notifies() bool {
	return a != "" && a != ActionNotifyOnly
}

type Shape struct {
	Kind         ShapeKind   `json:"kind"`
	Center       *geo.Point  `json:"center,omitempty"`
	RadiusMeters float64     `json:"radius_meters,omitempty"`
	Polygon      geo.Polygon `json:"polygon,omitempty"`
}

// Contains reports whether p lies inside the shape.
func (s Shape) Contains(p geo.Point) (bool, error) {
	switch s.Kind {
	case ShapeCircle:
		if s.Center == nil {
			return false, fmt.Errorf("%w: circle without center", geo.ErrInvalidGeometry)
		}
		return geo.IsInsideCircle(p, *s.Center, s.RadiusMeters), nil
	case ShapePolygon:
		return geo.IsInsidePolygon(p, s.Polygon)
	default:
		return false, fmt.Errorf("%w: unknown shape kind %q", geo.ErrInvalidGeometry, s.Kind)
	}
}

// TimeWindow is a wall-clock window in the geofence timezone. Start is
// inclusive, End exclusive; a window whose End is before its Start wraps
// past midnight. Equal bounds mean the whole day.
type TimeWindow struct {
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`   // HH:MM
}

func (w TimeWindow) Contains(local time.Time) bool {
	start, err1 := clockMinutes(w.Start)
	end, err2 := clockMinutes(w.End)
	if err1 != nil || err2 != nil {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	switch {
	case start == end:
		return true
	case start < end:
		return m >= start && m < end
	default:
		return m >= start || m < end
	}
}

func clockMinutes(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

type Conditions struct {
	TimeWindow      *TimeWindow    `json:"time_window,omitempty"`
	DaysOfWeek      []time.Weekday `json:"days_of_week,omitempty"`
	Roles           []Role         `json:"roles,omitempty"`
	MinDwellSeconds int            `json:"min_dwell_seconds,omitempty"`
}

type Trigger struct {
	EventType       EventType  `json:"event_type"`
	Action          Action     `json:"action"`
	Enabled         bool       `json:"enabled"`
	Conditions      Conditions `json:"conditions"`
	CooldownSeconds int        `json:"cooldown_seconds,omitempty"`
}

// Matches checks the role, day-of-week and time-of-day conditions. local
// must already be in the geofence timezone.
func (t Trigger) Matches(role Role, local time.Time) bool {
	if !t.Enabled {
		return false
	}
	c := t.Conditions
	if len(c.Roles) > 0 && !containsRole(c.Roles, role) {
		return false
	}
	if len(c.DaysOfWeek) > 0 {
		found := false
		for _, d := range c.DaysOfWeek {
			if d == local.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.TimeWindow != nil && !c.TimeWindow.Contains(local) {
		return false
	}
	return true
}

// DwellWindow is the minimum continuous presence before a dwell trigger fires.
func (t Trigger) DwellWindow() time.Duration {
	return time.Duration(t.Conditions.MinDwellSeconds) * time.Second
}

type Geofence struct {
	ID              string
	Name            string
	SiteID          string
	Shape           Shape
	AllowedRoles    []Role
	RestrictedRoles []Role
	Timezone        string
	Active          bool
	Triggers        []Trigger
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// zones caches resolved timezones by IANA name.
var zones sync.Map

// Location returns the geofence timezone, falling back to UTC. Each name
// is loaded from the zone database once.
func (g Geofence) Location() *time.Location {
	if g.Timezone == "" || g.Timezone == "UTC" {
		return time.UTC
	}
	if loc, ok := zones.Load(g.Timezone); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		loc = time.UTC
	}
	actual, _ := zones.LoadOrStore(g.Timezone, loc)
	return actual.(*time.Location)
}

// Admits reports whether role may trigger enter/exit/dwell here. An empty
// allow list admits every role that is not restricted.
func (g Geofence) Admits(role Role) bool {
	if containsRole(g.RestrictedRoles, role) {
		return false
	}
	return len(g.AllowedRoles) == 0 || containsRole(g.AllowedRoles, role)
}

func (g Geofence) Contains(p geo.Point) (bool, error) {
	return g.Shape.Contains(p)
}

// TriggersFor returns the enabled triggers for an event type.
func (g Geofence) TriggersFor(eventType EventType) []Trigger {
	var out []Trigger
	for _, t := range g.Triggers {
		if t.EventType == eventType && t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Event is an immutable record emitted by the engine.
type Event struct {
	ID         string
	GeofenceID string
	UserID     string
	Role       Role
	EventType  EventType
	Location   geo.Coordinate
	Action     Action
	Timestamp  time.Time
	ShiftID    *string
}

// PresenceKey identifies the engine memory for one (user, geofence) pair.
type PresenceKey struct {
	UserID     string
	GeofenceID string
}

func (k PresenceKey) String() string {
	return k.UserID + ":" + k.GeofenceID
}

// Presence is the last known containment of a user in a geofence plus the
// cooldown deadlines of its event types.
type Presence struct {
	Inside    bool                    `json:"inside"`
	EnteredAt time.Time               `json:"entered_at"`
	LastSeen  time.Time               `json:"last_seen"`
	Cooldowns map[EventType]time.Time `json:"cooldowns,omitempty"`
}

// CoolingDown reports whether eventType may not fire yet at ts.
func (p *Presence) CoolingDown(eventType EventType, ts time.Time) bool {
	until, ok := p.Cooldowns[eventType]
	return ok && ts.Before(until)
}

func (p *Presence) StartCooldown(eventType EventType, until time.Time) {
	if p.Cooldowns == nil {
		p.Cooldowns = make(map[EventType]time.Time)
	}
	p.Cooldowns[eventType] = until
}
