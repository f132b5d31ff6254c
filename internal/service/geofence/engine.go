package geofence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/google/uuid"
)

var (
	// errUnchanged tells the presence store to skip the write.
	errUnchanged = errors.New("presence unchanged")

	// errStale rejects a sample older than the last one seen.
	errStale = errors.New("sample older than last seen")
)

type EngineConfig struct {
	// DefaultCooldown applies to enter, exit and breach triggers without
	// their own cooldown. Containment changes already deduplicate those.
	DefaultCooldown time.Duration

	// DefaultDwellCooldown overrides the dwell window as the default dwell
	// cooldown when positive.
	DefaultDwellCooldown time.Duration
}

type EngineImpl struct {
	registry geofence.Registry
	presence geofence.PresenceStore
	events   geofence.EventRepository
	config   EngineConfig
	newID    func() string
}

func NewEngine(registry geofence.Registry, presence geofence.PresenceStore, events geofence.EventRepository, cfg EngineConfig) geofence.Engine {
	return &EngineImpl{
		registry: registry,
		presence: presence,
		events:   events,
		config:   cfg,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Evaluate implements geofence.Engine.
func (e *EngineImpl) Evaluate(ctx context.Context, req geofence.EvaluateRequest) ([]geofence.Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	candidates, err := e.candidates(ctx, req.ActiveGeofenceID)
	if err != nil {
		return nil, err
	}

	point := req.Location.Point()
	var events []geofence.Event
	for _, g := range candidates {
		inside, err := g.Contains(point)
		if err != nil {
			// a broken definition must not stop the other geofences
			slog.Error("geofence containment failed", "geofence_id", g.ID, "error", err)
			continue
		}

		fired, err := e.evaluateOne(ctx, g, req, inside)
		if err != nil {
			// events of the geofences already evaluated are committed, so the
			// caller still gets them
			return events, err
		}
		events = append(events, fired...)
	}
	return events, nil
}

func (e *EngineImpl) candidates(ctx context.Context, activeGeofenceID *string) ([]geofence.Geofence, error) {
	if activeGeofenceID != nil && *activeGeofenceID != "" {
		g, err := e.registry.Get(ctx, *activeGeofenceID)
		if err != nil {
			return nil, err
		}
		if !g.Active {
			return nil, nil
		}
		return []geofence.Geofence{g}, nil
	}
	return e.registry.ListActive(ctx)
}

// evaluateOne updates the presence of the user in g and returns the events
// the sample fires there.
func (e *EngineImpl) evaluateOne(ctx context.Context, g geofence.Geofence, req geofence.EvaluateRequest, inside bool) ([]geofence.Event, error) {
	key := geofence.PresenceKey{UserID: req.UserID, GeofenceID: g.ID}
	ts := req.Timestamp
	local := ts.In(g.Location())
	admitted := g.Admits(req.Role)

	var fired []geofence.Event
	err := e.presence.Update(ctx, key, func(p *geofence.Presence) error {
		fired = fired[:0]
		wasInside := p.Inside

		if !inside && !wasInside && p.LastSeen.IsZero() {
			return errUnchanged
		}
		if ts.Before(p.LastSeen) {
			return errStale
		}

		var eventType geofence.EventType
		switch {
		case inside && !wasInside:
			p.Inside = true
			p.EnteredAt = ts
			eventType = geofence.EventEnter
			if !admitted {
				eventType = geofence.EventBreach
			}
		case !inside && wasInside:
			p.Inside = false
			p.EnteredAt = time.Time{}
			delete(p.Cooldowns, geofence.EventDwell)
			if admitted {
				eventType = geofence.EventExit
			}
		case inside && wasInside && admitted:
			eventType = geofence.EventDwell
		}
		p.LastSeen = ts

		if eventType == "" || p.CoolingDown(eventType, ts) {
			return nil
		}

		var cooldown time.Duration
		for _, t := range g.TriggersFor(eventType) {
			if eventType == geofence.EventDwell && ts.Sub(p.EnteredAt) < t.DwellWindow() {
				continue
			}
			if !t.Matches(req.Role, local) {
				continue
			}
			fired = append(fired, geofence.Event{
				ID:         e.newID(),
				GeofenceID: g.ID,
				UserID:     req.UserID,
				Role:       req.Role,
				EventType:  eventType,
				Location:   req.Location,
				Action:     t.Action,
				Timestamp:  ts,
				ShiftID:    req.ShiftID,
			})
			if c := e.cooldownFor(t); c > cooldown {
				cooldown = c
			}
		}
		if len(fired) == 0 {
			return nil
		}
		if cooldown > 0 {
			p.StartCooldown(eventType, ts.Add(cooldown))
		}

		// the presence change is only written once its events are logged
		if err := e.events.Append(ctx, fired...); err != nil {
			return fmt.Errorf("%w: %v", geofence.ErrEventLogUnavailable, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errUnchanged) {
			return nil, nil
		}
		if errors.Is(err, errStale) {
			slog.Debug("out of order sample ignored",
				"user_id", req.UserID, "geofence_id", g.ID, "timestamp", ts)
			return nil, nil
		}
		if errors.Is(err, geofence.ErrEventLogUnavailable) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", geofence.ErrStoreUnavailable, ctx.Err())
		}
		if errors.Is(err, geofence.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", geofence.ErrStoreUnavailable, err)
	}

	for _, ev := range fired {
		slog.Debug("geofence event",
			"event_id", ev.ID, "geofence_id", ev.GeofenceID, "user_id", ev.UserID,
			"event_type", ev.EventType, "action", ev.Action)
	}
	return fired, nil
}

func (e *EngineImpl) cooldownFor(t geofence.Trigger) time.Duration {
	if t.CooldownSeconds > 0 {
		return time.Duration(t.CooldownSeconds) * time.Second
	}
	if t.EventType == geofence.EventDwell {
		if e.config.DefaultDwellCooldown > 0 {
			return e.config.DefaultDwellCooldown
		}
		return t.DwellWindow()
	}
	return e.config.DefaultCooldown
}

// ListEvents implements geofence.Engine.
func (e *EngineImpl) ListEvents(ctx context.Context, filter geofence.ListEventsFilter) ([]geofence.Event, error) {
	if _, err := e.registry.Get(ctx, filter.GeofenceID); err != nil {
		return nil, err
	}
	return e.events.ListByGeofence(ctx, filter.GeofenceID, filter.From, filter.To)
}
