package shift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/audit"
	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/apperror"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/geo"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/lock"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/validator"
)

// actorSystem is the audit actor of automatic transitions.
const actorSystem = "system"

type ShiftServiceImpl struct {
	shifts    shift.ShiftRepository
	registry  shift.ActiveShiftRegistry
	tx        shift.Transactor
	audit     audit.Sink
	geofences geofence.Registry
	locker    lock.Locker
	policy    Policy
	now       func() time.Time
}

type Option func(*ShiftServiceImpl)

// WithClock replaces the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ShiftServiceImpl) { s.now = now }
}

func NewShiftService(
	shifts shift.ShiftRepository,
	registry shift.ActiveShiftRegistry,
	tx shift.Transactor,
	sink audit.Sink,
	geofences geofence.Registry,
	locker lock.Locker,
	policy Policy,
	opts ...Option,
) shift.ShiftService {
	s := &ShiftServiceImpl{
		shifts:    shifts,
		registry:  registry,
		tx:        tx,
		audit:     sink,
		geofences: geofences,
		locker:    locker,
		policy:    policy,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// origin describes who asked for a transition.
type origin struct {
	trigger    shift.Trigger
	reason     string
	deviceID   string
	geofenceID string
}

func manual(deviceID string) origin {
	return origin{trigger: shift.TriggerManual, deviceID: deviceID}
}

func (o origin) actor(staffID string) string {
	if o.trigger == shift.TriggerAutomatic {
		return actorSystem
	}
	return staffID
}

// mutation changes next in place and returns the transition it performed.
// cur is the locked, unmodified shift.
type mutation func(ctx context.Context, cur shift.Shift, next *shift.Shift, now time.Time) (shift.StateTransition, error)

// mutate serializes op on the shift and commits the new document, registry
// changes made by op and the audit entry together.
func (s *ShiftServiceImpl) mutate(ctx context.Context, shiftID string, staffLock bool, o origin, op mutation) (shift.Shift, error) {
	if s.policy.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.OperationTimeout)
		defer cancel()
	}

	var keys []string
	if staffLock {
		cur, err := s.shifts.GetByID(ctx, shiftID)
		if err != nil {
			return shift.Shift{}, classify(err)
		}
		keys = append(keys, "staff:"+cur.StaffID)
	}
	keys = append(keys, "shift:"+shiftID)

	release, err := s.acquire(ctx, keys...)
	if err != nil {
		return shift.Shift{}, err
	}
	defer release()

	var result shift.Shift
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		cur, err := s.shifts.GetForUpdate(ctx, shiftID)
		if err != nil {
			return err
		}

		next := cur.Clone()
		now := s.now().UTC()
		t, err := op(ctx, cur, &next, now)
		if err != nil {
			return err
		}
		next.Version = cur.Version + 1
		next.UpdatedAt = now

		if err := s.shifts.Save(ctx, next, cur.Version); err != nil {
			return err
		}
		if err := s.appendAudit(ctx, next, t, o); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return shift.Shift{}, classify(err)
	}

	last := result.StateHistory[len(result.StateHistory)-1]
	slog.Info("shift transition",
		"shift_id", result.ID,
		"staff_id", result.StaffID,
		"from", last.FromState,
		"to", last.ToState,
		"trigger", last.Trigger,
		"reason", last.Reason,
	)
	return result, nil
}

// acquire takes the locks in order and returns a release for all of them.
func (s *ShiftServiceImpl) acquire(ctx context.Context, keys ...string) (func(), error) {
	lockCtx := ctx
	if s.policy.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.policy.LockTimeout)
		defer cancel()
	}

	var releases []lock.Release
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range keys {
		r, err := s.locker.Acquire(lockCtx, key)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("%w: lock %s: %v", shift.ErrUnavailable, key, err)
		}
		releases = append(releases, r)
	}
	return releaseAll, nil
}

func (s *ShiftServiceImpl) appendAudit(ctx context.Context, sh shift.Shift, t shift.StateTransition, o origin) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	action := "transition"
	if t.Reason == shift.ReasonRecovered {
		action = "recover"
	}
	_, err = s.audit.Append(ctx, audit.Entry{
		EntityType: audit.EntityShift,
		EntityID:   sh.ID,
		Action:     action,
		ActorID:    o.actor(sh.StaffID),
		Trigger:    string(t.Trigger),
		FromState:  string(t.FromState),
		ToState:    string(t.ToState),
		Payload:    payload,
		CreatedAt:  t.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("%w: audit sink: %v", shift.ErrUnavailable, err)
	}
	return nil
}

// classify keeps domain errors and turns everything else (timeouts,
// storage failures) into ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if apperror.KindOf(err) != apperror.KindInternal {
		return err
	}
	return fmt.Errorf("%w: %v", shift.ErrUnavailable, err)
}

func (s *ShiftServiceImpl) transition(next *shift.Shift, to shift.State, now time.Time, o origin, loc *geo.Coordinate) (shift.StateTransition, error) {
	if !shift.CanTransition(next.CurrentState, to) {
		return shift.StateTransition{}, fmt.Errorf("%w: %s -> %s", shift.ErrInvalidStateTransition, next.CurrentState, to)
	}
	t := shift.StateTransition{
		ToState:   to,
		Timestamp: now,
		Trigger:   o.trigger,
		Reason:    o.reason,
		Location:  loc,
		Metadata: shift.TransitionMetadata{
			DeviceID:   o.deviceID,
			GeofenceID: o.geofenceID,
		},
	}
	if loc != nil {
		t.Metadata.GPSAccuracy = loc.Accuracy
	}
	next.Transition(t)
	return next.StateHistory[len(next.StateHistory)-1], nil
}

// checkLocation applies the gps accuracy and, when inside is set, the
// geofence containment rules.
func (s *ShiftServiceImpl) checkLocation(ctx context.Context, sh shift.Shift, loc geo.Coordinate, inside bool) error {
	if s.policy.MaxGPSAccuracyMeters > 0 && loc.AccuracyMeters() > s.policy.MaxGPSAccuracyMeters {
		return fmt.Errorf("%w: %.0fm exceeds %.0fm", shift.ErrPoorGPSAccuracy, loc.AccuracyMeters(), s.policy.MaxGPSAccuracyMeters)
	}
	if !inside || !sh.GeofenceRequired {
		return nil
	}
	if sh.GeofenceID == nil || *sh.GeofenceID == "" {
		return fmt.Errorf("%w: shift has no geofence", shift.ErrOutsideGeofence)
	}
	contained, err := s.geofences.Contains(ctx, *sh.GeofenceID, "", loc.Point())
	if err != nil {
		if errors.Is(err, geofence.ErrGeofenceNotFound) {
			return fmt.Errorf("%w: geofence %s not found", shift.ErrOutsideGeofence, *sh.GeofenceID)
		}
		return err
	}
	if !contained {
		return shift.ErrOutsideGeofence
	}
	return nil
}

// ScheduleShift implements shift.ShiftService.
func (s *ShiftServiceImpl) ScheduleShift(ctx context.Context, req shift.ScheduleShiftRequest) (shift.Shift, error) {
	if err := req.Validate(); err != nil {
		return shift.Shift{}, err
	}
	if req.GeofenceID != nil && *req.GeofenceID != "" {
		if _, err := s.geofences.Get(ctx, *req.GeofenceID); err != nil {
			return shift.Shift{}, err
		}
	}

	now := s.now().UTC()
	sh, err := s.shifts.Create(ctx, shift.Shift{
		StaffID:          req.StaffID,
		SiteID:           req.SiteID,
		ScheduledStart:   req.ScheduledStart.UTC(),
		ScheduledEnd:     req.ScheduledEnd.UTC(),
		CurrentState:     shift.StateIdle,
		GeofenceRequired: req.GeofenceRequired,
		GeofenceID:       req.GeofenceID,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return shift.Shift{}, classify(err)
	}

	slog.Info("shift scheduled", "shift_id", sh.ID, "staff_id", sh.StaffID, "scheduled_start", sh.ScheduledStart)
	return sh, nil
}

// StartShift implements shift.ShiftService.
func (s *ShiftServiceImpl) StartShift(ctx context.Context, req shift.StartShiftRequest) (shift.Shift, error) {
	if err := req.Validate(); err != nil {
		return shift.Shift{}, err
	}
	return s.startShift(ctx, req.ShiftID, req.Location, manual(req.DeviceID))
}

func (s *ShiftServiceImpl) startShift(ctx context.Context, shiftID string, loc geo.Coordinate, o origin) (shift.Shift, error) {
	return s.mutate(ctx, shiftID, true, o, func(ctx context.Context, cur shift.Shift, next *shift.Shift, now time.Time) (shift.StateTransition, error) {
		if cur.CurrentState != shift.StateIdle {
			return shift.StateTransition{}, fmt.Errorf("%w: shift is %s", shift.ErrInvalidStateTransition, cur.CurrentState)
		}

		active, err := s.registry.ActiveShift(ctx, cur.StaffID)
		if err != nil {
			return shift.StateTransition{}, fmt.Errorf("failed to read active shift: %w", err)
		}
		if active != "" && active != cur.ID {
			return shift.StateTransition{}, shift.ErrAlreadyActive
		}

		if err := s.checkLocation(ctx, cur, loc, true); err != nil {
			return shift.StateTransition{}, err
		}
		if now.Before(cur.ScheduledStart.Add(-s.policy.EarlyStartTolerance)) {
			return shift.StateTransition{}, fmt.Errorf("%w: scheduled start is %s", shift.ErrTooEarly, cur.ScheduledStart.Format(time.RFC3339))
		}

		t, err := s.transition(next, shift.StateInShift, now, o, &loc)
		if err != nil {
			return shift.StateTransition{}, err
		}
		next.ActualStart = &now

		if err := s.registry.Claim(ctx, cur.StaffID, cur.ID); err != nil {
			return shift.StateTransition{}, err
		}
		return t, nil
	})
}

// StartBreak implements shift.ShiftService.
func (s *ShiftServiceImpl) StartBreak(ctx context.Context, req shift.StartBreakRequest) (shift.Shift, error) {
	if err := req.Validate(); err != nil {
		return shift.Shift{}, err
	}

	return s.mutate(ctx, req.ShiftID, false, manual(""), func(ctx context.Context, cur shift.Shift, next *shift.Shift, now time.Time) (shift.StateTransition, error) {
		if cur.CurrentState != shift.StateInShift {
			return shift.StateTransition{}, fmt.Errorf("%w: shift is %s", shift.ErrInvalidStateTransition, cur.CurrentState)
		}
		if limit := s.policy.maxBreak(req.Type); req.PlannedDurationMinutes > limit {
			return shift.StateTransition{}, fmt.Errorf("%w: %s break is limited to %d minutes", shift.ErrBreakDurationExceeded, req.Type, limit)
		}
		if s.policy.DailyBreakCapMinutes > 0 {
			taken := cur.BreakMinutesOn(now)
			if taken+req.PlannedDurationMinutes > s.policy.DailyBreakCapMinutes {
				return shift.StateTransition{}, fmt.Errorf("%w: %d of %d minutes already taken", shift.ErrBreakBudgetExceeded, taken, s.policy.DailyBreakCapMinutes)
			}
		}

		t, err := s.transition(next, shift.StateOnBreak, now, manual(""), nil)
		if err != nil {
			return shift.StateTransition{}, err
		}
		next.CurrentBreak = &shift.Break{
			Type:                   req.Type,
			PlannedDurationMinutes: req.PlannedDurationMinutes,
			Reason:                 req.Reason,
			StartTime:              now,
		}
		return t, nil
	})
}

// EndBreak implements shift.ShiftService.
func (s *ShiftServiceImpl) EndBreak(ctx context.Context, shiftID string) (shift.Shift, error) {
	if shiftID == "" {
		return shift.Shift{}, errShiftIDRequired
	}

	return s.mutate(ctx, shiftID, false, manual(""), func(ctx context.Context, cur shift.Shift, next *shift.Shift, now time.Time) (shift.StateTransition, error) {
		if cur.CurrentState != shift.StateOnBreak {
			return shift.StateTransition{}, fmt.Errorf("%w: shift is %s", shift.ErrInvalidStateTransition, cur.CurrentState)
		}

		t, err := s.transition(next, shift.StateInShift, now, manual(""), nil)
		if err != nil {
			return shift.StateTransition{}, err
		}
		if next.CurrentBreak != nil {
			b := *next.CurrentBreak
			b.Close(now)
			next.BreakHistory = append(next.BreakHistory, b)
		}
		next.CurrentBreak = nil
		return t, nil
	})
}

// EndShift implements shift.ShiftService.
func (s *ShiftServiceImpl) EndShift(ctx context.Context, req shift.EndShiftRequest) (shift.Shift, error) {
	if err := req.Validate(); err != nil {
		return shift.Shift{}, err
	}
	return s.endShift(ctx, req.ShiftID, req.Location, manual(req.DeviceID))
}

func (s *ShiftServiceImpl) endShift(ctx context.Context, shiftID string, loc geo.Coordinate, o origin) (shift.Shift, error) {
	return s.mutate(ctx, shiftID, false, o, func(ctx context.Context, cur shift.Shift, next *shift.Shift, now time.Time) (shift.StateTransition, error) {
		switch cur.CurrentState {
		case shift.StateInShift:
		case shift.StateOnBreak:
			return shift.StateTransition{}, shift.ErrCannotEndWhileOnBreak
		default:
			return shift.StateTransition{}, fmt.Errorf("%w: shift is %s", shift.ErrInvalidStateTransition, cur.CurrentState)
		}

		// an automatic end comes from an exit sample, which is outside by definition
		if err := s.checkLocation(ctx, cur, loc, o.trigger == shift.TriggerManual); err != nil {
			return shift.StateTransition{}, err
		}

		start := now
		if cur.ActualStart != nil {
			start = *cur.ActualStart
		}
		if elapsed := now.Sub(start); elapsed < s.policy.MinShiftDuration {
			return shift.StateTransition{}, fmt.Errorf("%w: %s elapsed, minimum is %s", shift.ErrShiftTooShort, elapsed.Round(time.Second), s.policy.MinShiftDuration)
		}

		t, err := s.transition(next, shift.StatePostShift, now, o, &loc)
		if err != nil {
			return shift.StateTransition{}, err
		}

		total := shift.RoundHours(now.Sub(start))
		scheduled := shift.RoundHours(cur.ScheduledDuration())
		next.ActualEnd = &now
		next.TotalHours = &total
		next.ActualHours = &total
		next.ScheduledHours = &scheduled
		next.EarlyEnd = now.Before(cur.ScheduledEnd)
		return t, nil
	})
}

// CompleteShift implements shift.ShiftService.
func (s *ShiftServiceImpl) CompleteShift(ctx context.Context, req shift.CompleteShiftRequest) (shift.Shift, error) {
	if err := req.Validate(); err != nil {
		return shift.Shift{}, err
	}

	return s.mutate(ctx, req.ShiftID, false, manual(""), func(ctx context.Context, cur shift.Shift, next *shift.Shift, now time.Time) (shift.StateTransition, error) {
		if cur.CurrentState != shift.StatePostShift {
			return shift.StateTransition{}, fmt.Errorf("%w: shift is %s", shift.ErrInvalidStateTransition, cur.CurrentState)
		}

		t, err := s.transition(next, shift.StateCompleted, now, manual(""), nil)
		if err != nil {
			return shift.StateTransition{}, err
		}

		scheduled := shift.RoundHours(cur.ScheduledDuration())
		if cur.ScheduledHours != nil {
			scheduled = *cur.ScheduledHours
		}
		if cur.TotalHours != nil && *cur.TotalHours > scheduled {
			overtime := shift.RoundHours(time.Duration((*cur.TotalHours - scheduled) * float64(time.Hour)))
			next.OvertimeHours = &overtime
			next.RequiresApproval = true
		}

		summary := req.Summary
		next.Summary = &summary
		next.Issues = req.Issues
		next.NextShiftNotes = req.NextShiftNotes

		if err := s.registry.Release(ctx, cur.StaffID, cur.ID); err != nil {
			return shift.StateTransition{}, err
		}
		return t, nil
	})
}

// HandleGeofenceEntry implements shift.ShiftService.
func (s *ShiftServiceImpl) HandleGeofenceEntry(ctx context.Context, cmd shift.AutomaticCommand) shift.AutomaticResult {
	shiftID := cmd.ShiftID
	if shiftID == "" {
		startable, err := s.shifts.ListStartable(ctx, cmd.StaffID, s.now().UTC())
		if err != nil {
			return s.skip(cmd, "", fmt.Errorf("%w: %v", shift.ErrUnavailable, err))
		}
		for _, sh := range startable {
			if sh.GeofenceID == nil || *sh.GeofenceID == cmd.GeofenceID {
				shiftID = sh.ID
				break
			}
		}
		if shiftID == "" {
			return s.skip(cmd, "", errors.New("no startable shift for this geofence"))
		}
	}

	if _, err := s.startShift(ctx, shiftID, cmd.Location, automatic(cmd)); err != nil {
		return s.skip(cmd, shiftID, err)
	}
	return shift.AutomaticResult{Applied: true, ShiftID: shiftID}
}

// HandleGeofenceExit implements shift.ShiftService.
func (s *ShiftServiceImpl) HandleGeofenceExit(ctx context.Context, cmd shift.AutomaticCommand) shift.AutomaticResult {
	shiftID := cmd.ShiftID
	if shiftID == "" {
		active, err := s.registry.ActiveShift(ctx, cmd.StaffID)
		if err != nil {
			return s.skip(cmd, "", fmt.Errorf("%w: %v", shift.ErrUnavailable, err))
		}
		if active == "" {
			return s.skip(cmd, "", errors.New("no active shift"))
		}
		shiftID = active
	}

	sh, err := s.shifts.GetByID(ctx, shiftID)
	if err != nil {
		return s.skip(cmd, shiftID, err)
	}
	if sh.GeofenceID != nil && *sh.GeofenceID != "" && *sh.GeofenceID != cmd.GeofenceID {
		return s.skip(cmd, shiftID, errors.New("exit from a geofence other than the shift's"))
	}

	if _, err := s.endShift(ctx, shiftID, cmd.Location, automatic(cmd)); err != nil {
		return s.skip(cmd, shiftID, err)
	}
	return shift.AutomaticResult{Applied: true, ShiftID: shiftID}
}

func automatic(cmd shift.AutomaticCommand) origin {
	return origin{
		trigger:    shift.TriggerAutomatic,
		reason:     cmd.EventType,
		geofenceID: cmd.GeofenceID,
	}
}

// skip logs a failed automatic command. Automatic commands never fail the caller.
func (s *ShiftServiceImpl) skip(cmd shift.AutomaticCommand, shiftID string, err error) shift.AutomaticResult {
	slog.Warn("automatic shift command skipped",
		"shift_id", shiftID,
		"staff_id", cmd.StaffID,
		"geofence_id", cmd.GeofenceID,
		"event_type", cmd.EventType,
		"kind", apperror.KindOf(err).String(),
		"error", err,
	)
	return shift.AutomaticResult{ShiftID: shiftID, Skipped: err.Error()}
}

// RecoverShiftState implements shift.ShiftService.
func (s *ShiftServiceImpl) RecoverShiftState(ctx context.Context, shiftID string) (shift.Shift, error) {
	if shiftID == "" {
		return shift.Shift{}, errShiftIDRequired
	}

	cur, err := s.shifts.GetByID(ctx, shiftID)
	if err != nil {
		return shift.Shift{}, classify(err)
	}
	if cur.CurrentState.Valid() {
		return cur, nil
	}

	o := origin{trigger: shift.TriggerAutomatic, reason: shift.ReasonRecovered}
	recovered, err := s.mutate(ctx, shiftID, true, o, func(ctx context.Context, cur shift.Shift, next *shift.Shift, now time.Time) (shift.StateTransition, error) {
		if cur.CurrentState.Valid() {
			return shift.StateTransition{}, errAlreadyValid
		}
		target, ok := shift.LastValidState(cur.StateHistory)
		if !ok {
			return shift.StateTransition{}, shift.ErrNoHistoryToRecoverFrom
		}

		notes := []string{fmt.Sprintf("state %q replaced by %q from history", cur.CurrentState, target)}
		if replayed, bad := shift.Replay(cur.StateHistory); bad >= 0 || replayed != target {
			notes = append(notes, fmt.Sprintf("history replay stops at entry %d in state %q", bad, replayed))
		}

		next.CurrentState = target
		next.StateHistory = append(next.StateHistory, shift.StateTransition{
			FromState: cur.CurrentState,
			ToState:   target,
			Timestamp: now,
			Trigger:   shift.TriggerAutomatic,
			Reason:    shift.ReasonRecovered,
			Metadata:  shift.TransitionMetadata{NeedsReview: true},
		})

		switch {
		case target == shift.StateOnBreak && next.CurrentBreak == nil:
			notes = append(notes, "on-break without an open break")
		case target != shift.StateOnBreak && next.CurrentBreak != nil:
			notes = append(notes, "open break closed by recovery")
			b := *next.CurrentBreak
			b.Close(now)
			next.BreakHistory = append(next.BreakHistory, b)
			next.CurrentBreak = nil
		}

		if target.Active() {
			if err := s.registry.Claim(ctx, cur.StaffID, cur.ID); err != nil {
				if !errors.Is(err, shift.ErrAlreadyActive) {
					return shift.StateTransition{}, err
				}
				notes = append(notes, "staff member holds another active shift")
			}
		} else if err := s.registry.Release(ctx, cur.StaffID, cur.ID); err != nil {
			return shift.StateTransition{}, err
		}

		next.RequiresReview = true
		next.ReviewNotes = append(next.ReviewNotes, notes...)
		return next.StateHistory[len(next.StateHistory)-1], nil
	})
	if errors.Is(err, errAlreadyValid) {
		return s.shifts.GetByID(ctx, shiftID)
	}
	if err != nil {
		return shift.Shift{}, err
	}

	slog.Warn("shift state recovered", "shift_id", recovered.ID, "state", recovered.CurrentState, "notes", recovered.ReviewNotes)
	return recovered, nil
}

var errShiftIDRequired = validator.ValidationErrors{{Field: "shift_id", Message: "shift_id is required"}}

// errAlreadyValid aborts a recovery that raced with another repair.
var errAlreadyValid = apperror.New(apperror.KindState, "ALREADY_VALID", "shift state is already valid")

// GetShift implements shift.ShiftService.
func (s *ShiftServiceImpl) GetShift(ctx context.Context, shiftID string) (shift.Shift, error) {
	sh, err := s.shifts.GetByID(ctx, shiftID)
	if err != nil {
		return shift.Shift{}, classify(err)
	}
	return sh, nil
}
