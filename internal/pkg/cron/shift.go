package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
)

type JobIntervals struct {
	PresencePrune time.Duration
	StateRecovery time.Duration
}

type ShiftJobs struct {
	presence    geofence.PresenceStore
	shiftRepo   shift.ShiftRepository
	shiftSvc    shift.ShiftService
	presenceTTL time.Duration
	batchSize   int
	now         func() time.Time
}

func NewShiftJobs(
	presence geofence.PresenceStore,
	shiftRepo shift.ShiftRepository,
	shiftSvc shift.ShiftService,
	presenceTTL time.Duration,
) *ShiftJobs {
	return &ShiftJobs{
		presence:    presence,
		shiftRepo:   shiftRepo,
		shiftSvc:    shiftSvc,
		presenceTTL: presenceTTL,
		batchSize:   100,
		now:         time.Now,
	}
}

func (j *ShiftJobs) RegisterJobs(scheduler *Scheduler, intervals JobIntervals) {
	scheduler.AddJob(Job{Name: "prune_geofence_presence", Interval: intervals.PresencePrune, Fn: j.PrunePresence})
	scheduler.AddJob(Job{Name: "recover_unknown_shift_states", Interval: intervals.StateRecovery, Fn: j.RecoverUnknownStates})
}

// PrunePresence forgets users not seen inside the presence TTL. Their next
// sample is treated as a first sighting.
func (j *ShiftJobs) PrunePresence(ctx context.Context) error {
	if j.presenceTTL <= 0 {
		return nil
	}
	cutoff := j.now().Add(-j.presenceTTL)
	pruned, err := j.presence.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune presence: %w", err)
	}
	if pruned > 0 {
		slog.Info("Cron: pruned geofence presence", "count", pruned, "cutoff", cutoff)
	}
	return nil
}

// RecoverUnknownStates repairs shifts whose stored state is not one of the
// known states. Shifts without usable history stay as they are and are
// reported.
func (j *ShiftJobs) RecoverUnknownStates(ctx context.Context) error {
	broken, err := j.shiftRepo.ListWithUnknownState(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list shifts with unknown state: %w", err)
	}
	if len(broken) == 0 {
		return nil
	}

	slog.Warn("Cron: found shifts with unknown state", "count", len(broken))

	var errs []error
	recovered := 0
	for _, sh := range broken {
		if _, err := j.shiftSvc.RecoverShiftState(ctx, sh.ID); err != nil {
			if errors.Is(err, shift.ErrNoHistoryToRecoverFrom) {
				slog.Error("Cron: shift cannot be recovered", "shift_id", sh.ID, "state", sh.CurrentState)
				continue
			}
			errs = append(errs, fmt.Errorf("recover shift %s: %w", sh.ID, err))
			continue
		}
		recovered++
	}

	slog.Info("Cron: shift state recovery finished", "recovered", recovered, "failed", len(errs))
	return errors.Join(errs...)
}
