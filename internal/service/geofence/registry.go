package geofence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/geo"
	"github.com/google/uuid"
)

type RegistryImpl struct {
	repo     geofence.GeofenceRepository
	now      func() time.Time
	cacheTTL time.Duration

	mu         sync.RWMutex
	active     []geofence.Geofence
	cachedAt   time.Time
	generation uint64
}

// NewRegistry creates the geofence registry. cacheTTL bounds how stale the
// active geofence snapshot used by the engine may be; zero disables caching.
func NewRegistry(repo geofence.GeofenceRepository, cacheTTL time.Duration) *RegistryImpl {
	return &RegistryImpl{
		repo:     repo,
		now:      time.Now,
		cacheTTL: cacheTTL,
	}
}

// WithClock replaces the time source for version stamps.
func (r *RegistryImpl) WithClock(now func() time.Time) *RegistryImpl {
	r.now = now
	return r
}

// Create implements geofence.Registry.
func (r *RegistryImpl) Create(ctx context.Context, req geofence.CreateGeofenceRequest) (geofence.Geofence, error) {
	if err := req.Validate(); err != nil {
		return geofence.Geofence{}, err
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	now := r.now().UTC()
	g := geofence.Geofence{
		ID:              uuid.Must(uuid.NewV7()).String(),
		Name:            req.Name,
		SiteID:          req.SiteID,
		Shape:           req.Shape,
		AllowedRoles:    req.AllowedRoles,
		RestrictedRoles: req.RestrictedRoles,
		Timezone:        tz,
		Active:          true,
		Triggers:        req.Triggers,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := r.repo.Create(ctx, g)
	if err != nil {
		return geofence.Geofence{}, fmt.Errorf("failed to create geofence: %w", err)
	}
	r.invalidate()

	slog.Info("geofence created", "geofence_id", created.ID, "name", created.Name, "shape", created.Shape.Kind)
	return created, nil
}

// Update implements geofence.Registry.
func (r *RegistryImpl) Update(ctx context.Context, req geofence.UpdateGeofenceRequest) (geofence.Geofence, error) {
	if err := req.Validate(); err != nil {
		return geofence.Geofence{}, err
	}

	return r.mutate(ctx, req.ID, req.Version, func(g *geofence.Geofence) {
		if req.Name != nil {
			g.Name = *req.Name
		}
		if req.Shape != nil {
			g.Shape = *req.Shape
		}
		if req.AllowedRoles != nil {
			g.AllowedRoles = *req.AllowedRoles
		}
		if req.RestrictedRoles != nil {
			g.RestrictedRoles = *req.RestrictedRoles
		}
		if req.Timezone != nil {
			g.Timezone = *req.Timezone
			if g.Timezone == "" {
				g.Timezone = "UTC"
			}
		}
		if req.Active != nil {
			g.Active = *req.Active
		}
		if req.Triggers != nil {
			g.Triggers = *req.Triggers
		}
	})
}

// Deactivate implements geofence.Registry.
func (r *RegistryImpl) Deactivate(ctx context.Context, id string, version int) (geofence.Geofence, error) {
	return r.mutate(ctx, id, version, func(g *geofence.Geofence) {
		g.Active = false
	})
}

func (r *RegistryImpl) mutate(ctx context.Context, id string, version int, apply func(g *geofence.Geofence)) (geofence.Geofence, error) {
	g, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return geofence.Geofence{}, err
	}
	if g.Version != version {
		return geofence.Geofence{}, geofence.ErrVersionConflict
	}

	apply(&g)
	g.Version = version + 1
	g.UpdatedAt = r.now().UTC()

	if err := r.repo.Update(ctx, g, version); err != nil {
		return geofence.Geofence{}, err
	}
	r.invalidate()

	slog.Info("geofence updated", "geofence_id", g.ID, "version", g.Version, "active", g.Active)
	return g, nil
}

// Get implements geofence.Registry.
func (r *RegistryImpl) Get(ctx context.Context, id string) (geofence.Geofence, error) {
	return r.repo.GetByID(ctx, id)
}

// ListActive implements geofence.Registry.
func (r *RegistryImpl) ListActive(ctx context.Context) ([]geofence.Geofence, error) {
	var gen uint64
	if r.cacheTTL > 0 {
		r.mu.RLock()
		if r.active != nil && r.now().Sub(r.cachedAt) < r.cacheTTL {
			out := r.active
			r.mu.RUnlock()
			return out, nil
		}
		gen = r.generation
		r.mu.RUnlock()
	}

	active, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active geofences: %w", err)
	}
	if active == nil {
		active = []geofence.Geofence{}
	}

	if r.cacheTTL > 0 {
		r.mu.Lock()
		// a write that landed while the list was loading makes it stale
		if r.generation == gen {
			r.active = active
			r.cachedAt = r.now()
		}
		r.mu.Unlock()
	}
	return active, nil
}

func (r *RegistryImpl) invalidate() {
	r.mu.Lock()
	r.active = nil
	r.generation++
	r.mu.Unlock()
}

// Contains implements geofence.Registry. Inactive geofences contain nothing.
func (r *RegistryImpl) Contains(ctx context.Context, id string, role geofence.Role, p geo.Point) (bool, error) {
	g, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !g.Active {
		return false, nil
	}
	if role != "" && !g.Admits(role) {
		return false, nil
	}
	inside, err := g.Contains(p)
	if err != nil {
		return false, fmt.Errorf("%w: %v", geofence.ErrInvalidGeometry, err)
	}
	return inside, nil
}
