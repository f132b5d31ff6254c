package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmlabs-hris/fieldshift/internal/config"
	"github.com/cmlabs-hris/fieldshift/internal/domain/audit"
	"github.com/cmlabs-hris/fieldshift/internal/domain/geofence"
	"github.com/cmlabs-hris/fieldshift/internal/domain/shift"
	appHTTP "github.com/cmlabs-hris/fieldshift/internal/handler/http"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/cache"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/cron"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/database"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/lock"
	"github.com/cmlabs-hris/fieldshift/internal/pkg/sse"
	"github.com/cmlabs-hris/fieldshift/internal/repository/memory"
	"github.com/cmlabs-hris/fieldshift/internal/repository/postgresql"
	geofenceService "github.com/cmlabs-hris/fieldshift/internal/service/geofence"
	notificationService "github.com/cmlabs-hris/fieldshift/internal/service/notification"
	shiftService "github.com/cmlabs-hris/fieldshift/internal/service/shift"
	trackingService "github.com/cmlabs-hris/fieldshift/internal/service/tracking"
	"golang.org/x/sync/errgroup"
)

// repositories is the storage backend selected by STORAGE_DRIVER.
type repositories struct {
	shifts     shift.ShiftRepository
	active     shift.ActiveShiftRegistry
	geofences  geofence.GeofenceRepository
	events     geofence.EventRepository
	audit      audit.Sink
	transactor shift.Transactor
	close      func()
}

func main() {
	if err := run(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})).With(
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	var locker lock.Locker = lock.NewKeyedMutex()
	var presence geofence.PresenceStore = geofenceService.NewMemoryPresenceStore()
	if cfg.Redis.Host != "" {
		rdb, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()

		locker = lock.NewRedisLocker(rdb, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL)
		presence = geofenceService.NewRedisPresenceStore(rdb, cfg.Redis.KeyPrefix, cfg.Engine.PresenceTTL)
		slog.Info("Using redis for shift locks and geofence presence", "host", cfg.Redis.Host)
	}

	registry := geofenceService.NewRegistry(repos.geofences, cfg.Engine.GeofenceCacheTTL)
	engine := geofenceService.NewEngine(registry, presence, repos.events, geofenceService.EngineConfig{
		DefaultCooldown:      cfg.Engine.DefaultCooldown,
		DefaultDwellCooldown: cfg.Engine.DefaultDwellCooldown,
	})

	shiftSvc := shiftService.NewShiftService(
		repos.shifts,
		repos.active,
		repos.transactor,
		repos.audit,
		registry,
		locker,
		shiftPolicy(cfg.Shift),
	)

	hub := sse.NewHub()
	notificationSvc := notificationService.NewNotificationService(hub, notificationService.Config{})
	trackingSvc := trackingService.NewTrackingService(engine, shiftSvc, repos.active, notificationSvc)

	scheduler := cron.NewScheduler()
	if cfg.Cron.Enabled {
		cron.NewShiftJobs(presence, repos.shifts, shiftSvc, cfg.Engine.PresenceTTL).RegisterJobs(scheduler, cron.JobIntervals{
			PresencePrune: cfg.Cron.PresencePruneInterval,
			StateRecovery: cfg.Cron.StateRecoveryInterval,
		})
	}
	scheduler.Start()

	router := appHTTP.NewRouter(appHTTP.RouterConfig{
		AppName:        cfg.App.Name,
		Version:        cfg.App.Version,
		Env:            cfg.App.Env,
		AllowedOrigins: cfg.App.AllowedOrigins,
		LogLevel:       cfg.SlogLevel(),
		RequestTimeout: cfg.App.RequestTimeout,
	}, appHTTP.Handlers{
		Shift:    appHTTP.NewShiftHandler(shiftSvc),
		Geofence: appHTTP.NewGeofenceHandler(registry, engine),
		Tracking: appHTTP.NewTrackingHandler(trackingSvc),
		Stream:   appHTTP.NewStreamHandler(notificationSvc),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server running", "addr", server.Addr, "storage", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")

		// open event streams only end when the hub closes
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		scheduler.Stop()
		notificationSvc.Stop()
		return err
	})

	return g.Wait()
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.Database.Driver != config.StoragePostgres {
		store := memory.NewStore()
		slog.Warn("Using in-memory storage; data is lost on restart")
		return &repositories{
			shifts:     memory.NewShiftRepository(store),
			active:     memory.NewActiveShiftRegistry(store),
			geofences:  memory.NewGeofenceRepository(store),
			events:     memory.NewEventRepository(store),
			audit:      memory.NewAuditSink(store),
			transactor: store,
			close:      func() {},
		}, nil
	}

	db, err := database.NewPostgreSQLDB(ctx, cfg.DatabaseURL(), database.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &repositories{
		shifts:     postgresql.NewShiftRepository(db),
		active:     postgresql.NewActiveShiftRegistry(db),
		geofences:  postgresql.NewGeofenceRepository(db),
		events:     postgresql.NewEventRepository(db),
		audit:      postgresql.NewAuditSink(db),
		transactor: postgresql.NewTransactor(db),
		close:      db.Close,
	}, nil
}

func shiftPolicy(c config.ShiftConfig) shiftService.Policy {
	return shiftService.Policy{
		MaxGPSAccuracyMeters: c.MaxGPSAccuracyMeters,
		EarlyStartTolerance:  c.EarlyStartTolerance,
		MinShiftDuration:     c.MinShiftDuration,
		MaxBreakMinutes: map[shift.BreakType]int{
			shift.BreakLunch:        c.LunchBreakMinutes,
			shift.BreakShort:        c.ShortBreakMinutes,
			shift.BreakEmergency:    c.EmergencyMinutes,
			shift.BreakAuthorized:   c.AuthorizedMinutes,
			shift.BreakUnauthorized: c.UnauthorizedMinutes,
		},
		DailyBreakCapMinutes: c.DailyBreakCapMinutes,
		LockTimeout:          c.LockTimeout,
		OperationTimeout:     c.OperationTimeout,
	}
}
