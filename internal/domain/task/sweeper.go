package task

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/recoverly/recoverly/internal/platform/db"
)

// Sweeper periodically flips open tasks past their scheduled day to overdue
// across every tenant schema.
type Sweeper struct {
	svc       *Service
	pool      *pgxpool.Pool
	interval  time.Duration
	logger    zerolog.Logger
	scheduler gocron.Scheduler
}

func NewSweeper(svc *Service, pool *pgxpool.Pool, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the sweep and runs it until Stop is called.
func (sw *Sweeper) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(sw.interval),
		gocron.NewTask(sw.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	sw.scheduler = scheduler
	scheduler.Start()
	sw.logger.Info().Dur("interval", sw.interval).Msg("overdue sweeper started")
	return nil
}

func (sw *Sweeper) Stop() {
	if sw.scheduler != nil {
		_ = sw.scheduler.Shutdown()
	}
}

func (sw *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	schemas, err := db.ListTenantSchemas(ctx, sw.pool)
	if err != nil {
		sw.logger.Error().Err(err).Msg("overdue sweep: list tenants failed")
		return
	}

	for _, schema := range schemas {
		tctx, release, err := db.WithTenantConn(ctx, sw.pool, schema)
		if err != nil {
			sw.logger.Error().Err(err).Str("tenant", schema).Msg("overdue sweep: tenant connection failed")
			continue
		}
		count, err := sw.svc.SweepOverdue(tctx)
		release()
		if err != nil {
			sw.logger.Error().Err(err).Str("tenant", schema).Msg("overdue sweep failed")
			continue
		}
		if count > 0 {
			sw.logger.Info().Str("tenant", schema).Int("tasks", count).Msg("tasks marked overdue")
		}
	}
}
