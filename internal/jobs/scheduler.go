package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"authgate/internal/config"
	"authgate/internal/metrics"
)

const trimSchedule = "0 30 * * * *"

type SessionPurger interface {
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
}

type StreamTrimmer interface {
	Trim(ctx context.Context) (int64, error)
}

// Scheduler runs the API's housekeeping: purging long soft-deleted sessions
// and trimming the mail stream.
type Scheduler struct {
	cron       *cron.Cron
	sessions   SessionPurger
	outbox     StreamTrimmer
	metrics    *metrics.Metrics
	purgeAfter time.Duration
	schedule   string
	now        func() time.Time
	log        zerolog.Logger
}

func NewScheduler(sessions SessionPurger, outbox StreamTrimmer, m *metrics.Metrics, cfg config.SessionsConfig, log zerolog.Logger) *Scheduler {
	purgeAfter := cfg.PurgeAfter
	if purgeAfter <= 0 {
		purgeAfter = 30 * 24 * time.Hour
	}
	schedule := cfg.PurgeSchedule
	if schedule == "" {
		schedule = "0 0 * * * *"
	}
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		sessions:   sessions,
		outbox:     outbox,
		metrics:    m,
		purgeAfter: purgeAfter,
		schedule:   schedule,
		now:        time.Now,
		log:        log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.purgeSessions(context.Background()) }); err != nil {
		return err
	}
	if s.outbox != nil {
		if _, err := s.cron.AddFunc(trimSchedule, func() { s.trimOutbox(context.Background()) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) purgeSessions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	before := s.now().Add(-s.purgeAfter)
	n, err := s.sessions.PurgeDeleted(ctx, before)
	if err != nil {
		s.log.Error().Err(err).Msg("purge sessions failed")
		return
	}
	s.metrics.SessionsPurged(n)
	if n > 0 {
		s.log.Info().Int64("purged", n).Time("before", before).Msg("purged deleted sessions")
	}
}

func (s *Scheduler) trimOutbox(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := s.outbox.Trim(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("trim mail stream failed")
		return
	}
	if n > 0 {
		s.log.Debug().Int64("trimmed", n).Msg("trimmed mail stream")
	}
}
