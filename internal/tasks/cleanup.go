package tasks

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// PartSweeper removes partial uploads older than a cutoff.
type PartSweeper interface {
	SweepPartial(olderThan time.Duration) (int, error)
}

// UploadSweeper periodically clears abandoned partial uploads.
type UploadSweeper struct {
	store PartSweeper
	ttl   time.Duration
	cron  *cron.Cron
	log   zerolog.Logger
}

func NewUploadSweeper(store PartSweeper, ttl time.Duration, log zerolog.Logger) *UploadSweeper {
	return &UploadSweeper{
		store: store,
		ttl:   ttl,
		cron:  cron.New(),
		log:   log.With().Str("component", "sweeper").Logger(),
	}
}

// Start schedules the sweep. schedule accepts standard cron expressions and
// descriptors such as "@every 1h".
func (s *UploadSweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.Run); err != nil {
		return fmt.Errorf("schedule upload sweep %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", schedule).Dur("ttl", s.ttl).Msg("upload sweeper started")
	return nil
}

// Run performs a single sweep.
func (s *UploadSweeper) Run() {
	removed, err := s.store.SweepPartial(s.ttl)
	if err != nil {
		s.log.Error().Err(err).Int("removed", removed).Msg("upload sweep failed")
		return
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("abandoned uploads removed")
	}
}

// Stop waits for a running sweep to finish.
func (s *UploadSweeper) Stop() {
	<-s.cron.Stop().Done()
}
