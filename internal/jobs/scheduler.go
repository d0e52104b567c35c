// Package jobs runs the daily rollover and the claim history pruning on a
// cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"uticoins/internal/model"
)

// Maintainer is the part of the reward service the jobs drive.
type Maintainer interface {
	Rollover(ctx context.Context) (*model.DailyCode, int64, error)
	Prune(ctx context.Context, retentionDays int) (int64, error)
}

// Config holds the job schedule. Specs use the standard five-field cron
// syntax evaluated in Location.
type Config struct {
	Location      *time.Location
	RolloverSpec  string
	PruneSpec     string
	RetentionDays int
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
	svc  Maintainer
	cfg  Config
}

// NewScheduler validates the cron schedules and registers both jobs. Nothing runs
// until Start.
func NewScheduler(ctx context.Context, svc Maintainer, cfg Config) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Scheduler{
		cron: cron.New(cron.WithLocation(cfg.Location)),
		svc:  svc,
		cfg:  cfg,
	}

	if _, err := s.cron.AddFunc(cfg.RolloverSpec, func() { s.RunRollover(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid rollover schedule %q: %w", cfg.RolloverSpec, err)
	}
	if cfg.PruneSpec != "" {
		if _, err := s.cron.AddFunc(cfg.PruneSpec, func() { s.RunPrune(ctx) }); err != nil {
			return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSpec, err)
		}
	}
	return s, nil
}

// Start runs a rollover immediately, so a process started after 20:00 still
// issues the day's code and resets broken streaks, then starts the cron.
func (s *Scheduler) Start(ctx context.Context) {
	s.RunRollover(ctx)
	s.cron.Start()
	log.Info().
		Str("location", s.cfg.Location.String()).
		Str("rollover", s.cfg.RolloverSpec).
		Str("prune", s.cfg.PruneSpec).
		Msg("Job scheduler started")
}

// Stop stops the cron and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("Job scheduler stopped")
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunRollover issues the current code and zeroes broken streaks.
func (s *Scheduler) RunRollover(ctx context.Context) {
	code, reset, err := s.svc.Rollover(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Rollover failed")
		return
	}
	log.Info().
		Str("code_date", code.Date.Format(time.DateOnly)).
		Int64("streaks_reset", reset).
		Msg("Rollover complete")
}

// RunPrune deletes claim history beyond the retention horizon.
func (s *Scheduler) RunPrune(ctx context.Context) {
	n, err := s.svc.Prune(ctx, s.cfg.RetentionDays)
	if err != nil {
		log.Error().Err(err).Msg("Prune failed")
		return
	}
	log.Info().Int64("deleted", n).Int("retention_days", s.cfg.RetentionDays).Msg("Claim history pruned")
}
