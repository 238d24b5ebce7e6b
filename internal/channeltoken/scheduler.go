package channeltoken

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"line-flex-bridge/internal/common/logging"
)

// Purger is implemented by document stores that keep expired rows around
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler runs background token maintenance on cron schedules: prewarming
// the cache so a webhook never waits on the token endpoint, and purging
// expired documents from SQL stores.
type Scheduler struct {
	cron       *cron.Cron
	jobTimeout time.Duration
	logger     logging.Logger
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a standard 5-field spec or a descriptor such as "@every 6h"
func ValidateSchedule(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

func NewScheduler(jobTimeout time.Duration, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Scheduler{
		cron:       cron.New(cron.WithParser(specParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// AddPrewarm fetches a token from source on every tick
func (s *Scheduler) AddPrewarm(spec string, source TokenSource) error {
	_, err := s.cron.AddFunc(spec, func() {
		_ = s.Prewarm(context.Background(), source)
	})
	if err != nil {
		return fmt.Errorf("invalid prewarm schedule %q: %w", spec, err)
	}
	return nil
}

// AddPurge removes expired documents from purger on every tick
func (s *Scheduler) AddPurge(spec string, purger Purger) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		purged, err := purger.PurgeExpired(ctx)
		if err != nil {
			s.logger.Error("Failed to purge expired token documents", err)
			return
		}
		if purged > 0 {
			s.logger.Debug("Purged expired token documents", logging.Field{Key: "count", Value: purged})
		}
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", spec, err)
	}
	return nil
}

// Prewarm runs one prewarm pass. Failures are logged and returned.
func (s *Scheduler) Prewarm(ctx context.Context, source TokenSource) error {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	if _, err := source.Token(ctx); err != nil {
		s.logger.Error("Channel access token prewarm failed", err)
		return err
	}
	s.logger.Debug("Channel access token prewarmed")
	return nil
}

// Jobs returns the number of registered jobs
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
