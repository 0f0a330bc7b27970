package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the idle sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

var scheduleParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Sweeper periodically closes idle sessions.
type Sweeper struct {
	pool        *Pool
	cron        *cron.Cron
	idleTimeout time.Duration
	logger      *slog.Logger
}

// NewSweeper schedules pool sweeps. An empty schedule uses
// DefaultSweepSchedule; a zero idleTimeout uses the pool default.
func NewSweeper(pool *Pool, schedule string, idleTimeout time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s := &Sweeper{
		pool:        pool,
		cron:        cron.New(cron.WithParser(scheduleParser)),
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "session_sweeper"),
	}
	s.cron.Schedule(sched, cron.FuncJob(s.run))
	return s, nil
}

// Start begins running sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish or ctx
// to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	closed, err := s.pool.Sweep(ctx, s.idleTimeout)
	if err != nil {
		s.logger.Warn("session sweep failed", "error", err, "closed", closed)
		return
	}
	if closed > 0 {
		s.logger.Info("closed idle browser sessions", "count", closed)
	}
}
