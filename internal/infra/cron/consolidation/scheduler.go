// consolidation periodically turns the live time index of recent minute
// buckets into consolidated index objects, on the leader only.
package consolidation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/datahub/internal/domain/hub"
	"github.com/lloydmeta/datahub/internal/domain/leader"
	"github.com/lloydmeta/datahub/internal/domain/tracing"
)

// Consolidator is the part of hub.Hub the scheduler drives
type Consolidator interface {
	Consolidate(ctx context.Context, now time.Time, lookback time.Duration) (*hub.ConsolidationResult, error)
}

type Scheduler struct {
	cron         *cron.Cron
	consolidator Consolidator
	leader       leader.Checker
	tracer       tracing.Tracer
	schedule     string
	lookback     time.Duration

	mu      sync.Mutex
	entryId *cron.EntryID

	getUTC func() time.Time
}

// NewScheduler returns a Scheduler that runs on the given cron schedule
// (standard 5 field or descriptors like "@every 1m")
func NewScheduler(consolidator Consolidator, leader leader.Checker, tracer tracing.Tracer, schedule string, lookback time.Duration) *Scheduler {
	return &Scheduler{
		cron:         cron.New(cron.WithLocation(time.UTC), cron.WithLogger(zeroLogCronLogger{})),
		consolidator: consolidator,
		leader:       leader,
		tracer:       tracer,
		schedule:     schedule,
		lookback:     lookback,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start registers the job and starts the cron loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryId == nil {
		job := cron.NewChain(
			cron.Recover(zeroLogCronLogger{}),
			cron.SkipIfStillRunning(zeroLogCronLogger{}),
		).Then(cron.FuncJob(s.RunOnce))
		entryId, err := s.cron.AddJob(s.schedule, job)
		if err != nil {
			return InvalidSchedule{Schedule: s.schedule, Underlying: err}
		}
		s.entryId = &entryId
	}
	log.Info().Str("schedule", s.schedule).Dur("lookback", s.lookback).Msg("Starting index consolidation")
	s.cron.Start()
	return nil
}

// Stop stops scheduling and waits for a running pass to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	<-s.cron.Stop().Done()
	log.Info().Msg("Stopped index consolidation")
}

// RunOnce consolidates if this process is the leader
func (s *Scheduler) RunOnce() {
	if !s.leader.IsLeader() {
		log.Debug().Msg("Not the leader, skipping index consolidation")
		return
	}
	tx := s.tracer.BackgroundTx("index-consolidation")
	defer tx.End()
	result, err := s.consolidator.Consolidate(tx.Context(), s.getUTC(), s.lookback)
	if err != nil {
		log.Error().Err(err).Msg("Index consolidation failed")
		return
	}
	log.Info().
		Int("channels", result.Channels).
		Int("buckets", result.Buckets).
		Int("keys", result.Keys).
		Msg("Index consolidation done")
}

type InvalidSchedule struct {
	Schedule   string
	Underlying error
}

func (e InvalidSchedule) Error() string {
	return fmt.Sprintf("Invalid consolidation schedule [%s]: %v", e.Schedule, e.Underlying)
}

func (e InvalidSchedule) Unwrap() error {
	return e.Underlying
}

type zeroLogCronLogger struct {
}

func (z zeroLogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	if log.Debug().Enabled() {
		formatted := formatTimeValues(keysAndValues)
		log.Debug().Fields(formatted).Msg(msg)
	}
}

func (z zeroLogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if log.Error().Enabled() {
		formatted := formatTimeValues(keysAndValues)
		log.Error().Err(err).Fields(formatted).Msg(msg)
	}
}

// formatTimeValues formats any time.Time values as RFC3339 *and*
// returns the even-odd idx key-value pair slice as a map
func formatTimeValues(keysAndValues []interface{}) map[string]interface{} {
	formattedArgs := make(map[string]interface{}, len(keysAndValues)/2)
	for idx := 0; idx < len(keysAndValues); idx += 2 {
		var key string
		if s, ok := keysAndValues[idx].(string); ok {
			key = s
		} else {
			key = fmt.Sprint(keysAndValues[idx])
		}
		valueIdx := idx + 1
		if len(keysAndValues) > valueIdx {
			value := keysAndValues[valueIdx]
			if t, ok := value.(time.Time); ok {
				value = t.Format(time.RFC3339)
			}
			formattedArgs[key] = value
		}
	}
	return formattedArgs
}
