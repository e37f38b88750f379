// SPDX-License-Identifier: Apache-2.0

// Package scheduler implements the periodic refresh loop for JSONB-path
// sources: a single-threaded cooperative scheduler that re-runs the
// snapshot pipeline on a fixed interval, guarded by a PostgreSQL advisory
// lock so overlapping ticks never run concurrently.
package scheduler

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/serenorg/seren-replicator/pkg/db"
	"github.com/serenorg/seren-replicator/pkg/snapshot"
)

// DefaultInterval is the refresh interval used when none is configured.
const DefaultInterval = 24 * time.Hour

// TickOutcome records what happened on one scheduler tick, for status
// reporting.
type TickOutcome struct {
	StartedAt time.Time
	Elapsed   time.Duration
	Report    *snapshot.RunReport
	Overlap   bool
	Err       error
}

// Scheduler runs Pipeline on Interval, serialized across process restarts
// by an advisory lock keyed on Namespace (the JSONB schema namespace the
// pipeline writes into).
type Scheduler struct {
	Pipeline  *snapshot.JSONBPipeline
	Target    db.DB
	Interval  time.Duration
	Namespace string
	Logger    *log.Logger

	mu           sync.Mutex
	lastOutcome  TickOutcome
	overlapCount int
	nextTick     time.Time
}

func (s *Scheduler) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Scheduler) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return DefaultInterval
}

// advisoryKey derives a stable bigint lock key from Namespace, so the same
// JSONB schema always serializes against the same advisory lock regardless
// of which process or host is running the scheduler.
func advisoryKey(namespace string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	return int64(h.Sum64())
}

// Run blocks, ticking on Interval until ctx is cancelled. Cancellation is
// cooperative: an in-flight tick is allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.interval())
	defer timer.Stop()
	s.setNextTick(time.Now().Add(s.interval()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.interval())
			s.setNextTick(time.Now().Add(s.interval()))
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	key := advisoryKey(s.Namespace)

	acquired, err := tryAdvisoryLock(ctx, s.Target, key)
	if err != nil {
		s.recordOutcome(TickOutcome{StartedAt: start, Elapsed: time.Since(start), Err: err})
		s.logger().Error("refresh tick failed to acquire advisory lock", "error", err)
		return
	}
	if !acquired {
		s.mu.Lock()
		s.overlapCount++
		s.mu.Unlock()
		s.logger().Warn("refresh tick overlapped with a still-running tick, skipping", "namespace", s.Namespace)
		s.recordOutcome(TickOutcome{StartedAt: start, Elapsed: time.Since(start), Overlap: true})
		return
	}
	defer func() {
		if err := advisoryUnlock(context.Background(), s.Target, key); err != nil {
			s.logger().Error("releasing advisory lock failed", "error", err)
		}
	}()

	report, err := s.Pipeline.Run(ctx)
	outcome := TickOutcome{StartedAt: start, Elapsed: time.Since(start), Report: report, Err: err}
	s.recordOutcome(outcome)

	if err != nil {
		s.logger().Error("refresh tick failed", "error", err)
		return
	}
	if report.Failed() {
		s.logger().Warn("refresh tick completed with failures", "elapsed", outcome.Elapsed)
		return
	}
	s.logger().Info("refresh tick committed", "elapsed", outcome.Elapsed)
}

func (s *Scheduler) recordOutcome(o TickOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOutcome = o
}

func (s *Scheduler) setNextTick(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTick = t
}

// Status reports the scheduler's in-process state (the status subcommand
// does not read it):
// when the next tick is due, the outcome of the last completed tick, and
// how many ticks have been skipped for overlapping with a prior one.
type Status struct {
	NextTick     time.Time
	LastOutcome  TickOutcome
	OverlapCount int
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{NextTick: s.nextTick, LastOutcome: s.lastOutcome, OverlapCount: s.overlapCount}
}

func tryAdvisoryLock(ctx context.Context, target db.DB, key int64) (bool, error) {
	var acquired bool
	err := target.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired)
	return acquired, err
}

func advisoryUnlock(ctx context.Context, target db.DB, key int64) error {
	var released bool
	return target.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&released)
}
