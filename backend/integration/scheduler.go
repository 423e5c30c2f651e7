// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds a single scheduled run.
const jobTimeout = time.Minute

// Scheduler runs the periodic maintenance jobs of an Engine.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
}

// NewScheduler registers replica sync and outbox cleanup. An empty schedule
// disables that job.
func NewScheduler(e *Engine, syncSpec, cleanupSpec string) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		engine: e,
	}

	if syncSpec != "" {
		if _, err := s.cron.AddFunc(syncSpec, s.syncReplica); err != nil {
			return nil, fmt.Errorf("schedule replica sync %q: %w", syncSpec, err)
		}
	}
	if cleanupSpec != "" {
		if _, err := s.cron.AddFunc(cleanupSpec, s.cleanup); err != nil {
			return nil, fmt.Errorf("schedule outbox cleanup %q: %w", cleanupSpec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) syncReplica() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	applied, err := s.engine.SyncReplica(ctx)
	if err != nil {
		s.engine.log.Warn().Err(err).Msg("replica sync")
		return
	}
	if applied > 0 {
		s.engine.log.Info().Int("applied", applied).Msg("replica sync applied remote changes")
	}
}

func (s *Scheduler) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.engine.CleanupOutbox(ctx); err != nil {
		s.engine.log.Warn().Err(err).Msg("outbox cleanup")
	}
	s.engine.ResetRateLimits()
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}
