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

// Package processor applies decoded legacy group control messages to the
// membership store and the authoritative config.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/efchatnet/efgroups/backend/configsync"
	"github.com/efchatnet/efgroups/backend/keypairs"
	"github.com/efchatnet/efgroups/backend/lifecycle"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

var (
	ErrProtocolDisabled = errors.New("legacy groups are disabled")
	ErrUnrecognizedKind = errors.New("unrecognized control message kind")
)

// Outcome describes what happened to a message that did not fail.
type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeStale         Outcome = "stale"
	OutcomePredatesGroup Outcome = "predates_group"
	OutcomeUnauthorized  Outcome = "unauthorized"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeCryptoFailure Outcome = "crypto_failure"
	OutcomeNoGroup       Outcome = "no_group"
	OutcomeDropped       Outcome = "dropped"
	OutcomeIgnored       Outcome = "ignored"
)

type Result struct {
	Outcome Outcome `json:"outcome"`
	// Recorded is set when a transcript record was appended.
	Recorded bool `json:"recorded"`
	// KeyStored is set when a novel key pair was inserted.
	KeyStored bool `json:"key_stored"`
}

type Config struct {
	Store       storage.Store
	Reconciler  *configsync.Reconciler
	Effects     lifecycle.Effects
	Distributor lifecycle.KeyDistributor
	Identity    keypairs.Identity
	Logger      zerolog.Logger
	// Now defaults to time.Now.
	Now     func() time.Time
	Enabled bool
}

type Processor struct {
	store       storage.Store
	config      *configsync.Reconciler
	gate        configsync.Gate
	effects     lifecycle.Effects
	distributor lifecycle.KeyDistributor
	identity    keypairs.Identity
	localID     string
	log         zerolog.Logger
	now         func() time.Time
	enabled     bool
	locks       groupLocks
}

func New(cfg Config) *Processor {
	p := &Processor{
		store:       cfg.Store,
		config:      cfg.Reconciler,
		gate:        configsync.NewGate(cfg.Reconciler),
		effects:     cfg.Effects,
		distributor: cfg.Distributor,
		identity:    cfg.Identity,
		localID:     cfg.Identity.ID(),
		log:         cfg.Logger.With().Str("component", "processor").Logger(),
		now:         cfg.Now,
		enabled:     cfg.Enabled,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.effects == nil {
		p.effects = lifecycle.Nop{}
	}
	if p.distributor == nil {
		p.distributor = lifecycle.NopDistributor{}
	}
	return p
}

// LocalID is the profile id of the local party.
func (p *Processor) LocalID() string { return p.localID }

// Process applies msg in a single transaction. Only a disabled protocol, an
// unknown payload or a storage failure produce an error; everything else is
// reported through the Result. Config updates and lifecycle effects run
// after the transaction commits, before the next message for the same group
// is applied.
func (p *Processor) Process(ctx context.Context, msg models.ControlMessage) (Result, error) {
	if !p.enabled {
		return Result{}, ErrProtocolDisabled
	}

	unlock := p.locks.lock(lockKey(msg))
	defer unlock()

	var q lifecycle.Queue
	var res Result
	err := p.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, err = p.dispatch(ctx, tx, &q, msg)
		return err
	})
	if err != nil {
		q.Discard()
		return Result{}, err
	}
	q.Flush(context.WithoutCancel(ctx))

	p.log.Debug().
		Str("thread_id", msg.ThreadID).
		Str("sender", msg.Sender).
		Str("kind", string(msg.Payload.Kind())).
		Str("outcome", string(res.Outcome)).
		Bool("recorded", res.Recorded).
		Msg("control message processed")
	return res, nil
}

func (p *Processor) dispatch(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, msg models.ControlMessage) (Result, error) {
	switch payload := msg.Payload.(type) {
	case models.New:
		return p.handleNew(ctx, tx, q, msg, payload, false, false)
	case models.KeyPairRotation:
		return p.handleKeyPairRotation(ctx, tx, q, msg, payload)
	case models.NameChange:
		return p.processIfValid(ctx, tx, q, msg, p.nameChange(payload))
	case models.MembersAdded:
		return p.processIfValid(ctx, tx, q, msg, p.membersAdded(payload))
	case models.MembersRemoved:
		return p.processIfValid(ctx, tx, q, msg, p.membersRemoved(payload))
	case models.MemberLeft:
		return p.processIfValid(ctx, tx, q, msg, p.memberLeft())
	case models.KeyPairRequest:
		// accepted on the wire, never acted upon
		return Result{Outcome: OutcomeIgnored}, nil
	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnrecognizedKind, msg.Payload)
	}
}

func (p *Processor) timestamp(msg models.ControlMessage) int64 {
	if msg.SentTimestampMs > 0 {
		return msg.SentTimestampMs
	}
	return p.now().UnixMilli()
}

// permits checks the gate against both the stored change time, locked for
// the rest of tx, and the in-memory config.
func (p *Processor) permits(ctx context.Context, tx storage.Tx, threadID string, tsMs int64) (bool, error) {
	stored, err := tx.LockConfigTimestamp(ctx, threadID, string(configsync.DomainGroupInfo))
	if err != nil {
		return false, err
	}
	return p.gate.PermitsAfter(threadID, configsync.DomainGroupInfo, tsMs, stored), nil
}

// advance records a change time in tx. Zero leaves the stored time alone.
func (p *Processor) advance(ctx context.Context, tx storage.Tx, threadID string, tsMs int64) error {
	if tsMs <= 0 {
		return nil
	}
	return tx.AdvanceConfigTimestamp(ctx, threadID, string(configsync.DomainGroupInfo), tsMs)
}

// pushSnapshot persists the change time in tx and queues the config update
// for after commit.
func (p *Processor) pushSnapshot(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, threadID string, snap configsync.Snapshot, changeTsMs int64) error {
	if err := p.advance(ctx, tx, threadID, changeTsMs); err != nil {
		return err
	}
	q.Add(func(ctx context.Context) {
		p.config.ApplySnapshot(ctx, threadID, snap, changeTsMs)
	})
	return nil
}

func (p *Processor) removeConfig(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, threadID string, tsMs int64) error {
	if err := p.advance(ctx, tx, threadID, tsMs); err != nil {
		return err
	}
	q.Add(func(ctx context.Context) {
		p.config.Remove(ctx, threadID, tsMs)
	})
	return nil
}
