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

// Package kafka ingests decoded control messages from a Kafka topic and
// publishes outbound key distributions to another.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	skafka "github.com/segmentio/kafka-go"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/processor"
)

// Reader is the subset of kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (skafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

type Processor interface {
	Process(ctx context.Context, msg models.ControlMessage) (processor.Result, error)
}

// Consumer applies messages strictly in partition order. An offset is
// committed once its message has been applied or rejected for good; storage
// failures leave it uncommitted so it is redelivered.
type Consumer struct {
	reader  Reader
	proc    Processor
	log     zerolog.Logger
	backoff time.Duration
}

func NewReader(brokers []string, topic, groupID string) *skafka.Reader {
	return skafka.NewReader(skafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func NewConsumer(reader Reader, proc Processor, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader:  reader,
		proc:    proc,
		log:     log.With().Str("component", "kafka_consumer").Logger(),
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().Msg("consumer started")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Msg("fetch message")
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, m); err != nil {
			c.log.Error().Err(err).Int64("offset", m.Offset).Int("partition", m.Partition).Msg("processing failed, will retry")
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Int64("offset", m.Offset).Msg("commit offset")
		}
	}
}

// handle returns an error only for failures worth retrying.
func (c *Consumer) handle(ctx context.Context, m skafka.Message) error {
	var msg models.ControlMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		c.log.Warn().Err(err).Int64("offset", m.Offset).Msg("skipping undecodable message")
		return nil
	}

	res, err := c.proc.Process(ctx, msg)
	switch {
	case errors.Is(err, processor.ErrUnrecognizedKind), errors.Is(err, processor.ErrProtocolDisabled):
		c.log.Warn().Err(err).Str("thread_id", msg.ThreadID).Msg("skipping message")
		return nil
	case err != nil:
		return err
	}

	c.log.Debug().
		Str("thread_id", msg.ThreadID).
		Str("kind", string(msg.Payload.Kind())).
		Str("outcome", string(res.Outcome)).
		Msg("message consumed")
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
