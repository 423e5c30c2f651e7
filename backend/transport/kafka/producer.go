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

package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	skafka "github.com/segmentio/kafka-go"

	"github.com/efchatnet/efgroups/backend/models"
)

// Writer is the subset of kafka.Writer the outbox needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// Outbox publishes outbound control messages keyed by recipient, so all
// messages for one recipient land on the same partition.
type Outbox struct {
	writer Writer
}

func NewWriter(brokers []string, topic string) *skafka.Writer {
	return &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireAll,
	}
}

func NewOutbox(w Writer) *Outbox {
	return &Outbox{writer: w}
}

func (o *Outbox) Send(ctx context.Context, recipient string, msg models.ControlMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", recipient, err)
	}
	if err := o.writer.WriteMessages(ctx, skafka.Message{Key: []byte(recipient), Value: value}); err != nil {
		return fmt.Errorf("publish message for %s: %w", recipient, err)
	}
	return nil
}

func (o *Outbox) Close() error {
	return o.writer.Close()
}
