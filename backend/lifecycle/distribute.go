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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/efchatnet/efgroups/backend/keypairs"
	"github.com/efchatnet/efgroups/backend/models"
)

// KeyDistributor delivers a group key pair to members who do not have it.
type KeyDistributor interface {
	DistributeKeyPair(ctx context.Context, groupID string, kp models.KeyPair, recipients []string) error
}

// Outbox accepts control messages addressed to a single profile.
type Outbox interface {
	Send(ctx context.Context, recipient string, msg models.ControlMessage) error
}

// SealingDistributor seals the key pair to each recipient's long-term key
// and sends it as a key pair rotation on the one-to-one thread.
type SealingDistributor struct {
	localID string
	outbox  Outbox
	now     func() time.Time
}

func NewSealingDistributor(localID string, outbox Outbox) *SealingDistributor {
	return &SealingDistributor{localID: localID, outbox: outbox, now: time.Now}
}

// DistributeKeyPair attempts every recipient and joins the failures.
func (d *SealingDistributor) DistributeKeyPair(ctx context.Context, groupID string, kp models.KeyPair, recipients []string) error {
	var errs []error
	for _, recipient := range recipients {
		msg, err := d.rotationFor(groupID, kp, recipient)
		if err != nil {
			errs = append(errs, fmt.Errorf("seal key pair for %s: %w", recipient, err))
			continue
		}
		if err := d.outbox.Send(ctx, recipient, msg); err != nil {
			errs = append(errs, fmt.Errorf("send key pair to %s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

func (d *SealingDistributor) rotationFor(groupID string, kp models.KeyPair, recipient string) (models.ControlMessage, error) {
	wrapper, err := keypairs.SealWrapper(recipient, kp)
	if err != nil {
		return models.ControlMessage{}, err
	}
	return models.ControlMessage{
		ThreadID:        recipient,
		Sender:          d.localID,
		SentTimestampMs: d.now().UnixMilli(),
		Payload: models.KeyPairRotation{
			GroupID:  groupID,
			Wrappers: []models.KeyPairWrapper{wrapper},
		},
	}, nil
}

// NopDistributor drops every request.
type NopDistributor struct{}

func (NopDistributor) DistributeKeyPair(context.Context, string, models.KeyPair, []string) error {
	return nil
}
