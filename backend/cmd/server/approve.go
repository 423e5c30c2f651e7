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

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/efchatnet/efgroups/backend/storage"
)

func newApproveCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <profile-id>...",
		Short: "Mark profiles as approved contacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			err = store.WithTx(cmd.Context(), func(ctx context.Context, tx storage.Tx) error {
				for _, id := range args {
					if err := tx.ApproveContact(ctx, id); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			log.Info().Strs("profile_ids", args).Msg("contacts approved")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "approved %d contact(s)\n", len(args))
			return nil
		},
	}
}
