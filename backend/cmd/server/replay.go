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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/processor"
)

// maxReplayLine bounds one JSONL record.
const maxReplayLine = 4 << 20

type replayer interface {
	Process(ctx context.Context, msg models.ControlMessage) (processor.Result, error)
}

// replaySummary counts outcomes by name. Lines that could not be decoded
// or applied are counted under "error".
type replaySummary map[string]int

func newReplayCmd(root *rootOptions) *cobra.Command {
	var stopOnError bool

	cmd := &cobra.Command{
		Use:   "replay <messages.jsonl>",
		Short: "Apply a file of decoded control messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			summary, err := replay(cmd.Context(), a.engine.Processor(), f, stopOnError, log)
			printSummary(cmd.OutOrStdout(), summary)
			return err
		},
	}
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "Abort on the first line that fails")
	return cmd
}

func replay(ctx context.Context, proc replayer, r io.Reader, stopOnError bool, log zerolog.Logger) (replaySummary, error) {
	summary := replaySummary{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var msg models.ControlMessage
		err := json.Unmarshal(raw, &msg)
		if err == nil {
			var res processor.Result
			res, err = proc.Process(ctx, msg)
			if err == nil {
				summary[string(res.Outcome)]++
				continue
			}
		}

		summary["error"]++
		log.Warn().Err(err).Int("line", line).Msg("replay line failed")
		if stopOnError {
			return summary, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read messages: %w", err)
	}
	return summary, nil
}

func printSummary(w io.Writer, s replaySummary) {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%-15s %d\n", k, s[k])
	}
}
