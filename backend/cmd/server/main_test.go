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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/config"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/processor"
	"github.com/efchatnet/efgroups/backend/storage"
	"github.com/efchatnet/efgroups/backend/storage/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeygen_JSON(t *testing.T) {
	out, err := execute(t, "keygen", "--json")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, strings.HasPrefix(got["profile_id"], "05"))
	assert.Len(t, got["identity_key"], 64)
}

func TestApprove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.sqlite")
	t.Setenv("DATABASE_URL", "")

	out, err := execute(t, "--sqlite-path", path, "--log-level", "error", "approve", "05aa", "05bb")
	require.NoError(t, err)
	assert.Contains(t, out, "approved 2 contact(s)")

	store, err := sqlite.OpenStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	err = store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		for _, id := range []string{"05aa", "05bb"} {
			ok, err := tx.IsApprovedContact(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok, id)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestApprove_RequiresArgs(t *testing.T) {
	_, err := execute(t, "approve")
	require.Error(t, err)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Driver = "mysql"
	_, err := openStore(context.Background(), cfg)
	require.Error(t, err)
}

type fakeReplayer struct {
	outcomes []processor.Outcome
	errs     []error
	calls    int
}

func (f *fakeReplayer) Process(context.Context, models.ControlMessage) (processor.Result, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return processor.Result{Outcome: f.outcomes[i]}, err
}

func TestReplay(t *testing.T) {
	input := strings.Join([]string{
		`{"thread_id":"05g","sender":"05a","sent_timestamp_ms":1,"kind":"name_change","payload":{"name":"x"}}`,
		``,
		`not json`,
		`{"thread_id":"05g","sender":"05a","sent_timestamp_ms":2,"kind":"member_left"}`,
		`{"thread_id":"05g","sender":"05b","sent_timestamp_ms":3,"kind":"member_left"}`,
	}, "\n")

	t.Run("continues past failures", func(t *testing.T) {
		proc := &fakeReplayer{
			outcomes: []processor.Outcome{processor.OutcomeApplied, processor.OutcomeStale, ""},
			errs:     []error{nil, nil, errors.New("disk full")},
		}
		summary, err := replay(context.Background(), proc, strings.NewReader(input), false, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, replaySummary{"applied": 1, "stale": 1, "error": 2}, summary)

		var out bytes.Buffer
		printSummary(&out, summary)
		assert.True(t, strings.HasPrefix(out.String(), "applied"))
	})

	t.Run("stop on error", func(t *testing.T) {
		proc := &fakeReplayer{outcomes: []processor.Outcome{processor.OutcomeApplied}}
		summary, err := replay(context.Background(), proc, strings.NewReader(input), true, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 3")
		assert.Equal(t, 1, proc.calls)
		assert.Equal(t, replaySummary{"applied": 1, "error": 1}, summary)
	})
}
