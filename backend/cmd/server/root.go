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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/efchatnet/efgroups/backend/config"
	"github.com/efchatnet/efgroups/backend/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
	sqlitePath string
	enabled    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "efgroups",
		Short:         "Legacy closed group control message engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a TOML config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&opts.logJSON, "log-json", false, "Emit JSON logs")
	flags.StringVar(&opts.sqlitePath, "sqlite-path", "", "SQLite database path")
	flags.BoolVar(&opts.enabled, "legacy-groups", true, "Process legacy group control messages")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newReplayCmd(opts))
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newApproveCmd(opts))

	return rootCmd
}

// load resolves the config file and environment, then applies flags that
// were set explicitly on the command line.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}

	fs := cmd.Flags()
	overrideString(fs, "log-level", o.logLevel, &cfg.LogLevel)
	overrideString(fs, "sqlite-path", o.sqlitePath, &cfg.SQLitePath)
	if fs.Changed("log-json") {
		cfg.LogJSON = o.logJSON
	}
	if fs.Changed("legacy-groups") {
		cfg.LegacyGroupsEnabled = o.enabled
	}

	log := logging.New("efgroups", cfg.LogLevel, cfg.LogJSON)
	return cfg, log, nil
}

func overrideString(fs *pflag.FlagSet, name, val string, dst *string) {
	if fs.Changed(name) {
		*dst = val
	}
}
