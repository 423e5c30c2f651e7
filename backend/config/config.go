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

// Package config loads service settings from defaults, an optional TOML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Kafka struct {
	Brokers     []string
	Topic       string
	GroupID     string
	OutboxTopic string
}

type Config struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	// RedisAddr is host:port; empty disables the replica, outbox and events.
	RedisAddr string

	JWTSecret      string
	JWTIssuer      string
	Port           string
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int

	// IdentityKey is the hex encoded long-term X25519 private key.
	IdentityKey         string
	LegacyGroupsEnabled bool

	Kafka Kafka

	ReplicaSyncSchedule   string
	OutboxCleanupSchedule string

	LogLevel string
	LogJSON  bool
}

func Default() Config {
	return Config{
		Driver:     DriverSQLite,
		SQLitePath: "efgroups.sqlite",
		JWTIssuer:  "efchat",
		Port:       "8081",
		AllowedOrigins: []string{
			"https://efchat.net",
			"https://app.efchat.net",
			"http://localhost:3000",
		},
		RateLimit:             20,
		RateBurst:             40,
		LegacyGroupsEnabled:   true,
		Kafka:                 Kafka{GroupID: "efgroups"},
		ReplicaSyncSchedule:   "@every 30s",
		OutboxCleanupSchedule: "@every 10m",
		LogLevel:              "info",
	}
}

type fileConfig struct {
	Driver                string   `toml:"driver"`
	SQLitePath            string   `toml:"sqlite_path"`
	DatabaseURL           string   `toml:"database_url"`
	RedisAddr             string   `toml:"redis_addr"`
	JWTSecret             string   `toml:"jwt_secret"`
	JWTIssuer             string   `toml:"jwt_issuer"`
	Port                  string   `toml:"port"`
	AllowedOrigins        []string `toml:"allowed_origins"`
	RateLimit             float64  `toml:"rate_limit"`
	RateBurst             int      `toml:"rate_burst"`
	IdentityKey           string   `toml:"identity_key"`
	LegacyGroupsEnabled   bool     `toml:"legacy_groups_enabled"`
	KafkaBrokers          []string `toml:"kafka_brokers"`
	KafkaTopic            string   `toml:"kafka_topic"`
	KafkaGroupID          string   `toml:"kafka_group_id"`
	KafkaOutboxTopic      string   `toml:"kafka_outbox_topic"`
	ReplicaSyncSchedule   string   `toml:"replica_sync_schedule"`
	OutboxCleanupSchedule string   `toml:"outbox_cleanup_schedule"`
	LogLevel              string   `toml:"log_level"`
	LogJSON               bool     `toml:"log_json"`
}

// Load applies path (when non-empty) and then the environment on top of the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	setString := func(key, val string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(val)
		}
	}
	setString("driver", raw.Driver, &c.Driver)
	setString("sqlite_path", raw.SQLitePath, &c.SQLitePath)
	setString("database_url", raw.DatabaseURL, &c.DatabaseURL)
	setString("redis_addr", raw.RedisAddr, &c.RedisAddr)
	setString("jwt_secret", raw.JWTSecret, &c.JWTSecret)
	setString("jwt_issuer", raw.JWTIssuer, &c.JWTIssuer)
	setString("port", raw.Port, &c.Port)
	setString("identity_key", raw.IdentityKey, &c.IdentityKey)
	setString("kafka_topic", raw.KafkaTopic, &c.Kafka.Topic)
	setString("kafka_group_id", raw.KafkaGroupID, &c.Kafka.GroupID)
	setString("kafka_outbox_topic", raw.KafkaOutboxTopic, &c.Kafka.OutboxTopic)
	setString("replica_sync_schedule", raw.ReplicaSyncSchedule, &c.ReplicaSyncSchedule)
	setString("outbox_cleanup_schedule", raw.OutboxCleanupSchedule, &c.OutboxCleanupSchedule)
	setString("log_level", raw.LogLevel, &c.LogLevel)

	if meta.IsDefined("allowed_origins") {
		c.AllowedOrigins = normalizeList(raw.AllowedOrigins)
	}
	if meta.IsDefined("kafka_brokers") {
		c.Kafka.Brokers = normalizeList(raw.KafkaBrokers)
	}
	if meta.IsDefined("rate_limit") {
		c.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		c.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("legacy_groups_enabled") {
		c.LegacyGroupsEnabled = raw.LegacyGroupsEnabled
	}
	if meta.IsDefined("log_json") {
		c.LogJSON = raw.LogJSON
	}
	return nil
}

// applyEnv honours the variables the service has always read. A
// DATABASE_URL selects the postgres driver.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("DATABASE_URL"); ok {
		c.DatabaseURL = v
		c.Driver = DriverPostgres
	}
	if v, ok := get("REDIS_URL"); ok {
		c.RedisAddr = v
	}
	if v, ok := get("JWT_SECRET"); ok {
		c.JWTSecret = v
	}
	if v, ok := get("JWT_ISSUER"); ok {
		c.JWTIssuer = v
	}
	if v, ok := get("PORT"); ok {
		c.Port = v
	}
	if v, ok := get("EFGROUPS_IDENTITY_KEY"); ok {
		c.IdentityKey = v
	}
	if v, ok := get("EFGROUPS_SQLITE_PATH"); ok {
		c.SQLitePath = v
	}
	if v, ok := get("EFGROUPS_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = normalizeList(strings.Split(v, ","))
	}
	if v, ok := get("EFGROUPS_LEGACY_GROUPS_ENABLED"); ok {
		c.LegacyGroupsEnabled = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Driver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IdentityKey == "" {
		errs = append(errs, errors.New("identity_key is required"))
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		errs = append(errs, errors.New("rate_limit and rate_burst must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka_topic is required when kafka_brokers is set"))
	}
	return errors.Join(errs...)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
