// Package config defines the oddsledger configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then overridden by ODDSLEDGER_* environment variables.
type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	OddsAPI    OddsAPIConfig    `toml:"oddsapi"`
	Ingest     IngestConfig     `toml:"ingest"`
	Backfill   BackfillConfig   `toml:"backfill"`
	Scores     ScoresConfig     `toml:"scores"`
	Replay     ReplayConfig     `toml:"replay"`
	Correction CorrectionConfig `toml:"correction"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// StorageConfig selects the store implementation.
type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN              string   `toml:"dsn"`
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Database         string   `toml:"database"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	SSLMode          string   `toml:"ssl_mode"`
	PoolMaxConns     int      `toml:"pool_max_conns"`
	PoolMinConns     int      `toml:"pool_min_conns"`
	StatementTimeout duration `toml:"statement_timeout"`
	RunMigrations    bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Without Redis the process
// runs with local locks, no cache and no cross-process events.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	URL          string   `toml:"url"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	OddsCacheTTL duration `toml:"odds_cache_ttl"`
}

// S3Config holds object storage parameters for raw response and retention
// archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	ArchiveRaw     bool   `toml:"archive_raw"`
}

// OddsAPIConfig holds the upstream odds provider settings.
type OddsAPIConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Sport      string   `toml:"sport"`
	Regions    []string `toml:"regions"`
	Markets    []string `toml:"markets"`
	Bookmakers []string `toml:"bookmakers"`
	Timeout    duration `toml:"timeout"`
	// RequestsPerMinute caps upstream calls across all processes.
	RequestsPerMinute int `toml:"requests_per_minute"`
	// QuotaWarnBelow triggers a quota_low notification.
	QuotaWarnBelow int `toml:"quota_warn_below"`
}

// IngestConfig controls live odds polling.
type IngestConfig struct {
	// Interval is used when schedule.live_odds is empty.
	Interval duration `toml:"interval"`
}

// BackfillConfig controls a historical backfill run.
type BackfillConfig struct {
	// Start and End are dates (YYYY-MM-DD). When empty, Seasons is used.
	Start    string   `toml:"start"`
	End      string   `toml:"end"`
	Seasons  []int    `toml:"seasons"`
	Interval duration `toml:"interval"`
	// Delay pauses between historical calls.
	Delay  duration `toml:"delay"`
	DryRun bool     `toml:"dry_run"`
}

// ScoresConfig controls the final-score integration.
type ScoresConfig struct {
	URL         string   `toml:"url"`
	Seasons     []int    `toml:"seasons"`
	TeamMapPath string   `toml:"team_map_path"`
	MatchWindow duration `toml:"match_window"`
	DryRun      bool     `toml:"dry_run"`
}

// ReplayConfig selects the archived raw responses re-ingested by replay mode.
type ReplayConfig struct {
	Prefix string `toml:"prefix"`
}

// CorrectionConfig names the final score written by correct mode. Scores
// default to -1 so an omitted one fails validation.
type CorrectionConfig struct {
	GameID    string `toml:"game_id"`
	HomeScore int    `toml:"home_score"`
	AwayScore int    `toml:"away_score"`
}

// ArbitrageConfig controls the cross-bookmaker arbitrage scanner.
type ArbitrageConfig struct {
	Enabled bool `toml:"enabled"`
	// Strategies names the strategies to run; empty runs all of them.
	Strategies   []string `toml:"strategies"`
	MinMarginPct float64  `toml:"min_margin_pct"`
	// Cooldown suppresses repeat alerts for the same opportunity.
	Cooldown duration `toml:"cooldown"`
}

// ScheduleConfig holds cron specs (seconds field first, or descriptors such
// as "@every 10m"). An empty spec disables the job.
type ScheduleConfig struct {
	Timezone      string   `toml:"timezone"`
	LiveOdds      string   `toml:"live_odds"`
	Scores        string   `toml:"scores"`
	Grading       string   `toml:"grading"`
	Archive       string   `toml:"archive"`
	RetentionDays int      `toml:"retention_days"`
	LockTTL       duration `toml:"lock_ttl"`
}

// duration wraps time.Duration for TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required in the X-API-Key header.
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	QueryMaxRows       int      `toml:"query_max_rows"`
	QueryTimeout       duration `toml:"query_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:             "localhost",
			Port:             5432,
			Database:         "oddsledger",
			User:             "postgres",
			SSLMode:          "disable",
			PoolMaxConns:     10,
			PoolMinConns:     2,
			StatementTimeout: duration{30 * time.Second},
			RunMigrations:    true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			OddsCacheTTL: duration{48 * time.Hour},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "oddsledger",
			ForcePathStyle: true,
			ArchiveRaw:     true,
		},
		OddsAPI: OddsAPIConfig{
			BaseURL:           "https://api.the-odds-api.com/v4",
			Sport:             "americanfootball_nfl",
			Regions:           []string{"us"},
			Markets:           []string{"h2h", "spreads", "totals"},
			Timeout:           duration{30 * time.Second},
			RequestsPerMinute: 30,
			QuotaWarnBelow:    500,
		},
		Ingest: IngestConfig{
			Interval: duration{10 * time.Minute},
		},
		Backfill: BackfillConfig{
			Interval: duration{24 * time.Hour},
			Delay:    duration{time.Second},
		},
		Scores: ScoresConfig{
			URL:         "https://github.com/nflverse/nfldata/raw/master/data/games.csv",
			MatchWindow: duration{24 * time.Hour},
		},
		Replay:     ReplayConfig{Prefix: "raw/"},
		Correction: CorrectionConfig{HomeScore: -1, AwayScore: -1},
		Arbitrage: ArbitrageConfig{
			Enabled:  true,
			Cooldown: duration{30 * time.Minute},
		},
		Schedule: ScheduleConfig{
			Timezone:      "UTC",
			LiveOdds:      "",
			Scores:        "0 0 8 * * *",
			Grading:       "0 30 8 * * *",
			Archive:       "0 0 3 * * *",
			RetentionDays: 90,
			LockTTL:       duration{30 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
			QueryMaxRows:       1000,
			QueryTimeout:       duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"state_conflict", "ingest_failed", "quota_low", "backfill_done", "arbitrage"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":   true,
	"ingest":   true,
	"backfill": true,
	"scores":   true,
	"replay":   true,
	"correct":  true,
	"full":     true,
}

var validArbStrategies = map[string]bool{
	"two_way":   true,
	"three_way": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validMarkets = map[string]bool{
	"h2h":     true,
	"spreads": true,
	"totals":  true,
}

// CronParser parses schedule specs: an optional seconds field, then the
// standard five fields, or a descriptor.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NeedsOddsAPI reports whether the configured mode calls the odds provider.
func (c *Config) NeedsOddsAPI() bool {
	switch c.Mode {
	case "ingest", "full":
		return true
	case "backfill":
		return !c.Backfill.DryRun
	}
	return false
}

// Validate checks Config and returns one error describing every problem.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, ingest, backfill, scores, replay, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: postgres, memory)", c.Storage.Driver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" && c.Redis.URL == "" {
			errs = append(errs, "redis: addr or url must be set when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if c.NeedsOddsAPI() && c.OddsAPI.APIKey == "" {
		errs = append(errs, "oddsapi: api_key is required for mode "+c.Mode)
	}
	if c.OddsAPI.Sport == "" {
		errs = append(errs, "oddsapi: sport must not be empty")
	}
	for _, m := range c.OddsAPI.Markets {
		if !validMarkets[m] {
			errs = append(errs, fmt.Sprintf("oddsapi: unknown market %q (valid: h2h, spreads, totals)", m))
		}
	}
	if c.Ingest.Interval.Duration <= 0 && c.Schedule.LiveOdds == "" {
		errs = append(errs, "ingest: interval must be > 0 when schedule.live_odds is empty")
	}

	if c.Mode == "backfill" {
		if c.Backfill.Interval.Duration < time.Hour {
			errs = append(errs, "backfill: interval must be at least 1h")
		}
		if (c.Backfill.Start == "") != (c.Backfill.End == "") {
			errs = append(errs, "backfill: start and end must be set together")
		}
		if c.Backfill.Start == "" && len(c.Backfill.Seasons) == 0 {
			errs = append(errs, "backfill: set start/end or seasons")
		}
		for _, v := range []string{c.Backfill.Start, c.Backfill.End} {
			if v == "" {
				continue
			}
			if _, err := time.Parse(time.DateOnly, v); err != nil {
				errs = append(errs, fmt.Sprintf("backfill: invalid date %q (want YYYY-MM-DD)", v))
			}
		}
	}

	if c.Mode == "replay" {
		if !c.S3.Enabled {
			errs = append(errs, "replay: s3 must be enabled")
		}
		if !strings.HasPrefix(c.Replay.Prefix, "raw/") {
			errs = append(errs, fmt.Sprintf("replay: prefix %q must start with raw/", c.Replay.Prefix))
		}
	}

	if c.Mode == "correct" {
		if c.Correction.GameID == "" {
			errs = append(errs, "correction: game_id is required")
		}
		if c.Correction.HomeScore < 0 || c.Correction.AwayScore < 0 {
			errs = append(errs, "correction: home_score and away_score must be set and non-negative")
		}
	}

	if c.Arbitrage.Enabled {
		for _, name := range c.Arbitrage.Strategies {
			if !validArbStrategies[name] {
				errs = append(errs, fmt.Sprintf("arbitrage: unknown strategy %q (valid: two_way, three_way)", name))
			}
		}
		if c.Arbitrage.MinMarginPct < 0 {
			errs = append(errs, "arbitrage: min_margin_pct must be >= 0")
		}
	}

	if c.Scores.URL == "" {
		errs = append(errs, "scores: url must not be empty")
	}

	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("schedule: unknown timezone %q", c.Schedule.Timezone))
	}
	for name, spec := range map[string]string{
		"live_odds": c.Schedule.LiveOdds,
		"scores":    c.Schedule.Scores,
		"grading":   c.Schedule.Grading,
		"archive":   c.Schedule.Archive,
	} {
		if spec == "" {
			continue
		}
		if _, err := CronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Sprintf("schedule: invalid %s spec %q: %v", name, spec, err))
		}
	}
	if c.Schedule.Archive != "" && c.Schedule.RetentionDays < 1 {
		errs = append(errs, "schedule: retention_days must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.QueryMaxRows < 1 {
			errs = append(errs, "server: query_max_rows must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
