package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads .env when present
// and applies ODDSLEDGER_* overrides. A missing file is not an error, so a
// deployment can run on environment variables alone. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose ODDSLEDGER_* variable is set and
// non-empty.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Storage.Driver, "ODDSLEDGER_STORAGE_DRIVER")

	setStr(&cfg.Postgres.DSN, "ODDSLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "ODDSLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ODDSLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ODDSLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ODDSLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ODDSLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ODDSLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ODDSLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ODDSLEDGER_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.StatementTimeout, "ODDSLEDGER_POSTGRES_STATEMENT_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "ODDSLEDGER_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "ODDSLEDGER_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "ODDSLEDGER_REDIS_URL")
	setStr(&cfg.Redis.Addr, "ODDSLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ODDSLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ODDSLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ODDSLEDGER_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ODDSLEDGER_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "ODDSLEDGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ODDSLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ODDSLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "ODDSLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ODDSLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ODDSLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ODDSLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ODDSLEDGER_S3_FORCE_PATH_STYLE")

	setStr(&cfg.OddsAPI.BaseURL, "ODDSLEDGER_ODDSAPI_BASE_URL")
	setStr(&cfg.OddsAPI.APIKey, "ODDSLEDGER_ODDSAPI_API_KEY")
	setStr(&cfg.OddsAPI.APIKey, "ODDS_API_KEY")
	setStr(&cfg.OddsAPI.Sport, "ODDSLEDGER_ODDSAPI_SPORT")
	setStringSlice(&cfg.OddsAPI.Regions, "ODDSLEDGER_ODDSAPI_REGIONS")
	setStringSlice(&cfg.OddsAPI.Markets, "ODDSLEDGER_ODDSAPI_MARKETS")
	setStringSlice(&cfg.OddsAPI.Bookmakers, "ODDSLEDGER_ODDSAPI_BOOKMAKERS")
	setInt(&cfg.OddsAPI.RequestsPerMinute, "ODDSLEDGER_ODDSAPI_REQUESTS_PER_MINUTE")
	setInt(&cfg.OddsAPI.QuotaWarnBelow, "ODDSLEDGER_ODDSAPI_QUOTA_WARN_BELOW")

	setDuration(&cfg.Ingest.Interval, "ODDSLEDGER_INGEST_INTERVAL")

	setStr(&cfg.Backfill.Start, "ODDSLEDGER_BACKFILL_START")
	setStr(&cfg.Backfill.End, "ODDSLEDGER_BACKFILL_END")
	setIntSlice(&cfg.Backfill.Seasons, "ODDSLEDGER_BACKFILL_SEASONS")
	setDuration(&cfg.Backfill.Interval, "ODDSLEDGER_BACKFILL_INTERVAL")
	setBool(&cfg.Backfill.DryRun, "ODDSLEDGER_BACKFILL_DRY_RUN")

	setStr(&cfg.Scores.URL, "ODDSLEDGER_SCORES_URL")
	setIntSlice(&cfg.Scores.Seasons, "ODDSLEDGER_SCORES_SEASONS")
	setStr(&cfg.Scores.TeamMapPath, "ODDSLEDGER_SCORES_TEAM_MAP_PATH")
	setBool(&cfg.Scores.DryRun, "ODDSLEDGER_SCORES_DRY_RUN")

	setStr(&cfg.Replay.Prefix, "ODDSLEDGER_REPLAY_PREFIX")

	setStr(&cfg.Correction.GameID, "ODDSLEDGER_CORRECTION_GAME_ID")
	setInt(&cfg.Correction.HomeScore, "ODDSLEDGER_CORRECTION_HOME_SCORE")
	setInt(&cfg.Correction.AwayScore, "ODDSLEDGER_CORRECTION_AWAY_SCORE")

	setBool(&cfg.Arbitrage.Enabled, "ODDSLEDGER_ARBITRAGE_ENABLED")
	setStringSlice(&cfg.Arbitrage.Strategies, "ODDSLEDGER_ARBITRAGE_STRATEGIES")
	setFloat(&cfg.Arbitrage.MinMarginPct, "ODDSLEDGER_ARBITRAGE_MIN_MARGIN_PCT")
	setDuration(&cfg.Arbitrage.Cooldown, "ODDSLEDGER_ARBITRAGE_COOLDOWN")

	setStr(&cfg.Schedule.Timezone, "ODDSLEDGER_SCHEDULE_TIMEZONE")
	setStr(&cfg.Schedule.LiveOdds, "ODDSLEDGER_SCHEDULE_LIVE_ODDS")
	setStr(&cfg.Schedule.Scores, "ODDSLEDGER_SCHEDULE_SCORES")
	setStr(&cfg.Schedule.Grading, "ODDSLEDGER_SCHEDULE_GRADING")
	setStr(&cfg.Schedule.Archive, "ODDSLEDGER_SCHEDULE_ARCHIVE")
	setInt(&cfg.Schedule.RetentionDays, "ODDSLEDGER_SCHEDULE_RETENTION_DAYS")

	setBool(&cfg.Server.Enabled, "ODDSLEDGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ODDSLEDGER_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ODDSLEDGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ODDSLEDGER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "ODDSLEDGER_SERVER_RATE_LIMIT_PER_MINUTE")

	setStr(&cfg.Notify.TelegramToken, "ODDSLEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ODDSLEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ODDSLEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ODDSLEDGER_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "ODDSLEDGER_MODE")
	setStr(&cfg.LogLevel, "ODDSLEDGER_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if parts := splitList(v); len(parts) > 0 {
			*dst = parts
		}
	}
}

func setIntSlice(dst *[]int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []int
	for _, p := range splitList(v) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	if len(out) > 0 {
		*dst = out
	}
}
