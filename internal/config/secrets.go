package config

import (
	"net/url"
	"slices"
)

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redactDSN(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redactDSN(&out.Redis.URL)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.OddsAPI.APIKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.OddsAPI.Regions = slices.Clone(cfg.OddsAPI.Regions)
	out.OddsAPI.Markets = slices.Clone(cfg.OddsAPI.Markets)
	out.OddsAPI.Bookmakers = slices.Clone(cfg.OddsAPI.Bookmakers)
	out.Backfill.Seasons = slices.Clone(cfg.Backfill.Seasons)
	out.Scores.Seasons = slices.Clone(cfg.Scores.Seasons)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactDSN masks only the password of a URL-style DSN so host and database
// stay visible in logs.
func redactDSN(s *string) {
	if *s == "" {
		return
	}
	u, err := url.Parse(*s)
	if err != nil || u.User == nil {
		*s = redacted
		return
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	*s = u.String()
}
