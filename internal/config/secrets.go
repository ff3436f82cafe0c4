package config

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: secrets are
// replaced with "***" and slices are copied.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Executor.PrivateKey)
	redact(&out.Executor.KeyPassword)
	redact(&out.Providers.KalshiAPIKey)
	redact(&out.Oracle.APIKey)
	redact(&out.Redis.Password)
	redact(&out.Store.DSN)
	redact(&out.Store.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	// RPC URLs often embed a provider key in the path.
	redact(&out.Chain.RPCURL)

	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
