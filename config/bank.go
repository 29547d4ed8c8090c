package config

import "time"

// BankConfig is the root configuration loaded by cmd/bankd and cmd/gcd.
// Grounded on the teacher's config/api.go (toml + env tags via
// cleanenv), extended with the sections the bank's components need:
// token/challenge policy, GC retention windows, and the conversion
// rate-table path.
type BankConfig struct {
	Server struct {
		BaseURL string `toml:"base_url" env:"LIBEUFIN_BANK_BASE_URL" env-default:"http://localhost:8080"`
		Listen  string `toml:"listen" env:"LIBEUFIN_BANK_LISTEN" env-default:":8080"`
	} `toml:"server"`

	Database struct {
		Host            string `toml:"host" env:"LIBEUFIN_BANK_DB_HOST"`
		Port            string `toml:"port" env:"LIBEUFIN_BANK_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"LIBEUFIN_BANK_DB_USER"`
		Password        string `toml:"password" env:"LIBEUFIN_BANK_DB_PASSWORD"`
		DB              string `toml:"db" env:"LIBEUFIN_BANK_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"LIBEUFIN_BANK_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"LIBEUFIN_BANK_DB_MAX_CONNS" env-default:"25"`
		MinConns        int    `toml:"min_conns" env:"LIBEUFIN_BANK_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"LIBEUFIN_BANK_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"LIBEUFIN_BANK_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"LIBEUFIN_BANK_REDIS_HOST"`
		Port     string `toml:"port" env:"LIBEUFIN_BANK_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"LIBEUFIN_BANK_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"LIBEUFIN_BANK_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	Bank struct {
		ReservedLogins    []string      `toml:"reserved_logins" env:"LIBEUFIN_BANK_RESERVED_LOGINS" env-separator:","`
		AdminPassword     string        `toml:"admin_password" env:"LIBEUFIN_BANK_ADMIN_PASSWORD"`
		RegionalCurrency  string        `toml:"regional_currency" env:"LIBEUFIN_BANK_REGIONAL_CURRENCY" env-default:"KUDOS"`
		FiatCurrency      string        `toml:"fiat_currency" env:"LIBEUFIN_BANK_FIAT_CURRENCY" env-default:"EUR"`
		DefaultMaxDebit   string        `toml:"default_max_debit" env:"LIBEUFIN_BANK_DEFAULT_MAX_DEBIT" env-default:"KUDOS:0"`
		MaxTokenDuration  time.Duration `toml:"max_token_duration" env:"LIBEUFIN_BANK_MAX_TOKEN_DURATION" env-default:"8760h"`
		ChallengeValidity time.Duration `toml:"challenge_validity" env:"LIBEUFIN_BANK_CHALLENGE_VALIDITY" env-default:"5m"`
		ChallengeRetries  int           `toml:"challenge_retries" env:"LIBEUFIN_BANK_CHALLENGE_RETRIES" env-default:"3"`
		ChallengeResend   time.Duration `toml:"challenge_resend" env:"LIBEUFIN_BANK_CHALLENGE_RESEND" env-default:"1m"`
	} `toml:"bank"`

	GC struct {
		AbortAfter time.Duration `toml:"abort_after" env:"LIBEUFIN_BANK_GC_ABORT_AFTER" env-default:"15m"`
		CleanAfter time.Duration `toml:"clean_after" env:"LIBEUFIN_BANK_GC_CLEAN_AFTER" env-default:"336h"`
		// DeleteAfter defaults to 350 days.
		DeleteAfter time.Duration `toml:"delete_after" env:"LIBEUFIN_BANK_GC_DELETE_AFTER" env-default:"8400h"`
		Interval    time.Duration `toml:"interval" env:"LIBEUFIN_BANK_GC_INTERVAL" env-default:"5m"`
	} `toml:"gc"`

	Conversion struct {
		Enabled bool   `toml:"enabled" env:"LIBEUFIN_BANK_CONVERSION_ENABLED" env-default:"false"`
		Path    string `toml:"path" env:"LIBEUFIN_BANK_CONVERSION_PATH"`
	} `toml:"conversion"`
}
