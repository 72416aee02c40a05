package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is loaded from the environment, optionally seeded from a .env file
type Config struct {
	HTTPAddr    string
	RedisURL    string
	RedisPrefix string
	DatabaseURL string // empty keeps accounts in memory

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	OTP OTPConfig

	CompanyName        string
	CookieDomain       string
	CookieSecure       bool
	EventsTopic        string
	NotificationsTopic string
	LogLevel           string
}

// OTPConfig holds the challenge and rate-limit policy
type OTPConfig struct {
	CodeLength        int
	CodeTTL           time.Duration
	Cooldown          time.Duration
	RequestWindow     time.Duration
	MaxRequests       int
	SpamLockTTL       time.Duration
	MaxFailedAttempts int
	FailedAttemptsTTL time.Duration
	LockTTL           time.Duration
	ResetGrantTTL     time.Duration
}

// Load reads configuration. A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error
	duration := func(key, fallback string) time.Duration {
		d, err := time.ParseDuration(getEnv(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return 0
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be a positive duration", key))
		}
		return d
	}
	integer := func(key string, fallback int) int {
		v := os.Getenv(key)
		if v == "" {
			return fallback
		}
		i, err := strconv.Atoi(v)
		if err != nil || i <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be a positive integer", key))
			return fallback
		}
		return i
	}

	cfg := Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":6001"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:        getEnv("REDIS_PREFIX", "otpgate:"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		AccessTokenSecret:  os.Getenv("JWT_ACCESS_TOKEN_SECRET"),
		RefreshTokenSecret: os.Getenv("JWT_REFRESH_TOKEN_SECRET"),
		AccessTokenTTL:     duration("ACCESS_TOKEN_TTL", "15m"),
		RefreshTokenTTL:    duration("REFRESH_TOKEN_TTL", "168h"),
		OTP: OTPConfig{
			CodeLength:        integer("OTP_CODE_LENGTH", 6),
			CodeTTL:           duration("OTP_TTL", "5m"),
			Cooldown:          duration("OTP_COOLDOWN", "60s"),
			RequestWindow:     duration("OTP_REQUEST_WINDOW", "1h"),
			MaxRequests:       integer("OTP_MAX_REQUESTS", 2),
			SpamLockTTL:       duration("OTP_SPAM_LOCK_TTL", "1h"),
			MaxFailedAttempts: integer("OTP_MAX_FAILED_ATTEMPTS", 2),
			FailedAttemptsTTL: duration("OTP_FAILED_ATTEMPTS_TTL", "30m"),
			LockTTL:           duration("OTP_LOCK_TTL", "30m"),
			ResetGrantTTL:     duration("PASSWORD_RESET_GRANT_TTL", "10m"),
		},
		CompanyName:        getEnv("COMPANY_NAME", "The Team"),
		CookieDomain:       os.Getenv("COOKIE_DOMAIN"),
		CookieSecure:       getEnv("COOKIE_SECURE", "true") == "true",
		EventsTopic:        getEnv("EVENTS_TOPIC", "otpgate.events"),
		NotificationsTopic: getEnv("NOTIFICATIONS_TOPIC", "otpgate.notifications.email"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_TOKEN_SECRET and JWT_REFRESH_TOKEN_SECRET are required"))
	} else if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		errs = append(errs, errors.New("JWT_ACCESS_TOKEN_SECRET and JWT_REFRESH_TOKEN_SECRET must differ"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
