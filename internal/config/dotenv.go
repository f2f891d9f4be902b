package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Config struct {
	SubmissionSeconds        int
	FinalizeGraceSeconds     int
	DefaultTotalRounds       int
	MaxTotalRounds           int
	RoomCodeAttempts         int
	EnforceHostStart         bool
	EnforceHostAdvance       bool
	AutoFinalizeRounds       bool
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeSeconds int
	DBConnMaxIdleTimeSeconds int
	GeminiAPIKey             string
	GeminiModel              string
}

func Default() Config {
	return Config{
		SubmissionSeconds:        60,
		FinalizeGraceSeconds:     5,
		DefaultTotalRounds:       3,
		MaxTotalRounds:           10,
		RoomCodeAttempts:         5,
		EnforceHostStart:         true,
		EnforceHostAdvance:       false,
		AutoFinalizeRounds:       true,
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
		GeminiModel:              "gemini-2.5-flash-lite",
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("SUBMISSION_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.SubmissionSeconds = value
		}
	}
	if raw := os.Getenv("FINALIZE_GRACE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.FinalizeGraceSeconds = value
		}
	}
	if raw := os.Getenv("DEFAULT_TOTAL_ROUNDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DefaultTotalRounds = value
		}
	}
	if raw := os.Getenv("MAX_TOTAL_ROUNDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.MaxTotalRounds = value
		}
	}
	if raw := os.Getenv("ROOM_CODE_ATTEMPTS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.RoomCodeAttempts = value
		}
	}
	if raw := os.Getenv("ENFORCE_HOST_START"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.EnforceHostStart = value
		}
	}
	if raw := os.Getenv("ENFORCE_HOST_ADVANCE"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.EnforceHostAdvance = value
		}
	}
	if raw := os.Getenv("AUTO_FINALIZE_ROUNDS"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.AutoFinalizeRounds = value
		}
	}
	if raw := os.Getenv("DB_MAX_OPEN_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxOpenConns = value
		}
	}
	if raw := os.Getenv("DB_MAX_IDLE_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxIdleConns = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_LIFETIME_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxLifetimeSeconds = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_IDLE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxIdleTimeSeconds = value
		}
	}
	if raw := os.Getenv("GEMINI_API_KEY"); raw != "" {
		cfg.GeminiAPIKey = raw
	}
	if raw := os.Getenv("GEMINI_MODEL"); raw != "" {
		cfg.GeminiModel = raw
	}
	return cfg
}
