package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	// DBSource is the Postgres connection string. Empty selects the
	// in-memory ledger and access registry.
	DBSource string
	Port     string
	Env      string

	RequiredApproveVotes uint64
	WithdrawalDelay      time.Duration

	BootstrapAdmins []string
	BootstrapVoters []string
}

// Load reads the configuration from the environment, after applying a .env
// file from the working directory if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	quorum, err := strconv.ParseUint(getEnv("REQUIRED_APPROVE_VOTES", "1"), 10, 64)
	if err != nil || quorum == 0 {
		return nil, errors.Errorf("REQUIRED_APPROVE_VOTES must be a positive integer, got %q", os.Getenv("REQUIRED_APPROVE_VOTES"))
	}

	delay, err := time.ParseDuration(getEnv("WITHDRAWAL_DELAY", "0s"))
	if err != nil || delay < 0 {
		return nil, errors.Errorf("WITHDRAWAL_DELAY must be a non-negative duration, got %q", os.Getenv("WITHDRAWAL_DELAY"))
	}

	return &Config{
		DBSource:             os.Getenv("DB_SOURCE"),
		Port:                 getEnv("SERVER_PORT", "8080"),
		Env:                  getEnv("ENVIRONMENT", "development"),
		RequiredApproveVotes: quorum,
		WithdrawalDelay:      delay,
		BootstrapAdmins:      getEnvSlice("BOOTSTRAP_ADMINS"),
		BootstrapVoters:      getEnvSlice("BOOTSTRAP_VOTERS"),
	}, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
