// Package config loads process configuration from the environment, with
// .env support for local development. A missing .env file is not fatal:
// every setting has a workable default and the server runs fine from plain
// environment variables in a container with no .env present at all.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"snake-arena-server/internal/constants"
)

// Config is the process-wide set of startup tunables.
type Config struct {
	Port string

	DefaultBoardSize int
	DefaultGameSpeed time.Duration
	DefaultMaxPlayers int

	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
}

// Load reads .env (if present) then builds a Config from the environment,
// falling back to constants.Default* for anything unset.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment and defaults")
	}

	return Config{
		Port:               envString("PORT", "3001"),
		DefaultBoardSize:   envInt("DEFAULT_BOARD_SIZE", constants.DefaultBoardSize),
		DefaultGameSpeed:   envDuration("DEFAULT_GAME_SPEED_MS", constants.DefaultGameSpeed),
		DefaultMaxPlayers:  envInt("DEFAULT_MAX_PLAYERS", constants.DefaultMaxPlayers),
		SessionIdleTimeout: envDuration("SESSION_IDLE_TIMEOUT_MS", constants.SessionIdleTimeout),
		SweepInterval:      envDuration("SWEEP_INTERVAL_MS", constants.SweepInterval),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid int for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid duration (ms) for %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
