package reliability

import (
	"os"
	"strconv"
	"time"
)

// Config controls how hard the reliability tests push.
type Config struct {
	Level         string        // "basic" or "stress"
	Duration      time.Duration // Wall time for sustained stress runs
	MaxGoroutines int           // Concurrent workflows for fan-out tests
	Depth         int           // Hops for cascade tests
}

func getConfig() Config {
	return Config{
		Level:         os.Getenv("FLOWTRACE_RELIABILITY_LEVEL"),
		Duration:      parseDuration(getEnv("FLOWTRACE_RELIABILITY_DURATION", "5s")),
		MaxGoroutines: parseInt(getEnv("FLOWTRACE_RELIABILITY_MAX_GOROUTINES", "100"), 100),
		Depth:         parseInt(getEnv("FLOWTRACE_RELIABILITY_DEPTH", "50"), 50),
	}
}

// skipUnlessEnabled skips t when no reliability level is configured and
// returns the active configuration otherwise.
func skipUnlessEnabled(t interface{ Skip(...any) }) Config {
	cfg := getConfig()
	switch cfg.Level {
	case "basic", "stress":
	default:
		t.Skip("FLOWTRACE_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
	return cfg
}

func (c Config) stress() bool { return c.Level == "stress" }

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseInt(s string, fallback int) int {
	if value, err := strconv.Atoi(s); err == nil && value > 0 {
		return value
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 5 * time.Second
}
