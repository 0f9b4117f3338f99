// internal/workers/evaluation/suggest-scores/config.go
package suggestscores

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	// The suggestion service runs a model; give it more headroom than the
	// database-backed workers.
	return &Config{
		Timeout: 45 * time.Second,
	}
}
