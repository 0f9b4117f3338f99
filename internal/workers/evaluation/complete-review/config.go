// internal/workers/evaluation/complete-review/config.go
package completereview

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	// Completing the last stage runs the final score computation and its
	// notifications, so the window is wider than a plain status update.
	return &Config{
		Timeout: 30 * time.Second,
	}
}
