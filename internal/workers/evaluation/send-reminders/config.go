// internal/workers/evaluation/send-reminders/config.go
package sendreminders

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	// The sweep walks every stale draft in the tenant fleet.
	return &Config{
		Timeout: 120 * time.Second,
	}
}
