// internal/workers/evaluation/upload-attachment/config.go
package uploadattachment

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	// Uploads stream through the blob store, so the window is wider than
	// the database-only workers.
	return &Config{
		Timeout: 60 * time.Second,
	}
}
