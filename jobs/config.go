package jobs

import "os"

// Config configures an Engine.
type Config struct {
	// BatchSize is the number of items between abort checks, and the store
	// page size for range scans.
	// Default: 100, Max: 1000
	BatchSize int

	// Concurrency bounds the item actions running at once within a batch.
	// Default: 8
	Concurrency int

	// TempDir is where export snapshots are written.
	// Default: os.TempDir()
	TempDir string
}

// DefaultConfig returns the default job configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:   100,
		Concurrency: 8,
		TempDir:     os.TempDir(),
	}
}

func (c *Config) validate() {
	d := DefaultConfig()
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchSize > 1000 {
		c.BatchSize = 1000
	}
	if c.Concurrency < 1 {
		c.Concurrency = d.Concurrency
	}
	if c.TempDir == "" {
		c.TempDir = d.TempDir
	}
}
