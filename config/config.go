// Package config loads the optional per-directory store configuration. A
// map directory may contain a config.hcl choosing the engine and its
// tunables; absent settings keep their defaults.
//
//	engine = "bbolt"
//	mmap_size = 1073741824
//	no_sync = false
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl"
)

const (
	FileName = "config.hcl"

	BBolt  = "bbolt"
	Badger = "badger"
	Pebble = "pebble"
	Memory = "memory"
)

type Config struct {
	Engine   string `hcl:"engine"`
	MmapSize int    `hcl:"mmap_size"`
	NoSync   bool   `hcl:"no_sync"`
}

func Default() Config {
	return Config{
		Engine:   BBolt,
		MmapSize: 1 << 30,
	}
}

func (cfg Config) validate() error {
	switch cfg.Engine {
	case BBolt, Badger, Pebble, Memory:
	default:
		return fmt.Errorf("config: unknown engine: %s", cfg.Engine)
	}
	if cfg.MmapSize < 0 {
		return fmt.Errorf("config: bad mmap_size: %d", cfg.MmapSize)
	}
	return nil
}

// Load reads dir/config.hcl if it exists and merges it over the defaults.
func Load(dir string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	err = hcl.Decode(&cfg, string(b))
	if err != nil {
		return cfg, fmt.Errorf("config: %s: %s", FileName, err)
	}

	err = cfg.validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}
