package core

import (
	"fmt"
	"time"
)

const (
	DefaultInitialBranch     = "master"
	DefaultLockTimeout       = 5 * time.Second
	DefaultMetadataCacheSize = 128
	DefaultEngine            = "sqlite"
)

// Config holds the settings shared by every repository of a Registry.
type Config struct {
	// Root is the directory under which each repository gets its own
	// sub-directory.
	Root string `mapstructure:"root"`
	// Engine names the table engine used for checkouts ("sqlite" or "duckdb").
	Engine        string `mapstructure:"engine"`
	InitialBranch string `mapstructure:"initial_branch"`
	// LockTimeout bounds every wait for a checkout lock.
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	MetadataCacheSize int           `mapstructure:"metadata_cache_size"`
	// Ignore lists extra gitignore-style patterns excluded from snapshots.
	Ignore   []string `mapstructure:"ignore"`
	Identity Identity `mapstructure:"identity"`
}

func DefaultConfig() Config {
	return Config{
		Engine:            DefaultEngine,
		InitialBranch:     DefaultInitialBranch,
		LockTimeout:       DefaultLockTimeout,
		MetadataCacheSize: DefaultMetadataCacheSize,
		Identity: Identity{
			Name:  "BranchDB",
			Email: "branchdb@localhost",
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Engine == "" {
		c.Engine = def.Engine
	}
	if c.InitialBranch == "" {
		c.InitialBranch = def.InitialBranch
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = def.LockTimeout
	}
	if c.MetadataCacheSize == 0 {
		c.MetadataCacheSize = def.MetadataCacheSize
	}
	if c.Identity.Name == "" && c.Identity.Email == "" {
		c.Identity = def.Identity
	}
	return c
}

func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("%w: config root is empty", ErrInvalidArgument)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("%w: negative lock timeout %s", ErrInvalidArgument, c.LockTimeout)
	}
	if c.MetadataCacheSize < 0 {
		return fmt.Errorf("%w: negative metadata cache size %d", ErrInvalidArgument, c.MetadataCacheSize)
	}
	if c.InitialBranch == "" {
		return fmt.Errorf("%w: initial branch is empty", ErrInvalidArgument)
	}
	return nil
}
