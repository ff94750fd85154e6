package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nickyhof/BranchDB"
	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/ps"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logLevelNone = "none"
	envPrefix    = "BRANCHDB"
)

// cliConfig is everything the CLI reads from branchdb.yaml, BRANCHDB_*
// variables and flags.
type cliConfig struct {
	core.Config `mapstructure:",squash"`
	Repository  string         `mapstructure:"repository"`
	LogLevel    string         `mapstructure:"log_level"`
	Schema      string         `mapstructure:"schema"` // DDL file for new repositories
	Auth        *ps.RemoteAuth `mapstructure:"auth"`
}

// app carries the state shared by every sub-command of one invocation.
type app struct {
	v        *viper.Viper
	out      io.Writer
	errOut   io.Writer
	cfg      cliConfig
	logger   *zap.Logger
	registry *BranchDB.Registry
	store    *ps.Store
}

func (a *app) initConfig() error {
	v := a.v
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := core.DefaultConfig()
	v.SetDefault("repository", "default")
	v.SetDefault("log_level", logLevelNone)
	v.SetDefault("engine", def.Engine)
	v.SetDefault("initial_branch", def.InitialBranch)
	v.SetDefault("lock_timeout", def.LockTimeout)
	v.SetDefault("identity.name", def.Identity.Name)
	v.SetDefault("identity.email", def.Identity.Email)

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.branchdb")
		v.SetConfigName("branchdb")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	logger, err := getLogger(a.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level %q: %w", a.cfg.LogLevel, err)
	}
	a.logger = logger
	if used := v.ConfigFileUsed(); used != "" {
		a.logger.Debug("using config file", zap.String("file", used))
	}
	return nil
}

// getLogger returns a production zap logger at logLevel, or a no-op logger
// for "none".
func getLogger(logLevel string) (*zap.Logger, error) {
	if logLevel == logLevelNone {
		return zap.NewNop(), nil
	}
	zapConfig := zap.NewProductionConfig()
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, err
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	return zapConfig.Build()
}

// openStore builds the registry and opens the configured repository.
func (a *app) openStore() error {
	opts := []ps.Option{
		ps.WithLogger(a.logger),
		ps.WithTransport(ps.GitTransport{Auth: a.cfg.Auth}),
	}
	if a.cfg.Schema != "" {
		ddl, err := os.ReadFile(a.cfg.Schema)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		opts = append(opts, ps.WithSchema(ps.StaticSchema(ddl)))
	}

	registry, err := BranchDB.NewRegistry(a.cfg.Config, opts...)
	if err != nil {
		return err
	}
	store, err := registry.Open(a.cfg.Repository)
	if err != nil {
		registry.Close()
		return err
	}
	a.registry = registry
	a.store = store
	return nil
}

func (a *app) close() error {
	var err error
	if a.registry != nil {
		err = a.registry.Close()
		a.registry = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return err
}

func (a *app) identity() core.Identity {
	return a.cfg.Identity
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
