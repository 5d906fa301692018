// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/sessionboot/pkg/config"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/system"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// Opener launches the browser for login. Defaults to the system browser.
	Opener func(url string) error
}

type runtimeState struct {
	configPath           string
	configPathSet        bool
	envFile              string
	cfg                  *config.Config
	outputFormat         string
	tokenStorageOverride string
	verbose              bool
	writer               io.Writer
	opener               func(string) error
	logger               *zap.Logger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter, opener: cfg.Opener}

	root := &cobra.Command{
		Use:           "sessionboot",
		Short:         "Bootstrap sessions against a hosted OIDC identity provider",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			rt.configPathSet = cmd.Flags().Changed("config")
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv(config.EnvPrefix+"VERBOSE"), "true")
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.EnsureConfigLoaded()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVar(&rt.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: text, json, yaml")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: memory, file or keychain")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewServeCommand(),
		NewLoginCommand(),
		NewStatusCommand(),
		NewTokenCommand(),
		NewLogoutCommand(),
		NewWhoamiCommand(),
		NewExtractCommand(),
		NewVersionCommand(),
	)
	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// EnsureConfigLoaded reads the .env file and the configuration. The default
// config file may be missing, an explicitly given one may not.
func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	if rt.envFile != "" {
		if err := config.LoadDotEnv(rt.envFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load(rt.configPath, !rt.configPathSet)
	if err != nil {
		return err
	}
	if rt.tokenStorageOverride != "" {
		cfg.TokenStorage = rt.tokenStorageOverride
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	return "text"
}

// Logger is built on first use from the logging configuration.
func (rt *runtimeState) Logger() (*zap.Logger, error) {
	if rt.logger != nil {
		return rt.logger, nil
	}
	level, development := "info", false
	if rt.cfg != nil {
		level, development = rt.cfg.Logging.Level, rt.cfg.Logging.Development
	}
	if rt.verbose {
		level = "debug"
	}
	logger, err := system.NewLogger(level, development)
	if err != nil {
		return nil, err
	}
	rt.logger = logger
	return logger, nil
}

// identityConfig is the identity configuration of the CLI. Redirects go to
// the loopback listener unless a redirect URI is configured.
func (rt *runtimeState) identityConfig() identity.Config {
	cfg := rt.cfg.Identity
	if cfg.RedirectURI == "" {
		cfg = cfg.WithRedirectURI("http://" + rt.cfg.CLI.CallbackAddress)
	}
	return cfg
}

// cacheOption selects the configured token cache for the CLI session.
func (rt *runtimeState) cacheOption() (identity.Option, error) {
	cache, err := rt.cfg.Cache()
	if err != nil {
		return nil, err
	}
	return identity.WithCache(cache, identity.CacheKey(rt.cfg.Identity, "")), nil
}

// client connects to the provider with the CLI session.
func (rt *runtimeState) client(ctx context.Context) (*identity.Client, error) {
	opt, err := rt.cacheOption()
	if err != nil {
		return nil, err
	}
	return identity.NewClient(ctx, rt.identityConfig(), opt)
}
