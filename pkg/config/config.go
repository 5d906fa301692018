// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/telekom/sessionboot/pkg/audit"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/tokencache"
)

// EnvPrefix is the prefix of all environment overrides.
const EnvPrefix = "SESSIONBOOT_"

type Config struct {
	Identity identity.Config `yaml:"identity"`
	// TokenStorage selects the cache backend: memory, file or keychain. When
	// empty it follows identity.cache-location.
	TokenStorage string    `yaml:"token-storage,omitempty" env:"TOKEN_STORAGE" validate:"omitempty,oneof=memory file keychain"`
	TokenFile    string    `yaml:"token-file,omitempty" env:"TOKEN_FILE"`
	Server       Server    `yaml:"server" envPrefix:"SERVER_"`
	CLI          CLI       `yaml:"cli" envPrefix:"CLI_"`
	Audit        Audit     `yaml:"audit" envPrefix:"AUDIT_"`
	Logging      Logging   `yaml:"logging" envPrefix:"LOG_"`
	Telemetry    Telemetry `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

type Server struct {
	ListenAddress string `yaml:"listen-address" env:"LISTEN_ADDRESS" validate:"required"`
	// PublicURL is the origin browsers use to reach the server. Derived from
	// the request when empty.
	PublicURL string `yaml:"public-url,omitempty" env:"PUBLIC_URL" validate:"omitempty,url"`
	// Dev serves the frontend from FrontendDir instead of the files embedded
	// in the binary.
	Dev         bool   `yaml:"dev" env:"DEV"`
	FrontendDir string `yaml:"frontend-dir" env:"FRONTEND_DIR" validate:"required_if=Dev true"`
	// SessionSecret signs browser session cookies. A random secret is used
	// when empty, which ends all browser sessions on restart.
	SessionSecret  string        `yaml:"session-secret,omitempty" env:"SESSION_SECRET" validate:"omitempty,min=32"`
	SessionTTL     time.Duration `yaml:"session-ttl" env:"SESSION_TTL"`
	CookieSecure   bool          `yaml:"cookie-secure" env:"COOKIE_SECURE"`
	TrustedProxies []string      `yaml:"trusted-proxies,omitempty" env:"TRUSTED_PROXIES"`
	Debug          bool          `yaml:"debug" env:"DEBUG"`
	RateLimit      RateLimit     `yaml:"rate-limit" envPrefix:"RATE_LIMIT_"`
	Extract        Extract       `yaml:"extract" envPrefix:"EXTRACT_"`
}

// Extract configures safety data sheet uploads.
type Extract struct {
	Ghostscript    string `yaml:"ghostscript" env:"GHOSTSCRIPT" validate:"required"`
	MaxUploadBytes int64  `yaml:"max-upload-bytes" env:"MAX_UPLOAD_BYTES" validate:"gt=0"`
}

type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests-per-second" env:"RPS" validate:"gte=0"`
	Burst             int     `yaml:"burst" env:"BURST" validate:"gte=0"`
}

type CLI struct {
	CallbackAddress string `yaml:"callback-address" env:"CALLBACK_ADDRESS" validate:"required,hostname_port"`
	OpenBrowser     bool   `yaml:"open-browser" env:"OPEN_BROWSER"`
	// ServerURL is the sessionboot server the API commands talk to.
	ServerURL string `yaml:"server-url,omitempty" env:"SERVER_URL" validate:"omitempty,url"`
}

type Audit struct {
	Kafka Kafka `yaml:"kafka" envPrefix:"KAFKA_"`
}

type Kafka struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Brokers      []string      `yaml:"brokers,omitempty" env:"BROKERS" validate:"required_if=Enabled true"`
	Topic        string        `yaml:"topic,omitempty" env:"TOPIC" validate:"required_if=Enabled true"`
	Compression  string        `yaml:"compression,omitempty" env:"COMPRESSION" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
	WriteTimeout time.Duration `yaml:"write-timeout,omitempty" env:"WRITE_TIMEOUT"`
	TLS          KafkaTLS      `yaml:"tls" envPrefix:"TLS_"`
	SASL         KafkaSASL     `yaml:"sasl" envPrefix:"SASL_"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled" env:"ENABLED"`
	CAFile             string `yaml:"ca-file,omitempty" env:"CA_FILE"`
	CertFile           string `yaml:"cert-file,omitempty" env:"CERT_FILE"`
	KeyFile            string `yaml:"key-file,omitempty" env:"KEY_FILE"`
	InsecureSkipVerify bool   `yaml:"insecure-skip-verify,omitempty" env:"INSECURE_SKIP_VERIFY"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism,omitempty" env:"MECHANISM" validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	Username  string `yaml:"username,omitempty" env:"USERNAME"`
	Password  string `yaml:"password,omitempty" env:"PASSWORD"`
}

type Logging struct {
	Level       string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

type Telemetry struct {
	// Exporter is none or otlp.
	Exporter    string  `yaml:"exporter" env:"EXPORTER" validate:"oneof=none otlp"`
	Endpoint    string  `yaml:"endpoint,omitempty" env:"ENDPOINT"`
	Insecure    bool    `yaml:"insecure,omitempty" env:"INSECURE"`
	SampleRatio float64 `yaml:"sample-ratio" env:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

func Defaults() Config {
	return Config{
		Identity: identity.Config{
			CacheLocation: identity.CacheLocationLocalStorage,
		},
		Server: Server{
			ListenAddress: ":8080",
			FrontendDir:   "./web/dist",
			SessionTTL:    24 * time.Hour,
			CookieSecure:  true,
			RateLimit: RateLimit{
				RequestsPerSecond: 10,
				Burst:             20,
			},
			Extract: Extract{
				Ghostscript:    "gs",
				MaxUploadBytes: 20 << 20,
			},
		},
		CLI: CLI{
			CallbackAddress: "127.0.0.1:8976",
			OpenBrowser:     true,
		},
		Logging: Logging{
			Level: "info",
		},
		Telemetry: Telemetry{
			Exporter:    "none",
			SampleRatio: 1,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load reads the configuration at path on top of Defaults and applies
// environment overrides. A missing file is not an error when allowMissing is
// set, so a configuration can come from the environment alone.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := Defaults()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && allowMissing:
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Storage is the token storage backend in effect.
func (c Config) Storage() string {
	if c.TokenStorage != "" {
		return c.TokenStorage
	}
	if c.Identity.Persistent() {
		return tokencache.StorageFile
	}
	return tokencache.StorageMemory
}

// Cache builds the token cache selected by the configuration.
func (c Config) Cache() (tokencache.Cache, error) {
	return tokencache.New(c.Storage(), c.TokenFile)
}

// KafkaSinkConfig is nil when the Kafka sink is disabled.
func (c Config) KafkaSinkConfig() (*audit.KafkaSinkConfig, error) {
	k := c.Audit.Kafka
	if !k.Enabled {
		return nil, nil
	}
	out := &audit.KafkaSinkConfig{
		Name:             "kafka",
		Brokers:          k.Brokers,
		Topic:            k.Topic,
		WriteTimeout:     k.WriteTimeout,
		CompressionCodec: k.Compression,
	}
	if k.TLS.Enabled {
		tlsCfg := &audit.KafkaTLSConfig{Enabled: true, InsecureSkipVerify: k.TLS.InsecureSkipVerify}
		var err error
		if tlsCfg.CACert, err = readOptional(k.TLS.CAFile); err != nil {
			return nil, err
		}
		if tlsCfg.ClientCert, err = readOptional(k.TLS.CertFile); err != nil {
			return nil, err
		}
		if tlsCfg.ClientKey, err = readOptional(k.TLS.KeyFile); err != nil {
			return nil, err
		}
		out.TLS = tlsCfg
	}
	if k.SASL.Mechanism != "" {
		out.SASL = &audit.KafkaSASLConfig{
			Mechanism: k.SASL.Mechanism,
			Username:  k.SASL.Username,
			Password:  k.SASL.Password,
		}
	}
	return out, nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
