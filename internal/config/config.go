package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvMasterKey    = "MASTER_KEY"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// ErrMissingMasterKey indicates no vault master key is configured.
var ErrMissingMasterKey = errors.New("missing vault master key (set `vault.master-key` in config file or MASTER_KEY)")

// ErrMissingJWTSecret indicates no hub signing secret is configured.
var ErrMissingJWTSecret = errors.New("missing jwt secret (set `jwt.secret` in config file or JWT_SECRET)")

// JWTConfig holds the hub-wide token signing secret. Token lifetime is a
// fixed issuance-time constant, not a config value.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// LoadJWTConfig loads the hub signing secret from the YAML config file,
// with the JWT_SECRET environment variable taking precedence.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	var result JWTConfig

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}

	if strings.TrimSpace(result.Secret) == "" {
		return JWTConfig{}, ErrMissingJWTSecret
	}
	return result, nil
}

// LoadMasterKey loads the 32-byte vault master key (hex-encoded) from the
// MASTER_KEY environment variable or the YAML config file.
func LoadMasterKey(configPath string) ([]byte, error) {
	// fileConfig maps the YAML fields needed for vault settings.
	type fileConfig struct {
		Vault struct {
			MasterKey string `yaml:"master-key"`
		} `yaml:"vault"`
	}

	raw := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if raw == "" {
		data, errRead := os.ReadFile(configPath)
		if errRead == nil {
			var cfg fileConfig
			if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
				raw = strings.TrimSpace(cfg.Vault.MasterKey)
			}
		}
	}
	if raw == "" {
		return nil, ErrMissingMasterKey
	}

	key, errDecode := hex.DecodeString(raw)
	if errDecode != nil {
		return nil, fmt.Errorf("decode master key: %w", errDecode)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
