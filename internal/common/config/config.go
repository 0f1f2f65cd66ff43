package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the top-level configuration for the token engine.
	Config struct {
		Port          int                 `yaml:"port"`
		Logger        LoggerConfig        `yaml:"logger"`
		Storage       StorageConfig       `yaml:"storage"`
		Signer        SignerConfig        `yaml:"signer"`
		UserDirectory UserDirectoryConfig `yaml:"user_directory"`
		Clients       []SeedClient        `yaml:"clients"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
	}

	// StorageConfig selects the record store backend.
	StorageConfig struct {
		Type      string         `yaml:"type"` // memory, redis, sqlite, postgres, mysql
		Retention time.Duration  `yaml:"retention"`
		Redis     RedisConfig    `yaml:"redis"`
		Database  DatabaseConfig `yaml:"database"`
	}

	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	DatabaseConfig struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"` // file path for sqlite
		SSLMode  string `yaml:"sslmode"`
	}

	// SignerConfig holds the signing key material and token lifetimes.
	SignerConfig struct {
		Issuer          string        `yaml:"issuer"`
		SecretKey       string        `yaml:"secret_key"`
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
		CodeTTL         time.Duration `yaml:"code_ttl"`
	}

	// UserDirectoryConfig points at the external user-directory service.
	UserDirectoryConfig struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	}

	// SeedClient provisions a registered client at startup.
	SeedClient struct {
		ClientID      string   `yaml:"client_id"`
		SecretHash    string   `yaml:"secret_hash"` // bcrypt, never plaintext
		GrantTypes    []string `yaml:"grant_types"`
		RedirectURIs  []string `yaml:"redirect_uris"`
		AllowedScopes []string `yaml:"allowed_scopes"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*Config, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := resolvePath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, cfgPath, err
	}

	return &cfg, cfgPath, nil
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.Retention <= 0 {
		c.Storage.Retention = 24 * time.Hour
	}
	if c.Signer.AccessTokenTTL <= 0 {
		c.Signer.AccessTokenTTL = time.Hour
	}
	if c.Signer.RefreshTokenTTL <= 0 {
		c.Signer.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Signer.CodeTTL <= 0 {
		c.Signer.CodeTTL = 10 * time.Minute
	}
	if c.UserDirectory.Timeout <= 0 {
		c.UserDirectory.Timeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Signer.SecretKey == "" {
		return fmt.Errorf("signer.secret_key is required")
	}
	if c.Signer.RefreshTokenTTL < c.Signer.AccessTokenTTL {
		return fmt.Errorf("signer.refresh_token_ttl must not be shorter than access_token_ttl")
	}
	return nil
}

// resolvePath returns the path to the configuration file.
//
// Priority:
// 1. If filename is an absolute path, return it directly.
// 2. Check ./{filename} and ./configs/{filename}
// 3. Otherwise, fallback to /etc/authd/{filename}
func resolvePath(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}

	for _, candidate := range []string{filename, filepath.Join("configs", filename)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return filepath.Join("/etc/authd", filename)
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
