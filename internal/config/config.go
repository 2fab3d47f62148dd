// Package config loads server settings from an optional .env file, an
// optional config.yaml and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"formkeep/internal/storage"
	"formkeep/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig   `mapstructure:"server"`
	Store      store.Config   `mapstructure:"store"`
	Storage    storage.Config `mapstructure:"storage"`
	Log        LogConfig      `mapstructure:"log"`
	Validation string         `mapstructure:"validation"` // "presence" or "strict"
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Addr is the listen address for the configured port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// Load reads the configuration. Config files are looked up in dirs, or in
// ./configs and . when none are given.
func Load(dirs ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(dirs) == 0 {
		dirs = []string{"./configs", "."}
	}
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Store.Backend == "" && cfg.Store.TursoURL != "" {
		cfg.Store.Backend = store.BackendTurso
	}
	cfg.Store = cfg.Store.WithDefaults()
	if err := cfg.Store.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	cfg.Server.CORSOrigins = splitOrigins(cfg.Server.CORSOrigins)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8069)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("validation", "presence")
}

func bindEnvVariables(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.cors_origins", "CORS_ORIGINS")

	// Store
	v.BindEnv("store.backend", "DB_BACKEND")
	v.BindEnv("store.sqlite_path", "SQLITE_PATH")
	v.BindEnv("store.turso_url", "TURSO_DATABASE_URL")
	v.BindEnv("store.turso_token", "TURSO_AUTH_TOKEN")
	v.BindEnv("store.file_path", "FILE_STORE_PATH")

	// S3 exports
	v.BindEnv("storage.endpoint", "AWS_ENDPOINT_URL_S3")
	v.BindEnv("storage.access_key", "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.secret_key", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("storage.bucket", "BUCKET_NAME")

	// Logging
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")

	v.BindEnv("validation", "FORMKEEP_VALIDATION")
}

// splitOrigins accepts both a YAML list and a comma separated env value.
func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, origin := range strings.Split(item, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				out = append(out, origin)
			}
		}
	}
	return out
}
