package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/target/taskrelay/config"
)

const defaultEnvFile = ".env"

// InitLogger initializes the structured logger. Development mode logs text at debug level.
func InitLogger(isDev bool) *slog.Logger {
	var handler slog.Handler
	if isDev {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// EnvFiles are dotenv files layered under the process environment, earlier files
	// winning. Empty means an optional ./.env; listed files must exist.
	EnvFiles []string
	// Environ replaces os.Environ when non-nil.
	Environ map[string]string
}

// LoadConfig loads configuration from the process environment and an optional ./.env.
func LoadConfig() (config.AppConfig, error) {
	return LoadConfigWithOptions(LoadOptions{})
}

// LoadConfigWithOptions parses AppConfig from opts and applies Sanitize.
// Variables already present in the environment take precedence over dotenv files.
func LoadConfigWithOptions(opts LoadOptions) (config.AppConfig, error) {
	fileVars, err := readEnvFiles(opts.EnvFiles)
	if err != nil {
		return config.AppConfig{}, err
	}

	environ := opts.Environ
	if environ == nil {
		environ = env.ToMap(os.Environ())
	}
	merged := make(map[string]string, len(fileVars)+len(environ))
	maps.Copy(merged, fileVars)
	maps.Copy(merged, environ)

	var cfg config.AppConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: merged}); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	optional := len(files) == 0
	if optional {
		files = []string{defaultEnvFile}
	}

	out := make(map[string]string)
	// Reverse so the first listed file wins on conflicts.
	for i := len(files) - 1; i >= 0; i-- {
		vars, err := godotenv.Read(files[i])
		if err != nil {
			if optional && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load env file %s: %w", files[i], err)
		}
		maps.Copy(out, vars)
	}
	return out, nil
}

// ValidateServiceConfig validates that at least one service is enabled.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	if cfg.Tasks.ArchiveEnabled && strings.TrimSpace(cfg.Postgres.Host) == "" {
		return errors.New("task archive is enabled but DB_HOST is empty")
	}
	return nil
}

// GetEnabledServices returns enabled service names in declaration order.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Validation reports the error.
		return []string{}
	}

	enabledServices := make([]string, 0, len(services))
	for _, mode := range config.ValidServiceModes() {
		if services[mode] {
			enabledServices = append(enabledServices, string(mode))
		}
	}
	return enabledServices
}
