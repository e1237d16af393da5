// Package config loads the YAML configuration used by the pqueue command.
package config

import (
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/pqueue/internal/logging"
)

// Config is the top-level configuration file.
type Config struct {
	Queue  Queue  `yaml:"queue" validate:"required"`
	Logger Logger `yaml:"logger" validate:"required"`
}

// Queue is the configuration for the queue being operated on
type Queue struct {
	Backend           string `yaml:"backend" validate:"required,oneof=applog snapshot"`
	Path              string `yaml:"path"`
	Codec             string `yaml:"codec" validate:"required,oneof=bson msgpack"`
	InitialFileLength uint64 `yaml:"initial_file_length" validate:"min=256"`
	MaxRecordSize     int    `yaml:"max_record_size" validate:"min=-1"`
}

// Logger is the configuration for the logger
type Logger struct {
	Level      string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"required,oneof=console json"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAge     int    `yaml:"max_age" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is given.
// The queue path has no default and must come from the file or a flag.
func Default() *Config {
	return &Config{
		Queue: Queue{
			Backend:           "applog",
			Codec:             "msgpack",
			InitialFileLength: 4096,
			MaxRecordSize:     64 * 1024 * 1024,
		},
		Logger: Logger{
			Level:      "warn",
			Format:     "console",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load reads the YAML file at path on top of Default and validates the
// result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec // G304: Path is the user's config file
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer func() { _ = f.Close() }()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// LoggingConfig converts the logger section for logging.NewZapLogger.
func (l Logger) LoggingConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:      level,
		Format:     l.Format,
		File:       l.File,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
	}, nil
}
