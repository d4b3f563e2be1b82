package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/cardcue/internal/fsrs"
)

// EnvPrefix prefixes every environment variable the service reads. Nested
// keys are joined with a double underscore: CARDCUE_SERVER__ADDRESS.
const EnvPrefix = "CARDCUE_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Session   SessionConfig   `koanf:"session"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Import    ImportConfig    `koanf:"import"`
}

type ServerConfig struct {
	Address         string        `koanf:"address" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret" validate:"omitempty,min=32"`
	Audience  string        `koanf:"audience"`
	Issuer    string        `koanf:"issuer"`
	Leeway    time.Duration `koanf:"leeway" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type SchedulerConfig struct {
	Parameters       string  `koanf:"parameters" validate:"required"`
	DesiredRetention float64 `koanf:"desired_retention" validate:"gt=0,lt=1"`
	MaximumInterval  int     `koanf:"maximum_interval" validate:"gte=1,lte=36500"`
}

type SessionConfig struct {
	OperationTimeout time.Duration `koanf:"operation_timeout" validate:"gt=0"`
}

type TracingConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint" validate:"required_if=Enabled true"`
	Insecure bool   `koanf:"insecure"`
}

type ImportConfig struct {
	CacheDir string `koanf:"cache_dir" validate:"required"`
}

// RegisterFlags defines every setting as a flag on flags. The flag defaults are
// the configuration defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML configuration file")
	flags.String("env-file", ".env", "path to a dotenv file; missing files are ignored")

	flags.String("server.address", ":8080", "HTTP listen address")
	flags.Duration("server.read_timeout", 10*time.Second, "HTTP read timeout")
	flags.Duration("server.write_timeout", 15*time.Second, "HTTP write timeout")
	flags.Duration("server.shutdown_timeout", 20*time.Second, "graceful shutdown timeout")
	flags.StringSlice("server.cors_origins", []string{"http://localhost:4321"}, "allowed CORS origins")

	flags.String("database.driver", "sqlite", "database driver: sqlite or postgres")
	flags.String("database.dsn", "cardcue.db", "database connection string")

	flags.String("auth.jwt_secret", "", "HS256 secret used to verify access tokens")
	flags.String("auth.audience", "authenticated", "expected token audience (empty to skip)")
	flags.String("auth.issuer", "", "expected token issuer (empty to skip)")
	flags.Duration("auth.leeway", 30*time.Second, "allowed clock skew when checking token times")

	flags.String("log.level", "info", "log level: debug, info, warn or error")
	flags.String("log.format", "json", "log format: json or console")

	flags.String("scheduler.parameters", fsrs.DefaultVersion, "scheduler parameter set")
	flags.Float64("scheduler.desired_retention", 0.9, "target probability of recall when a card is due")
	flags.Int("scheduler.maximum_interval", 36500, "longest interval in days")

	flags.Duration("session.operation_timeout", 5*time.Second, "timeout for each storage call of a session operation")

	flags.Bool("tracing.enabled", false, "export traces over OTLP/gRPC")
	flags.String("tracing.endpoint", "localhost:4317", "OTLP/gRPC collector address")
	flags.Bool("tracing.insecure", true, "disable TLS towards the collector")

	flags.String("import.cache_dir", "repos", "directory git deck repositories are checked out into")
}

// Load assembles the configuration. Later sources override earlier ones:
// flag defaults, the YAML file named by --config, the dotenv file and process
// environment, and finally flags set on the command line.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if path, _ := flags.GetString("env-file"); path != "" {
		// Variables already in the environment win over the file.
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Unchanged flags only fill keys no other source set.
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every setting and that the scheduler settings form a valid
// parameter set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.SchedulerParams(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SchedulerParams returns the configured parameter set with the retention
// and interval overrides applied. Overrides are recorded in the version, so
// "fsrs-5+r0.85+i365" never reads as plain "fsrs-5".
func (c *Config) SchedulerParams() (fsrs.Params, error) {
	p, err := fsrs.LookupParams(c.Scheduler.Parameters)
	if err != nil {
		return fsrs.Params{}, err
	}
	if r := c.Scheduler.DesiredRetention; r != p.DesiredRetention {
		p.DesiredRetention = r
		p.Version += "+r" + strconv.FormatFloat(r, 'g', -1, 64)
	}
	if i := c.Scheduler.MaximumInterval; i != p.MaximumInterval {
		p.MaximumInterval = i
		p.Version += "+i" + strconv.Itoa(i)
	}
	return p, p.Validate()
}
