// Package config loads the minicached settings.
//
// Settings come from, in increasing order of precedence: built-in defaults,
// an optional .env file, MINICACHE_* environment variables and command-line
// flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"

	"github.com/pior/minicache/protocol"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MINICACHE"

// Config holds the server settings.
type Config struct {
	Host           string        `envconfig:"HOST" default:""`
	Port           int           `envconfig:"PORT" default:"11211"`
	MaxConns       int           `envconfig:"MAX_CONNS" default:"1024"`
	IdleTimeout    time.Duration `envconfig:"IDLE_TIMEOUT" default:"0s"`    // 0 disables it
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`  // 0 disables it
	MaxValueLength int           `envconfig:"MAX_VALUE_LENGTH" default:"1048576"`
	Shards         int           `envconfig:"SHARDS" default:"16"`
	AdminAddr      string        `envconfig:"ADMIN_ADDR" default:""` // Empty disables the admin HTTP server
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool          `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

// Address returns the listen address in host:port format.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level returns the parsed log level.
func (c *Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// Validate checks that every setting is in range.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("max conns must be positive, got %d", c.MaxConns))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("idle timeout must not be negative, got %s", c.IdleTimeout))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("write timeout must not be negative, got %s", c.WriteTimeout))
	}
	if c.MaxValueLength < 1 || c.MaxValueLength > protocol.MaxDataLength {
		errs = append(errs, fmt.Errorf("max value length must be between 1 and %d, got %d", protocol.MaxDataLength, c.MaxValueLength))
	}
	if c.Shards < 1 {
		errs = append(errs, fmt.Errorf("shards must be positive, got %d", c.Shards))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			errs = append(errs, fmt.Errorf("admin address: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads the configuration for the command line args (without the
// program name) and validates it. Flag parse errors, flag.ErrHelp included,
// are returned as is. Usage goes to output.
func Load(args []string, output io.Writer) (*Config, error) {
	var (
		cfg       Config
		envFile   string
		port      int
		host      string
		adminAddr string
		logLevel  string
		maxConns  int
	)

	fs := flag.NewFlagSet("minicached", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&envFile, "env-file", ".env", "Optional dotenv file")
	fs.IntVar(&port, "port", 0, "TCP port to listen on (default 11211)")
	fs.IntVar(&port, "p", 0, "Shorthand for -port")
	fs.StringVar(&host, "host", "", "Host address to bind to")
	fs.StringVar(&adminAddr, "admin", "", "Admin HTTP address, e.g. 127.0.0.1:8080")
	fs.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default info)")
	fs.IntVar(&maxConns, "max-conns", 0, "Maximum concurrent connections (default 1024)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	// Existing environment variables win over the file.
	if err := godotenv.Load(envFile); err != nil && envFileRequired(fs) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port", "p":
			cfg.Port = port
		case "host":
			cfg.Host = host
		case "admin":
			cfg.AdminAddr = adminAddr
		case "log-level":
			cfg.LogLevel = logLevel
		case "max-conns":
			cfg.MaxConns = maxConns
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envFileRequired reports whether -env-file was given explicitly; the
// default .env is optional.
func envFileRequired(fs *flag.FlagSet) bool {
	required := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "env-file" {
			required = true
		}
	})
	return required
}
