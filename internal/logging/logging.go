package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

type Config struct {
	Level       string
	Format      string // json|console
	Environment string
	Output      io.Writer
}

// ConfigFromEnv reads LOG_LEVEL, LOG_FORMAT and ENVIRONMENT. Unset values take
// the environment's defaults: production logs info as JSON, development and
// test log debug to the console.
func ConfigFromEnv() Config {
	cfg := Config{
		Level:       strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		Format:      strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
		Environment: strings.ToLower(strings.TrimSpace(os.Getenv("ENVIRONMENT"))),
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvProduction
	}
	switch cfg.Environment {
	case EnvDevelopment, EnvTest:
		if cfg.Format == "" {
			cfg.Format = "console"
		}
		if cfg.Level == "" {
			cfg.Level = "debug"
		}
	default:
		if cfg.Format == "" {
			cfg.Format = "json"
		}
		if cfg.Level == "" {
			cfg.Level = "info"
		}
	}
	return cfg
}

func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("logging: invalid level %q", cfg.Level)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.Format {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logging: invalid format %q (expected json|console)", cfg.Format)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Environment == EnvDevelopment {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger := zap.New(core, opts...)
	if cfg.Environment != "" {
		logger = logger.With(zap.String("env", cfg.Environment))
	}
	return logger, nil
}
