package logger

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Structured logger. Key/value pairs follow the message.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type charmLogger struct {
	logger *charmlog.Logger
}

func (l *charmLogger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(msg, keyvals...)
}

func (l *charmLogger) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

func (l *charmLogger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
}

func (l *charmLogger) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}

func (l *charmLogger) With(keyvals ...any) Logger {
	return &charmLogger{logger: l.logger.With(keyvals...)}
}

func (l LogLevel) ToCharmlogLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case InfoLevel:
		return charmlog.InfoLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

type Config struct {
	Level      LogLevel
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
}

func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: "15:04:05",
	}
}

func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	logger := charmlog.NewWithOptions(output, charmlog.Options{
		ReportCaller:    cfg.AddSource,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
		Level:           cfg.Level.ToCharmlogLevel(),
	})
	if cfg.JSON {
		logger.SetFormatter(charmlog.JSONFormatter)
	} else {
		logger.SetFormatter(charmlog.TextFormatter)
	}
	return &charmLogger{logger: logger}
}

// Logger that drops everything. Used by library types when no logger is configured.
func Discard() Logger {
	return NewLogger(&Config{Output: io.Discard, Level: ErrorLevel})
}

func AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-level", string(InfoLevel), "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	cmd.PersistentFlags().Bool("log-source", false, "include source location in logs")
}

// Builds logger from flags registered by [AddFlags].
func FromFlags(cmd *cobra.Command) (Logger, error) {
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}
	logJSON, err := cmd.Flags().GetBool("log-json")
	if err != nil {
		return nil, err
	}
	logSource, err := cmd.Flags().GetBool("log-source")
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Level = LogLevel(logLevel)
	cfg.JSON = logJSON
	cfg.AddSource = logSource
	cfg.Output = cmd.ErrOrStderr()
	return NewLogger(cfg), nil
}
