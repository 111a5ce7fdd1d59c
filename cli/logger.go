package cli

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LoggerOption configures a logger returned by NewLogger.
type LoggerOption func(*logrus.Logger)

func WithOutput(w io.Writer) LoggerOption {
	return func(l *logrus.Logger) { l.SetOutput(w) }
}

func WithLevel(level logrus.Level) LoggerOption {
	return func(l *logrus.Logger) { l.SetLevel(level) }
}

func WithFormatter(formatter logrus.Formatter) LoggerOption {
	return func(l *logrus.Logger) { l.SetFormatter(formatter) }
}

// NewLogger creates a standalone logrus.Logger for commands that need
// one outside of the package-scoped loggers logging.NewLogger returns.
func NewLogger(opts ...LoggerOption) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	for _, opt := range opts {
		opt(logger)
	}
	return logger
}
