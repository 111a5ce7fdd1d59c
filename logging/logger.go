package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/companion/pkg/paths"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	logger := logrus.New()
	logCfg := FromEnv()

	level, err := logrus.ParseLevel(logCfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	colorEnabled := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format, ColorEnabled: colorEnabled})
	}

	var writers []io.Writer

	logFilePath := logCfg.File.Path
	if logFilePath == "" {
		// Default to the daemon's own log directory, keyed by component and date,
		// rather than a project-relative path — companion has no "current project".
		dateStr := time.Now().Format("2006-01-02")
		if dir := paths.LogDir(); dir != "" {
			logFilePath = filepath.Join(dir, fmt.Sprintf("%s-%s.log", component, dateStr))
		}
	}

	if logFilePath != "" {
		dir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			if logCfg.File.Enabled {
				logger.Warnf("failed to create log directory %s: %v", dir, err)
			}
		} else if file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			writers = append(writers, file)
		} else if logCfg.File.Enabled {
			logger.Warnf("failed to open log file %s: %v", logFilePath, err)
		}
	}

	shouldLogToStderr := false
	switch logCfg.Format.StructuredToStderr {
	case "always":
		shouldLogToStderr = true
	case "never":
		shouldLogToStderr = false
	default: // "auto"
		isDebug := os.Getenv("COMPANION_DEBUG") == "1" || logger.GetLevel() == logrus.DebugLevel
		isInteractive := colorEnabled
		if isDebug || !isInteractive {
			shouldLogToStderr = true
		}
	}

	if shouldLogToStderr {
		writers = append(writers, os.Stderr)
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}
