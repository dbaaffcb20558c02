// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/storeops/storeops/internal/config"
)

// New returns a logger writing JSON lines to the configured file, or text
// to stderr when no file is set. The returned closer releases the file.
func New(cfg *config.LoggingConfig) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	log.SetLevel(level)

	if cfg.File == "" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.SetOutput(os.Stderr)
		return log, io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(f)
	return log, f, nil
}

// ParseLevel maps a configured level to logrus. Empty means info.
func ParseLevel(level config.LogLevel) (logrus.Level, error) {
	switch level {
	case "", config.LogLevelInfo:
		return logrus.InfoLevel, nil
	case config.LogLevelDebug:
		return logrus.DebugLevel, nil
	case config.LogLevelWarn:
		return logrus.WarnLevel, nil
	case config.LogLevelError:
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// LogError logs err with the operation and store it belongs to.
func LogError(log logrus.FieldLogger, op, storeID string, data any, err error) {
	fields := logrus.Fields{"op": op, "store_id": storeID}
	if data != nil {
		fields["data"] = data
	}
	log.WithFields(fields).Error(err.Error())
}
