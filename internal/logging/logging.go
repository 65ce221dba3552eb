package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config selects level and output format.
type Config struct {
	Level  string
	Format string // "json" or "text"
}

// New builds the process logger: JSON with RFC3339 timestamps unless text is
// asked for. Unknown formats and levels are errors.
func New(cfg Config, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stdout
	}
	logger := logrus.New()
	logger.SetOutput(out)

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "time",
				logrus.FieldKeyMsg:  "msg",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)
	return logger, nil
}
