package util

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func NewLogger(level string) zerolog.Logger {
	return NewLoggerWithFormat(level, "json")
}

// NewLoggerWithFormat builds a stdout logger; format "console" switches to the human readable writer.
func NewLoggerWithFormat(level, format string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return newLogger(out, level)
}

func newLogger(out io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(lvl)
}

// ForProduct scopes a logger to a single product pipeline.
func ForProduct(log zerolog.Logger, productID, component string) zerolog.Logger {
	return log.With().Str("product", productID).Str("component", component).Logger()
}
