// Package observability provides the concrete logging, metrics, and tracing
// implementations behind the core seams.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"genomicore/internal/core"
)

var _ core.Logger = (*ZerologLogger)(nil)

// ZerologLogger adapts zerolog to core.Logger. Key/value pairs become fields.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewLogger builds a logger writing to w. format is "console" or "json";
// level is any zerolog level name and defaults to info.
func NewLogger(w io.Writer, level, format string) (*ZerologLogger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		lvl = parsed
	}
	var out io.Writer
	switch strings.ToLower(format) {
	case "", "json":
		out = w
	case "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	zl := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return &ZerologLogger{zl: zl}, nil
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(zl zerolog.Logger) *ZerologLogger { return &ZerologLogger{zl: zl} }

// With returns a child logger carrying the given fields on every line.
func (l *ZerologLogger) With(keysAndValues ...any) *ZerologLogger {
	return &ZerologLogger{zl: l.zl.With().Fields(pairs(keysAndValues)).Logger()}
}

func (l *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	l.zl.Debug().Fields(pairs(keysAndValues)).Msg(msg)
}

func (l *ZerologLogger) Info(msg string, keysAndValues ...any) {
	l.zl.Info().Fields(pairs(keysAndValues)).Msg(msg)
}

func (l *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	l.zl.Warn().Fields(pairs(keysAndValues)).Msg(msg)
}

func (l *ZerologLogger) Error(msg string, keysAndValues ...any) {
	l.zl.Error().Fields(pairs(keysAndValues)).Msg(msg)
}

// pairs converts alternating key/value arguments into a field map. Non-string
// keys are formatted; a dangling key gets a nil value.
func pairs(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	fields := make(map[string]any, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		var val any
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		if err, isErr := val.(error); isErr && err != nil {
			val = err.Error()
		}
		fields[key] = val
	}
	return fields
}
