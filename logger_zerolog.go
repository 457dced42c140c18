package msgsock

import (
	"fmt"

	"github.com/rs/zerolog"
)

// zerologLogger adapts a zerolog.Logger to the Logger interface,
// mapping slog-style alternating key-value args onto zerolog fields.
type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps a zerolog.Logger so it can be installed with
// LoggerOption or ServerLoggerOption.
func NewZerologLogger(log zerolog.Logger) Logger {
	return &zerologLogger{log: log}
}

func (l *zerologLogger) Debug(msg string, args ...any) {
	emit(l.log.Debug(), msg, args)
}

func (l *zerologLogger) Info(msg string, args ...any) {
	emit(l.log.Info(), msg, args)
}

func (l *zerologLogger) Warn(msg string, args ...any) {
	emit(l.log.Warn(), msg, args)
}

func (l *zerologLogger) Error(msg string, args ...any) {
	emit(l.log.Error(), msg, args)
}

func emit(e *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}
