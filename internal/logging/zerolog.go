package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hydrodrone/mission/internal/dispatcher"
)

// zerologLevel converts a string log level to zerolog.Level.
func zerologLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewZerolog builds the logger used by the bus, storage and influx
// managers: console format to stdout, and without colors to file when set.
func NewZerolog(file io.Writer, level string) zerolog.Logger {
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
	}
	if file != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        file,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerologLevel(level)).
		With().Timestamp().Logger()
}

// BusLogger writes dispatcher events through zerolog. Errors and durations
// keep their zerolog types so the console writer renders them as such.
type BusLogger struct {
	z zerolog.Logger
}

var _ dispatcher.Logger = (*BusLogger)(nil)

// NewBusLogger adapts z for the bus. Every event carries component=bus.
func NewBusLogger(z zerolog.Logger) *BusLogger {
	return &BusLogger{z: z.With().Str("component", "bus").Logger()}
}

func (l *BusLogger) Debug(msg string, keysAndValues ...any) {
	emit(l.z.Debug(), msg, keysAndValues)
}

func (l *BusLogger) Info(msg string, keysAndValues ...any) {
	emit(l.z.Info(), msg, keysAndValues)
}

func (l *BusLogger) Error(msg string, keysAndValues ...any) {
	emit(l.z.Error(), msg, keysAndValues)
}

// emit drops a trailing key without a value and any non-string key.
func emit(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case string:
			e = e.Str(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
