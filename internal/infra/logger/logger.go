package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the root logger.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Logger implements waLog.Logger on top of zerolog.
type Logger struct {
	module string
	base   zerolog.Logger
	zl     zerolog.Logger
	closer io.Closer
}

// New creates a console logger for the given module.
func New(module string, level string) *Logger {
	return NewWithOptions(module, Options{Level: level})
}

// NewWithOptions creates a logger that writes to stderr and, when File is set,
// to a size-rotated log file.
func NewWithOptions(module string, opts Options) *Logger {
	var console io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}

	var (
		out    = console
		closer io.Closer
	)
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, rotator)
		closer = rotator
	}

	base := zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()
	l := FromZerolog(module, base)
	l.closer = closer
	return l
}

// FromZerolog wraps an existing zerolog logger, mostly for tests.
func FromZerolog(module string, base zerolog.Logger) *Logger {
	zl := base
	if module != "" {
		zl = base.With().Str("module", module).Logger()
	}
	return &Logger{module: module, base: base, zl: zl}
}

// ParseLevel converts a level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Sub creates a sub-logger with a new module name.
func (l *Logger) Sub(module string) waLog.Logger {
	newModule := module
	if l.module != "" {
		newModule = l.module + "/" + module
	}
	return FromZerolog(newModule, l.base)
}

// Zerolog exposes the underlying logger for libraries that take one directly.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

func (l *Logger) Debugf(msg string, args ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprintf(msg, args...))
}

func (l *Logger) Infof(msg string, args ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintf(msg, args...))
}

func (l *Logger) Warnf(msg string, args ...interface{}) {
	l.zl.Warn().Msg(fmt.Sprintf(msg, args...))
}

func (l *Logger) Errorf(msg string, args ...interface{}) {
	l.zl.Error().Msg(fmt.Sprintf(msg, args...))
}

// Close flushes the rotating file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Ensure Logger implements waLog.Logger.
var _ waLog.Logger = (*Logger)(nil)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
