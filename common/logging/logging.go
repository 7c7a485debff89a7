// Package logging implements support for structured logging.
//
// Loggers are obtained per module with GetLogger and may be created at
// package init time, before the backend is configured. Once Initialize
// runs, every logger created so far is switched over to the configured
// output and level.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/pflag"
)

var (
	backend = logBackend{
		baseLogger:   log.NewNopLogger(),
		defaultLevel: LevelError,
	}

	_ pflag.Value = (*Level)(nil)
	_ pflag.Value = (*Format)(nil)
)

// Format is a logging format.
type Format uint

const (
	// FmtLogfmt is the "logfmt" logging format.
	FmtLogfmt Format = iota
	// FmtJSON is the JSON logging format.
	FmtJSON
)

var formatNames = []string{
	FmtLogfmt: "logfmt",
	FmtJSON:   "json",
}

func (f *Format) String() string {
	if int(*f) >= len(formatNames) {
		return fmt.Sprintf("[unknown format: %d]", uint(*f))
	}
	return formatNames[*f]
}

// Set parses a format name, ignoring case.
func (f *Format) Set(s string) error {
	for i, name := range formatNames {
		if strings.EqualFold(s, name) {
			*f = Format(i)
			return nil
		}
	}
	return fmt.Errorf("logging: invalid log format: '%s'", s)
}

// Type returns the list of supported Formats.
func (f *Format) Type() string {
	return "[" + strings.Join(formatNames, ",") + "]"
}

// Level is a log level.
type Level uint

const (
	// LevelDebug is the log level for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the log level for informative messages.
	LevelInfo
	// LevelWarn is the log level for warning messages.
	LevelWarn
	// LevelError is the log level for error messages.
	LevelError
)

var levels = []struct {
	name    string
	allow   func() level.Option
	leveled func(log.Logger) log.Logger
}{
	LevelDebug: {"debug", level.AllowDebug, level.Debug},
	LevelInfo:  {"info", level.AllowInfo, level.Info},
	LevelWarn:  {"warn", level.AllowWarn, level.Warn},
	LevelError: {"error", level.AllowError, level.Error},
}

func (l *Level) String() string {
	if int(*l) >= len(levels) {
		return fmt.Sprintf("[unknown level: %d]", uint(*l))
	}
	return levels[*l].name
}

// Set parses a level name, ignoring case.
func (l *Level) Set(s string) error {
	for i, v := range levels {
		if strings.EqualFold(s, v.name) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("logging: invalid log level: '%s'", s)
}

// Type returns the list of supported Levels.
func (l *Level) Type() string {
	names := make([]string, 0, len(levels))
	for _, v := range levels {
		names = append(names, v.name)
	}
	return "[" + strings.Join(names, ",") + "]"
}

// ParseModuleLevels parses a map of module name prefixes to level names.
func ParseModuleLevels(m map[string]string) (map[string]Level, error) {
	if len(m) == 0 {
		return nil, nil
	}
	lvls := make(map[string]Level, len(m))
	for module, name := range m {
		var lvl Level
		if err := lvl.Set(name); err != nil {
			return nil, fmt.Errorf("module '%s': %w", module, err)
		}
		lvls[module] = lvl
	}
	return lvls, nil
}

// Logger is a logger instance.
type Logger struct {
	logger log.Logger
	level  Level
	module string
}

func (l *Logger) log(lvl Level, msg string, keyvals []interface{}) {
	if lvl < l.level {
		return
	}
	_ = levels[lvl].leveled(l.logger).Log(append([]interface{}{"msg", msg}, keyvals...)...)
}

// Debug logs the message and key value pairs at the Debug log level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(LevelDebug, msg, keyvals)
}

// Info logs the message and key value pairs at the Info log level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(LevelInfo, msg, keyvals)
}

// Warn logs the message and key value pairs at the Warn log level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(LevelWarn, msg, keyvals)
}

// Error logs the message and key value pairs at the Error log level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(LevelError, msg, keyvals)
}

// With returns a clone of the logger with the provided key/value pairs
// added as context.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	clone := *l
	clone.logger = log.With(l.logger, keyvals...)
	return &clone
}

// GetLogger creates a new logger instance with the specified module.
//
// This may be called from any point, including before Initialize is
// called, allowing for the construction of a package level Logger.
func GetLogger(module string) *Logger {
	return backend.getLogger(module)
}

// Initialize initializes the logging backend to write to the provided
// Writer with the given format and default level. Loggers whose module
// starts with a key of moduleLvls use the level of the longest such key.
// If the Writer is nil, all log output will be silently discarded.
func Initialize(w io.Writer, format Format, defaultLvl Level, moduleLvls map[string]Level) error {
	backend.Lock()
	defer backend.Unlock()

	if backend.initialized {
		return fmt.Errorf("logging: already initialized")
	}

	logger, err := newBaseLogger(w, format, defaultLvl)
	if err != nil {
		return err
	}

	backend.baseLogger = logger
	backend.moduleLevels = moduleLvls
	backend.defaultLevel = defaultLvl
	backend.initialized = true

	for _, l := range backend.pending {
		l.swap.Swap(logger)
		l.logger.level = backend.levelFor(l.logger.module)
	}
	backend.pending = nil

	return nil
}

func newBaseLogger(w io.Writer, format Format, defaultLvl Level) (log.Logger, error) {
	if w == nil {
		return log.NewNopLogger(), nil
	}

	var logger log.Logger
	w = log.NewSyncWriter(w)
	switch format {
	case FmtLogfmt:
		logger = log.NewLogfmtLogger(w)
	case FmtJSON:
		logger = log.NewJSONLogger(w)
	default:
		return nil, fmt.Errorf("logging: unsupported log format: %v", format)
	}

	// Module levels may be lower than the default, so the filter only
	// drops what no logger can emit.
	logger = level.NewFilter(logger, levels[LevelDebug].allow())
	return log.With(logger, "ts", log.DefaultTimestampUTC), nil
}

// pendingLogger is a logger created before Initialize.
type pendingLogger struct {
	swap   *log.SwapLogger
	logger *Logger
}

type logBackend struct {
	sync.Mutex

	baseLogger   log.Logger
	pending      []*pendingLogger
	defaultLevel Level
	moduleLevels map[string]Level

	initialized bool
}

func (b *logBackend) levelFor(module string) Level {
	lvl, best := b.defaultLevel, -1
	for prefix, v := range b.moduleLevels {
		if strings.HasPrefix(module, prefix) && len(prefix) > best {
			lvl, best = v, len(prefix)
		}
	}
	return lvl
}

func (b *logBackend) getLogger(module string) *Logger {
	// log.DefaultCaller plus one frame for Logger.log and one for the
	// leveled wrapper.
	const callerUnwind = 5

	b.Lock()
	defer b.Unlock()

	base := b.baseLogger
	var swap *log.SwapLogger
	if !b.initialized {
		swap = &log.SwapLogger{}
		base = swap
	}

	keyvals := []interface{}{"caller", log.Caller(callerUnwind)}
	if module != "" {
		keyvals = append([]interface{}{"module", module}, keyvals...)
	}

	l := &Logger{
		logger: log.WithPrefix(base, keyvals...),
		level:  b.levelFor(module),
		module: module,
	}
	if swap != nil {
		b.pending = append(b.pending, &pendingLogger{swap: swap, logger: l})
	}
	return l
}
