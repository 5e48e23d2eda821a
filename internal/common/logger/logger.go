package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mealplanner/importer/internal/common/configtypes"
)

// Output names
const (
	OutputConsole = "console"
	OutputFile    = "file"
)

// output is one enabled sink with its runtime-adjustable level.
type output struct {
	name       string
	level      zap.AtomicLevel
	configured zapcore.Level
}

// DynamicLogger is a zap.Logger whose per-output levels can change at runtime.
// The importer starts at INFO or lower so startup is always visible, then drops
// to the configured levels once the service is listening.
type DynamicLogger struct {
	*zap.Logger
	outputs []*output
	closers []io.Closer
}

// New builds a logger with the configured levels applied immediately.
func New(cfg configtypes.LogConfig) (*DynamicLogger, error) {
	return build(cfg, zapcore.InvalidLevel)
}

// NewForStartup builds a logger whose outputs are capped at INFO until
// Activate is called. Outputs configured at DEBUG or INFO are unaffected.
func NewForStartup(cfg configtypes.LogConfig) (*DynamicLogger, error) {
	return build(cfg, zap.InfoLevel)
}

// NewBootstrap returns the console logger used before configuration is read.
func NewBootstrap() *DynamicLogger {
	l, err := New(configtypes.LogConfig{
		Level:   configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{Enabled: true, Format: configtypes.LogFormatConsole},
	})
	if err != nil {
		// console-only configuration cannot fail
		panic(err)
	}
	return l
}

func build(cfg configtypes.LogConfig, startupCap zapcore.Level) (*DynamicLogger, error) {
	global := ParseLevel(cfg.Level)
	dl := &DynamicLogger{}
	var cores []zapcore.Core

	add := func(name, levelName, format string, ws zapcore.WriteSyncer) {
		configured := global
		if levelName != "" {
			configured = ParseLevel(levelName)
		}
		initial := configured
		if startupCap != zapcore.InvalidLevel && initial > startupCap {
			initial = startupCap
		}
		o := &output{name: name, level: zap.NewAtomicLevelAt(initial), configured: configured}
		dl.outputs = append(dl.outputs, o)
		cores = append(cores, zapcore.NewCore(encoderFor(format), ws, o.level))
	}

	if cfg.Console.Enabled {
		add(OutputConsole, cfg.Console.Level, cfg.Console.Format, zapcore.Lock(os.Stdout))
	}
	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("log.file.path must be specified when file logging is enabled")
		}
		rotator := newRotator(cfg.File.Path, cfg.File.Rotation)
		dl.closers = append(dl.closers, rotator)
		add(OutputFile, cfg.File.Level, cfg.File.Format, zapcore.AddSync(rotator))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}

	dl.Logger = zap.New(zapcore.NewTee(cores...))
	return dl, nil
}

// Activate switches every output to its configured level.
func (dl *DynamicLogger) Activate() {
	for _, o := range dl.outputs {
		if o.level.Level() != o.configured {
			dl.Info("Switching log output to configured level",
				zap.String("output", o.name),
				zap.Stringer("level", o.configured))
			o.level.SetLevel(o.configured)
		}
	}
}

// RaiseForShutdown lowers any output above INFO back to INFO so the shutdown
// sequence is logged.
func (dl *DynamicLogger) RaiseForShutdown() {
	changed := false
	for _, o := range dl.outputs {
		if o.level.Level() > zap.InfoLevel {
			o.level.SetLevel(zap.InfoLevel)
			changed = true
		}
	}
	if changed {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

// Close flushes buffered entries and closes file outputs.
func (dl *DynamicLogger) Close() error {
	_ = dl.Sync()
	var firstErr error
	for _, c := range dl.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ParseLevel maps a configured level name to a zap level. Unknown names
// are treated as info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case configtypes.LogLevelDebug:
		return zap.DebugLevel
	case configtypes.LogLevelWarn:
		return zap.WarnLevel
	case configtypes.LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func encoderFor(format string) zapcore.Encoder {
	switch format {
	case configtypes.LogFormatJSON:
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case configtypes.LogFormatText:
		// no ANSI colors in files
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	default:
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
}

func newRotator(path string, r configtypes.RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.MaxSize,
		MaxAge:     r.MaxAge,
		MaxBackups: r.MaxBackups,
		Compress:   r.Compress,
	}
}
