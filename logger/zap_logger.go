package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gaestalt/lockd/types"
)

// ZapLogger adapts a zap.SugaredLogger to the Logger interface.
// It is the production backend used by the server binary.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a production zap logger at the given minimum level.
// Unknown level strings fall back to info.
func NewZapLogger(minLevelStr string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(minLevelStr))
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: base.Sugar()}, nil
}

// NewZapLoggerFromCore wraps an existing zap logger, mainly for tests that
// want to capture output with an observer core.
func NewZapLoggerFromCore(base *zap.Logger) Logger {
	return &ZapLogger{sugar: base.Sugar()}
}

func zapLevel(levelStr string) zapcore.Level {
	switch parseLogLevel(levelStr) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *ZapLogger) Debugw(msg string, kvs ...any) { l.sugar.Debugw(msg, kvs...) }
func (l *ZapLogger) Infow(msg string, kvs ...any)  { l.sugar.Infow(msg, kvs...) }
func (l *ZapLogger) Warnw(msg string, kvs ...any)  { l.sugar.Warnw(msg, kvs...) }
func (l *ZapLogger) Errorw(msg string, kvs ...any) { l.sugar.Errorw(msg, kvs...) }
func (l *ZapLogger) Fatalw(msg string, kvs ...any) { l.sugar.Fatalw(msg, kvs...) }

// With adds key-value pairs to the logger's context.
func (l *ZapLogger) With(kvs ...any) Logger {
	return &ZapLogger{sugar: l.sugar.With(kvs...)}
}

// WithNodeID returns a logger with a node ID added to the context.
func (l *ZapLogger) WithNodeID(id types.NodeID) Logger {
	return &ZapLogger{sugar: l.sugar.With("node", string(id))}
}

// WithRegion returns a logger with the region name added to the context.
func (l *ZapLogger) WithRegion(id types.RegionID) Logger {
	return &ZapLogger{sugar: l.sugar.With("region", string(id))}
}

// WithComponent returns a logger with a component name added to the context.
func (l *ZapLogger) WithComponent(name string) Logger {
	return &ZapLogger{sugar: l.sugar.With("component", name)}
}
