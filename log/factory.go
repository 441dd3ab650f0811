package log

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Factory struct {
	base   *zap.Logger
	output *os.File
}

func New(options option.LogOptions) (*Factory, error) {
	if options.Disabled {
		return &Factory{base: zap.NewNop()}, nil
	}
	level := zapcore.InfoLevel
	if options.Level != "" {
		err := level.UnmarshalText([]byte(strings.ToLower(options.Level)))
		if err != nil {
			return nil, E.Cause(err, "parse log level")
		}
	}
	var output *os.File
	switch options.Output {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		var err error
		output, err = os.OpenFile(options.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, E.Cause(err, "open log output")
		}
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if !options.Timestamp {
		encoderConfig.TimeKey = zapcore.OmitKey
	} else {
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	}
	var encoder zapcore.Encoder
	switch options.Format {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return nil, E.New("unknown log format: ", options.Format)
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(output), level)
	return &Factory{base: zap.New(core), output: output}, nil
}

// NewFactory wraps an existing zap logger, used by tests with zaptest/observer.
func NewFactory(base *zap.Logger) *Factory {
	return &Factory{base: base}
}

func (f *Factory) NewLogger(tag string) logger.ContextLogger {
	base := f.base
	if tag != "" {
		base = base.Named(tag)
	}
	return &zapLogger{base.WithOptions(zap.AddCallerSkip(2)).Sugar()}
}

func (f *Factory) Close() error {
	_ = f.base.Sync()
	if f.output != nil && f.output != os.Stderr && f.output != os.Stdout {
		return f.output.Close()
	}
	return nil
}

var _ logger.ContextLogger = (*zapLogger)(nil)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l *zapLogger) log(ctx context.Context, level zapcore.Level, args []any) {
	if !l.sugar.Desugar().Core().Enabled(level) {
		return
	}
	message := fmt.Sprint(args...)
	if id, loaded := IDFromContext(ctx); loaded {
		message = fmt.Sprint("[", id.ID, " ", time.Since(id.CreatedAt).Round(time.Millisecond), "] ", message)
	}
	l.sugar.Log(level, message)
}

func (l *zapLogger) Trace(args ...any) {
	l.log(context.Background(), zapcore.DebugLevel, args)
}

func (l *zapLogger) Debug(args ...any) {
	l.log(context.Background(), zapcore.DebugLevel, args)
}

func (l *zapLogger) Info(args ...any) {
	l.log(context.Background(), zapcore.InfoLevel, args)
}

func (l *zapLogger) Warn(args ...any) {
	l.log(context.Background(), zapcore.WarnLevel, args)
}

func (l *zapLogger) Error(args ...any) {
	l.log(context.Background(), zapcore.ErrorLevel, args)
}

func (l *zapLogger) Fatal(args ...any) {
	l.log(context.Background(), zapcore.FatalLevel, args)
}

func (l *zapLogger) Panic(args ...any) {
	l.log(context.Background(), zapcore.PanicLevel, args)
}

func (l *zapLogger) TraceContext(ctx context.Context, args ...any) {
	l.log(ctx, zapcore.DebugLevel, args)
}

func (l *zapLogger) DebugContext(ctx context.Context, args ...any) {
	l.log(ctx, zapcore.DebugLevel, args)
}

func (l *zapLogger) InfoContext(ctx context.Context, args ...any) {
	l.log(ctx, zapcore.InfoLevel, args)
}

func (l *zapLogger) WarnContext(ctx context.Context, args ...any) {
	l.log(ctx, zapcore.WarnLevel, args)
}

func (l *zapLogger) ErrorContext(ctx context.Context, args ...any) {
	l.log(ctx, zapcore.ErrorLevel, args)
}

func (l *zapLogger) FatalContext(ctx context.Context, args ...any) {
	l.log(ctx, zapcore.FatalLevel, args)
}

func (l *zapLogger) PanicContext(ctx context.Context, args ...any) {
	l.log(ctx, zapcore.PanicLevel, args)
}
