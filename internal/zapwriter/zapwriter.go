package zapwriter

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Writer is being used to print out call log entries via the zap library.
type Writer struct {
	Logger *zap.Logger
}

// Write emits one entry. Entries below the logger's level are dropped before
// any field is encoded.
func (w Writer) Write(level zapcore.Level, tag string, fields []zap.Field) {
	if w.Logger == nil {
		return
	}

	if ce := w.Logger.Check(level, tag); ce != nil {
		ce.Write(fields...)
	}
}

// Options configures the logger built by NewLogger.
type Options struct {
	Level zapcore.Level
	// Async buffers output in memory and flushes it periodically, so that a
	// slow output does not block the request path.
	Async         bool
	BufferSize    int
	FlushInterval time.Duration
	// Output defaults to stdout.
	Output zapcore.WriteSyncer
}

// NewLogger builds a JSON logger. The returned stop function flushes pending
// output and must be called before the process exits.
func NewLogger(opts Options) (*zap.Logger, func() error, error) {
	out := opts.Output
	if out == nil {
		out = zapcore.Lock(os.Stdout)
	}

	stop := out.Sync
	if opts.Async {
		if opts.BufferSize < 0 {
			return nil, nil, fmt.Errorf("invalid log buffer size %d", opts.BufferSize)
		}

		buffered := &zapcore.BufferedWriteSyncer{
			WS:            out,
			Size:          opts.BufferSize,
			FlushInterval: opts.FlushInterval,
		}
		out = buffered
		stop = buffered.Stop
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		out,
		zap.NewAtomicLevelAt(opts.Level),
	)

	return zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr))), stop, nil
}
