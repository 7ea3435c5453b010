package runtime

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger captures structured log output from the kernel and from task/
// resource bodies. Shape grounded on the teacher's Logger interface
// (With/Info/Error chaining); the concrete implementation here wraps
// zerolog instead of being hand-rolled.
type Logger interface {
	With(key string, value any) Logger
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is the default until a real logger is supplied, matching
// the teacher's zero-value-safe logging pattern.
type noopLogger struct{}

func (noopLogger) With(string, any) Logger     { return noopLogger{} }
func (noopLogger) Debug(string, ...any)        {}
func (noopLogger) Info(string, ...any)         {}
func (noopLogger) Warn(string, ...any)         {}
func (noopLogger) Error(string, ...any)        {}

// zeroLogger adapts zerolog.Logger to the kernel Logger facade.
type zeroLogger struct {
	z zerolog.Logger
}

// NewLogger constructs a zerolog-backed Logger writing JSON lines to w
// (os.Stderr when w is nil); console-formatted output is left to the
// caller, who can pass a zerolog.ConsoleWriter as w.
func NewLogger(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).With().Timestamp().Logger()
	return zeroLogger{z: z}
}

func (l zeroLogger) With(key string, value any) Logger {
	return zeroLogger{z: l.z.With().Interface(key, value).Logger()}
}

func (l zeroLogger) Debug(msg string, args ...any) { l.z.Debug().Fields(argsToFields(args)).Msg(msg) }
func (l zeroLogger) Info(msg string, args ...any)  { l.z.Info().Fields(argsToFields(args)).Msg(msg) }
func (l zeroLogger) Warn(msg string, args ...any)  { l.z.Warn().Fields(argsToFields(args)).Msg(msg) }
func (l zeroLogger) Error(msg string, args ...any) { l.z.Error().Fields(argsToFields(args)).Msg(msg) }

// argsToFields converts alternating key/value pairs (the teacher's
// logging convention) into a zerolog field map.
func argsToFields(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	fields := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}
