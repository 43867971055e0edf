package pkg

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelErrOnly
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelNone:
		return "none"
	case LogLevelDebug:
		return "debug"
	default:
		return "error"
	}
}

// ParseLogLevel maps a config value onto a LogLevel. Unknown values fall back
// to LogLevelErrOnly.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "none", "off":
		return LogLevelNone
	case "debug", "info":
		return LogLevelDebug
	default:
		return LogLevelErrOnly
	}
}

var (
	log_level   = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	base_logger = newLogger()
	sugar       = base_logger.Sugar()
)

func newLogger() *zap.Logger {
	encoder_config := zap.NewDevelopmentEncoderConfig()
	encoder_config.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoder_config),
		zapcore.Lock(os.Stderr),
		log_level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

func SetLogLevel(level LogLevel) {
	switch level {
	case LogLevelNone:
		// fatal logs still terminate the process, they just aren't printed
		log_level.SetLevel(zapcore.FatalLevel + 1)
	case LogLevelErrOnly:
		log_level.SetLevel(zapcore.ErrorLevel)
	case LogLevelDebug:
		log_level.SetLevel(zapcore.DebugLevel)
	}
	sugar.Debugln("log level set to", level)
}

// Logger exposes the underlying structured logger for call sites that want
// key/value fields.
func Logger() *zap.SugaredLogger { return sugar }

func InfoLog(args ...any)  { sugar.Infoln(args...) }
func WarnLog(args ...any)  { sugar.Warnln(args...) }
func ErrorLog(args ...any) { sugar.Errorln(args...) }
func DebugLog(args ...any) { sugar.Debugln(args...) }
func FatalLog(args ...any) { sugar.Fatalln(args...) }

// SyncLogs flushes buffered log entries. Call before exiting.
func SyncLogs() { _ = base_logger.Sync() }
