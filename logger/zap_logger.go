package logger

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-enrichment/types"
	"github.com/saiset-co/sai-enrichment/utils"
)

type ZapLoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

func NewDefaultLogger(config *types.LoggerConfig) (types.Logger, error) {
	lConfig := &ZapLoggerConfig{
		Format: "console",
		Output: "stdout",
		Level:  "info",
	}

	if config != nil {
		if config.Level != "" {
			lConfig.Level = config.Level
		}
		if config.Config != nil {
			if err := utils.UnmarshalConfig(config.Config, lConfig); err != nil {
				return nil, types.WrapError(err, "failed to unmarshal logger config")
			}
		}
	}

	zl, err := buildZapLogger(lConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return NewZapWrapper(zl), nil
}

func buildZapLogger(config *ZapLoggerConfig) (*zap.Logger, error) {
	level := parseLogLevel(config.Level)

	var zapConfig zap.Config
	if config.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig.DisableStacktrace = true
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	switch config.Output {
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case "file":
		if config.File != "" {
			if err := ensureLogDir(config.File); err != nil {
				return nil, err
			}
			zapConfig.OutputPaths = []string{config.File}
			zapConfig.ErrorOutputPaths = []string{config.File}
		} else {
			zapConfig.OutputPaths = []string{"stdout"}
			zapConfig.ErrorOutputPaths = []string{"stderr"}
		}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	return zapConfig.Build(zap.AddCaller())
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	lastSlash := strings.LastIndex(logFile, "/")
	if lastSlash == -1 {
		return types.ErrLogFileWrongFormat
	}

	err := os.MkdirAll(logFile[:lastSlash], 0755)
	return types.WrapError(err, "access denied to log directory")
}

type ZapWrapper struct {
	Logger *zap.Logger
}

func NewZapWrapper(logger *zap.Logger) types.Logger {
	return &ZapWrapper{Logger: logger}
}

// Error logs at error level. When one of the fields carries a wrapped error,
// the root cause is surfaced in its own field so grepping for the underlying
// failure does not require parsing the wrapping chain.
func (z *ZapWrapper) Error(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Error(msg, appendCause(fields)...)
}

func (z *ZapWrapper) Warn(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func (z *ZapWrapper) Info(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.Logger.WithOptions(zap.AddCallerSkip(1)).Log(lvl, msg, fields...)
}

func appendCause(fields []zap.Field) []zap.Field {
	for _, f := range fields {
		if f.Type != zapcore.ErrorType {
			continue
		}
		err, ok := f.Interface.(error)
		if !ok || err == nil {
			continue
		}
		if cause := rootCause(err); cause != err {
			out := make([]zap.Field, 0, len(fields)+1)
			out = append(out, fields...)
			return append(out, zap.String("cause", cause.Error()))
		}
	}
	return fields
}

// rootCause follows both pkg/errors causer chains and fmt %w chains down to
// the innermost error.
func rootCause(err error) error {
	for err != nil {
		if c := errors.Cause(err); c != err {
			err = c
			continue
		}
		if u := stderrors.Unwrap(err); u != nil {
			err = u
			continue
		}
		break
	}
	return err
}
