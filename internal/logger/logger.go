package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level            string       `json:"level"`
	OutputPaths      []string     `json:"outputPaths"`
	ErrorOutputPaths []string     `json:"errorOutputPaths"`
	Development      bool         `json:"development"`
	LogToConsole     bool         `json:"logToConsole"`
	Encoding         Encoding     `json:"encodingConfig"`
	LogRotation      LogRotation  `json:"logRotation"`
	Sanitization     Sanitization `json:"sanitization"`
}

type Encoding struct {
	TimeKey         string `json:"timeKey"`
	LevelKey        string `json:"levelKey"`
	NameKey         string `json:"nameKey"`
	CallerKey       string `json:"callerKey"`
	MessageKey      string `json:"messageKey"`
	StacktraceKey   string `json:"stacktraceKey"`
	LineEnding      string `json:"lineEnding"`
	LevelEncoder    string `json:"levelEncoder"`
	TimeEncoder     string `json:"timeEncoder"`
	DurationEncoder string `json:"durationEncoder"`
	CallerEncoder   string `json:"callerEncoder"`
}

type LogRotation struct {
	Enabled    bool `json:"enabled"`
	MaxSizeMB  int  `json:"maxSizeMB"`
	MaxBackups int  `json:"maxBackups"`
	MaxAgeDays int  `json:"maxAgeDays"`
	Compress   bool `json:"compress"`
}

// Sanitization configures sensitive field sanitization.
type Sanitization struct {
	SensitiveFields []string `json:"sensitiveFields"`
	Mask            string   `json:"mask"`
}

// loadFile reads a {"loggers": {...}} document. A missing file yields no
// loggers and no error.
func loadFile(path string) (map[string]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read configuration file '%s': %w", path, err)
	}

	var configWrapper struct {
		Loggers map[string]Config `json:"loggers"`
	}
	if err := json.Unmarshal(data, &configWrapper); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file '%s': %w", path, err)
	}
	return configWrapper.Loggers, nil
}

// built is a logger together with the async cores that must be closed with it.
type built struct {
	logger  *zap.Logger
	closers []*AsyncCore
}

func buildLogger(name string, cfg Config) (*built, error) {
	assignDefaultValues(&cfg)

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        cfg.Encoding.TimeKey,
		LevelKey:       cfg.Encoding.LevelKey,
		NameKey:        cfg.Encoding.NameKey,
		CallerKey:      cfg.Encoding.CallerKey,
		MessageKey:     cfg.Encoding.MessageKey,
		StacktraceKey:  cfg.Encoding.StacktraceKey,
		LineEnding:     cfg.Encoding.LineEnding,
		EncodeLevel:    getZapLevelEncoder(cfg.Encoding.LevelEncoder),
		EncodeTime:     getZapTimeEncoder(cfg.Encoding.TimeEncoder),
		EncodeDuration: getZapDurationEncoder(cfg.Encoding.DurationEncoder),
		EncodeCaller:   getZapCallerEncoder(cfg.Encoding.CallerEncoder),
	}

	jsonEncoder := zapcore.NewJSONEncoder(encoderConfig)
	atomicLevel := zap.NewAtomicLevelAt(getZapLevel(cfg.Level))

	var (
		allCores []zapcore.Core
		closers  []*AsyncCore
	)
	if cfg.Development || cfg.LogToConsole {
		// colored levels only on the synchronous console core
		consoleEncoderConfig := encoderConfig
		consoleEncoderConfig.EncodeLevel = coloredLevelEncoder
		consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig), zapcore.Lock(os.Stdout), atomicLevel)
		allCores = append(allCores, consoleCore)
	}

	for _, path := range cfg.OutputPaths {
		switch path {
		case "stdout", "stderr":
			if cfg.Development || cfg.LogToConsole {
				continue
			}
			ws := zapcore.Lock(os.Stdout)
			if path == "stderr" {
				ws = zapcore.Lock(os.Stderr)
			}
			allCores = append(allCores, zapcore.NewCore(jsonEncoder, ws, atomicLevel))
			continue
		}

		var fileWS zapcore.WriteSyncer
		if cfg.LogRotation.Enabled {
			fileWS = zapcore.AddSync(ljLogger(path, cfg.LogRotation))
		} else {
			file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file '%s': %w", path, err)
			}
			fileWS = zapcore.AddSync(file)
		}

		asyncFileCore := NewAsyncCore(zapcore.NewCore(jsonEncoder, fileWS, atomicLevel), 1000, 100, 500*time.Millisecond)
		closers = append(closers, asyncFileCore)
		allCores = append(allCores, asyncFileCore)
	}

	combinedCore := zapcore.NewTee(allCores...)
	if len(cfg.Sanitization.SensitiveFields) > 0 {
		combinedCore = NewSanitizerCore(combinedCore, cfg.Sanitization.SensitiveFields, cfg.Sanitization.Mask)
	}

	logger := zap.New(combinedCore,
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	).Named(name)

	return &built{logger: logger, closers: closers}, nil
}

// maps string levels to zapcore.Level.
func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "dpanic":
		return zap.DPanicLevel
	case "panic":
		return zap.PanicLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// maps string encoders to zapcore.LevelEncoder.
func getZapLevelEncoder(encoder string) zapcore.LevelEncoder {
	switch strings.ToLower(encoder) {
	case "lowercase":
		return zapcore.LowercaseLevelEncoder
	case "uppercase":
		return zapcore.CapitalLevelEncoder
	case "capital":
		return zapcore.CapitalLevelEncoder
	default:
		return zapcore.LowercaseLevelEncoder
	}
}

// maps string encoders to zapcore.TimeEncoder.
func getZapTimeEncoder(encoder string) zapcore.TimeEncoder {
	switch strings.ToLower(encoder) {
	case "iso8601":
		return zapcore.ISO8601TimeEncoder
	case "epoch":
		return zapcore.EpochTimeEncoder
	case "millis":
		return zapcore.EpochMillisTimeEncoder
	case "nanos":
		return zapcore.EpochNanosTimeEncoder
	default:
		return zapcore.ISO8601TimeEncoder
	}
}

// maps string encoders to zapcore.DurationEncoder.
func getZapDurationEncoder(encoder string) zapcore.DurationEncoder {
	switch strings.ToLower(encoder) {
	case "string":
		return zapcore.StringDurationEncoder
	case "seconds":
		return zapcore.SecondsDurationEncoder
	case "millis":
		return zapcore.MillisDurationEncoder
	case "nanos":
		return zapcore.NanosDurationEncoder
	default:
		return zapcore.StringDurationEncoder
	}
}

// maps string encoders to zapcore.CallerEncoder.
func getZapCallerEncoder(encoder string) zapcore.CallerEncoder {
	switch strings.ToLower(encoder) {
	case "full":
		return zapcore.FullCallerEncoder
	case "short":
		return zapcore.ShortCallerEncoder
	default:
		return zapcore.ShortCallerEncoder
	}
}

// adds color codes to log levels for console output - this is a bit slow so only in dev
func coloredLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var level string
	switch l {
	case zapcore.DebugLevel:
		level = "\x1b[36m" + l.String() + "\x1b[0m" // Cyan
	case zapcore.InfoLevel:
		level = "\x1b[32m" + l.String() + "\x1b[0m" // Green
	case zapcore.WarnLevel:
		level = "\x1b[33m" + l.String() + "\x1b[0m" // Yellow
	case zapcore.ErrorLevel:
		level = "\x1b[31m" + l.String() + "\x1b[0m" // Red
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		level = "\x1b[35m" + l.String() + "\x1b[0m" // Magenta
	default:
		level = l.String()
	}
	enc.AppendString(level)
}

// creates a new Lumberjack logger with the given path and configuration.
func ljLogger(path string, l LogRotation) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAgeDays,
		Compress:   l.Compress,
	}
}
