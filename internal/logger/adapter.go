package logger

import (
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapWriter implements io.Writer on top of a zap logger, for libraries that
// only accept a standard *log.Logger such as http.Server.ErrorLog.
type ZapWriter struct {
	logger *zap.Logger
	level  zapcore.Level
	prefix string
}

// NewZapWriter returns a writer logging each line at level. prefix, when
// set, is attached as a separate field.
func NewZapWriter(logger *zap.Logger, level zapcore.Level, prefix string) *ZapWriter {
	return &ZapWriter{
		logger: logger.WithOptions(zap.AddCallerSkip(3)),
		level:  level,
		prefix: prefix,
	}
}

// Write implements the io.Writer interface.
func (w *ZapWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	if ce := w.logger.Check(w.level, msg); ce != nil {
		if w.prefix != "" {
			ce.Write(zap.String("prefix", w.prefix))
		} else {
			ce.Write()
		}
	}
	return len(p), nil
}

// NewStdLogger wraps logger in a *log.Logger writing at level.
func NewStdLogger(logger *zap.Logger, level zapcore.Level, prefix string) *log.Logger {
	return log.New(NewZapWriter(logger, level, prefix), "", 0)
}
