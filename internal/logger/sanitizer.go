package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SanitizerCore wraps a zapcore.Core and masks fields whose key names a
// credential. Matching is case-insensitive; a configured name also matches
// as a suffix ("password" masks "new_password").
type SanitizerCore struct {
	zapcore.Core
	sensitiveFields []string
	mask            string
}

func NewSanitizerCore(core zapcore.Core, sensitiveFields []string, mask string) *SanitizerCore {
	lowered := make([]string, len(sensitiveFields))
	for i, f := range sensitiveFields {
		lowered[i] = strings.ToLower(f)
	}
	if mask == "" {
		mask = "****"
	}
	return &SanitizerCore{
		Core:            core,
		sensitiveFields: lowered,
		mask:            mask,
	}
}

// With sanitizes context fields before they are bound to the core.
func (s *SanitizerCore) With(fields []zapcore.Field) zapcore.Core {
	return &SanitizerCore{
		Core:            s.Core.With(s.sanitize(fields)),
		sensitiveFields: s.sensitiveFields,
		mask:            s.mask,
	}
}

func (s *SanitizerCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

func (s *SanitizerCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return s.Core.Write(entry, s.sanitize(fields))
}

func (s *SanitizerCore) Sync() error {
	return s.Core.Sync()
}

func (s *SanitizerCore) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, f := range s.sensitiveFields {
		if key == f || strings.HasSuffix(key, "_"+f) {
			return true
		}
	}
	return false
}

func (s *SanitizerCore) sanitize(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, field := range fields {
		if !s.sensitive(field.Key) {
			continue
		}
		if out == nil {
			out = make([]zapcore.Field, len(fields))
			copy(out, fields)
		}
		out[i] = zap.String(field.Key, s.mask)
	}
	if out == nil {
		return fields
	}
	return out
}
