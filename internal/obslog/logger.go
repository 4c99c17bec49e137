// Package obslog provides structured, component-scoped logging with
// automatic redaction of host secret material (FFI addresses, SQLite DSNs,
// crypto key bytes, bearer tokens) before any record reaches its writer.
//
// Generalized from a comparable pkg/common/logging package, which performed
// the equivalent redaction pass for end-user PII in a privacy-preserving
// file store; the same "never let operational logs leak what they
// describe" discipline applies here to host secrets instead.
package obslog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level is a hierarchical logging level; filtering a Logger at level L
// passes L and every higher-priority level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// Format selects the output encoding.
type Format int

const (
	TextFormat Format = iota
	JSONFormat
)

// Config controls the behavior of a Logger created with New.
type Config struct {
	Level Level
	Format Format
	Output io.Writer
	EnableRedaction bool
}

// DefaultConfig returns a Config writing human-readable text to stderr at
// InfoLevel with redaction enabled — the safe-by-default posture for a
// runtime whose logs may be captured by an embedder's own log pipeline.
func DefaultConfig() *Config {
	return &Config{
		Level: InfoLevel,
		Format: TextFormat,
		Output: os.Stderr,
		EnableRedaction: true,
	}
}

// Logger is a component-scoped, field-carrying structured logger. The zero
// value is not usable; construct with New.
type Logger struct {
	mu sync.Mutex
	cfg *Config
	component string
	fields map[string]any
}

// New constructs a root Logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Logger{cfg: cfg}
}

// WithComponent returns a derived Logger tagging every record with name,
// e.g. "eventloop", "fetch", "sqlite".
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{cfg: l.cfg, component: name, fields: l.fields}
}

// WithField returns a derived Logger carrying an additional structured
// field on every subsequent record.
func (l *Logger) WithField(key string, value any) *Logger {
	next := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		next[k] = v
	}
	next[key] = value
	return &Logger{cfg: l.cfg, component: l.component, fields: next}
}

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	if level < l.cfg.Level {
		return
	}
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = sanitizeValue(k, v, l.cfg.EnableRedaction)
	}
	for k, v := range fields {
		merged[k] = sanitizeValue(k, v, l.cfg.EnableRedaction)
	}
	if l.cfg.EnableRedaction {
		msg = redactString(msg)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	switch l.cfg.Format {
	case JSONFormat:
		rec := map[string]any{
			"ts": ts,
			"level": level.String(),
			"component": l.component,
			"msg": msg,
		}
		for k, v := range merged {
			rec[k] = v
		}
		enc, err := json.Marshal(rec)
		if err != nil {
			fmt.Fprintf(l.cfg.Output, "%s [%s] %s log-marshal-error=%v\n", ts, level, msg, err)
			return
		}
		fmt.Fprintln(l.cfg.Output, string(enc))
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "%s [%-5s]", ts, strings.ToUpper(level.String()))
		if l.component != "" {
			fmt.Fprintf(&b, " %s:", l.component)
		}
		fmt.Fprintf(&b, " %s", msg)
		for k, v := range merged {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
		fmt.Fprintln(l.cfg.Output, b.String())
	}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any) { l.log(InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any) { l.log(WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(ErrorLevel, msg, fields) }

func (l *Logger) Debugf(format string, args ...any) { l.log(DebugLevel, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(format string, args ...any) { l.log(InfoLevel, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(format string, args ...any) { l.log(WarnLevel, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Errorf(format string, args ...any) { l.log(ErrorLevel, fmt.Sprintf(format, args...), nil) }

// sensitiveFieldNames are redacted wholesale regardless of value shape.
var sensitiveFieldNames = map[string]struct{}{
	"password": {}, "secret": {}, "token": {}, "apikey": {}, "api_key": {},
	"authorization": {}, "dsn": {}, "private_key": {}, "symbol_address": {},
	"key_material": {},
}

func sanitizeValue(key string, value any, enabled bool) any {
	if !enabled {
		return value
	}
	if _, sensitive := sensitiveFieldNames[strings.ToLower(key)]; sensitive {
		return "[REDACTED]"
	}
	if s, ok := value.(string); ok {
		return redactString(s)
	}
	return value
}

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`)
	jwtPattern = regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`)
	hexKeyPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]{8,}\b`)
)

// redactString replaces inline secret-shaped substrings (bearer tokens,
// JWTs, long hex addresses such as FFI symbol addresses) with a fixed
// placeholder, mirroring a comparable inline PII pattern replacement but
// targeted at host secret shapes instead of user PII.
func redactString(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	s = jwtPattern.ReplaceAllString(s, "[REDACTED_JWT]")
	s = hexKeyPattern.ReplaceAllString(s, "[REDACTED_ADDR]")
	return s
}

var (
	globalMu sync.RWMutex
	globalLogger = New(DefaultConfig())
)

// InitGlobal replaces the process-wide default Logger.
func InitGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = New(cfg)
}

// Global returns the process-wide default Logger.
func Global() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}
