package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[LogLevel]string{
	TraceLevel: "TRACE",
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

var levelColors = map[LogLevel]string{
	TraceLevel: "\033[36m",
	DebugLevel: "\033[35m",
	InfoLevel:  "\033[32m",
	WarnLevel:  "\033[33m",
	ErrorLevel: "\033[31m",
	FatalLevel: "\033[91m",
}

const colorReset = "\033[0m"

// String returns the upper-case name of the level.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// LogFormat represents the output format for logs
type LogFormat int

const (
	ConsoleFormat LogFormat = iota
	JSONFormat
)

// ParseLogFormat maps "console" or "json" to a LogFormat.
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(format) {
	case "console", "":
		return ConsoleFormat, nil
	case "json":
		return JSONFormat, nil
	default:
		return ConsoleFormat, fmt.Errorf("invalid log format: %s", format)
	}
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// output is shared between a logger and every logger derived from it so
// that concurrent writers never interleave lines.
type output struct {
	mu sync.Mutex
	w  io.Writer
}

// Logger provides structured logging functionality
type Logger struct {
	level      *levelVar
	format     LogFormat
	out        *output
	name       string
	fields     []Field
	useColors  bool
	timeFormat string
}

type levelVar struct {
	mu    sync.RWMutex
	level LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Format     LogFormat
	Output     io.Writer
	UseColors  bool
	TimeFormat string
}

// New creates a new logger instance
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	if config.TimeFormat == "" {
		config.TimeFormat = "2006-01-02 15:04:05.000"
	}

	return &Logger{
		level:      &levelVar{level: config.Level},
		format:     config.Format,
		out:        &output{w: config.Output},
		useColors:  config.UseColors,
		timeFormat: config.TimeFormat,
	}
}

// NewConsoleLogger creates a new console logger
func NewConsoleLogger(level LogLevel) *Logger {
	return New(Config{
		Level:     level,
		Format:    ConsoleFormat,
		UseColors: true,
	})
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(Config{Level: FatalLevel + 1, Output: io.Discard})
}

// With creates a new logger with additional fields. The derived logger
// shares level and output with its parent.
func (l *Logger) With(fields ...Field) *Logger {
	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)

	derived := *l
	derived.fields = newFields
	return &derived
}

// WithName creates a new logger with a name. Names nest with a dot.
func (l *Logger) WithName(name string) *Logger {
	derived := *l
	if l.name != "" {
		derived.name = l.name + "." + name
	} else {
		derived.name = name
	}
	return &derived
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.mu.Lock()
	defer l.level.mu.Unlock()
	l.level.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.level.mu.RLock()
	defer l.level.mu.RUnlock()
	return l.level.level
}

// IsEnabled returns true if the given level would be logged
func (l *Logger) IsEnabled(level LogLevel) bool {
	return level >= l.GetLevel()
}

func (l *Logger) log(skip int, level LogLevel, msg string, fields []Field) {
	if !l.IsEnabled(level) {
		return
	}

	all := make([]Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Logger:    l.name,
		Fields:    all,
	}

	if level >= ErrorLevel {
		if pc, file, line, ok := runtime.Caller(skip); ok {
			entry.Caller = &CallerInfo{
				PC:       pc,
				File:     file,
				Line:     line,
				Function: runtime.FuncForPC(pc).Name(),
			}
		}
	}

	l.writeEntry(entry)

	if level == FatalLevel {
		os.Exit(1)
	}
}

// Trace logs a trace message
func (l *Logger) Trace(msg string, fields ...Field) {
	l.log(2, TraceLevel, msg, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(2, DebugLevel, msg, fields)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	l.log(2, InfoLevel, msg, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(2, WarnLevel, msg, fields)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Field) {
	l.log(2, ErrorLevel, msg, fields)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.log(2, FatalLevel, msg, fields)
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Logger    string
	Fields    []Field
	Caller    *CallerInfo
}

// CallerInfo holds information about the calling code
type CallerInfo struct {
	PC       uintptr
	File     string
	Line     int
	Function string
}

func (l *Logger) writeEntry(entry LogEntry) {
	var line string

	switch l.format {
	case JSONFormat:
		line = l.formatJSON(entry)
	default:
		line = l.formatConsole(entry)
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	fmt.Fprintln(l.out.w, line)
}

func (l *Logger) formatConsole(entry LogEntry) string {
	var b strings.Builder

	b.WriteString(entry.Timestamp.Format(l.timeFormat))
	b.WriteString(" ")

	levelName := entry.Level.String()
	if l.useColors {
		b.WriteString(levelColors[entry.Level])
		fmt.Fprintf(&b, "%-5s", levelName)
		b.WriteString(colorReset)
	} else {
		fmt.Fprintf(&b, "%-5s", levelName)
	}
	b.WriteString(" ")

	if entry.Logger != "" {
		b.WriteString("[")
		b.WriteString(entry.Logger)
		b.WriteString("] ")
	}

	b.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		b.WriteString(" {")
		for i, field := range entry.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", field.Key, consoleValue(field.Value))
		}
		b.WriteString("}")
	}

	if entry.Caller != nil {
		file := entry.Caller.File
		if i := strings.LastIndexByte(file, '/'); i >= 0 {
			file = file[i+1:]
		}
		fmt.Fprintf(&b, " (%s:%d)", file, entry.Caller.Line)
	}

	return b.String()
}

// consoleValue dereferences string pointers so optional names print as
// their value or <nil>.
func consoleValue(v interface{}) interface{} {
	if s, ok := v.(*string); ok {
		if s == nil {
			return "<nil>"
		}
		return *s
	}
	return v
}

func (l *Logger) formatJSON(entry LogEntry) string {
	var b strings.Builder
	b.WriteString("{")

	fmt.Fprintf(&b, `"timestamp":%s`, formatJSONValue(entry.Timestamp.Format(time.RFC3339Nano)))
	fmt.Fprintf(&b, `,"level":%s`, formatJSONValue(entry.Level.String()))

	if entry.Logger != "" {
		fmt.Fprintf(&b, `,"logger":%s`, formatJSONValue(entry.Logger))
	}

	fmt.Fprintf(&b, `,"message":%s`, formatJSONValue(entry.Message))

	for _, field := range entry.Fields {
		fmt.Fprintf(&b, `,%s:%s`, formatJSONValue(field.Key), formatJSONValue(field.Value))
	}

	if entry.Caller != nil {
		fmt.Fprintf(&b, `,"caller":{"file":%s,"line":%d,"function":%s}`,
			formatJSONValue(entry.Caller.File),
			entry.Caller.Line,
			formatJSONValue(entry.Caller.Function))
	}

	b.WriteString("}")
	return b.String()
}

// formatJSONValue encodes scalars natively and falls back to the %v
// rendering as a JSON string for everything else.
func formatJSONValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case *string:
		if val == nil {
			return "null"
		}
		return formatJSONValue(*val)
	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		data, err := json.Marshal(val)
		if err != nil {
			return `"` + fmt.Sprintf("%v", val) + `"`
		}
		return string(data)
	case []string:
		data, _ := json.Marshal(val)
		return string(data)
	default:
		data, _ := json.Marshal(fmt.Sprintf("%v", val))
		return string(data)
	}
}

// Helper functions for creating fields
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// OptionalString logs a possibly-nil string.
func OptionalString(key string, value *string) Field {
	return Field{Key: key, Value: value}
}

func Strings(key string, value []string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func ErrorField(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "trace":
		return TraceLevel, nil
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}
