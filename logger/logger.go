package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields is the field map accepted by every logging helper.
type Fields map[string]interface{}

// Log wraps logrus.Logger with component-aware helpers.
type Log struct {
	*logrus.Logger
}

// Entry wraps logrus.Entry so helpers keep returning the package types.
type Entry struct {
	*logrus.Entry
}

var globalLogger *Log

func init() {
	globalLogger = Logger()
}

// Logger returns a new JSON logger at the level named by LOG_LEVEL, info by
// default.
func Logger() *Log {
	l := &Log{Logger: logrus.New()}
	l.SetReportCaller(true)
	lvl, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(newFormatter("json"))
	l.AddHook(&callerHook{})
	return l
}

// GetLogger returns the process-wide logger.
func GetLogger() *Log {
	return globalLogger
}

// parseLevel accepts the logrus level names plus "report", which logs at info
// and additionally turns on the periodic runtime report.
func parseLevel(level string) (logrus.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "", "report":
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid log level '%s'", level)
	}
	return lvl, nil
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func newFormatter(format string) logrus.Formatter {
	if format == "text" {
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

// openOutput resolves stdout, stderr or a file path. Files rotate through
// lumberjack when maxAge (days) is positive.
func openOutput(output string, maxAge int) (io.Writer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if maxAge > 0 {
		return &lumberjack.Logger{
			Filename: output,
			MaxAge:   maxAge,
			MaxSize:  100,
			Compress: true,
		}, nil
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", output, err)
	}
	return file, nil
}

// Configure applies level, format and output. LOG_LEVEL, when set, wins over
// level.
func (l *Log) Configure(level string, format string, output string, maxAge int) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid log format '%s'", format)
	}
	w, err := openOutput(output, maxAge)
	if err != nil {
		return err
	}

	l.SetLevel(lvl)
	l.SetReportCaller(true)
	l.SetFormatter(newFormatter(format))
	l.SetOutput(w)
	return nil
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

// WithEnv attaches the current values of the named environment variables.
func (l *Log) WithEnv(envs ...string) *Entry {
	return &Entry{Entry: l.Logger.WithFields(envFields(envs))}
}

func envFields(envs []string) logrus.Fields {
	fields := make(logrus.Fields, len(envs))
	for _, env := range envs {
		fields[env] = os.Getenv(env)
	}
	return fields
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func (e *Entry) WithEnv(envs ...string) *Entry {
	return &Entry{Entry: e.Entry.WithFields(envFields(envs))}
}

func (e *Entry) component() string {
	c, _ := e.Entry.Data["component"].(string)
	return c
}

// Warn logs at warn level and counts the warning for the runtime report.
func (e *Entry) Warn(args ...interface{}) {
	if c := e.component(); c != "" {
		recordWarn(c)
	}
	e.Entry.Warn(args...)
}

// Error logs at error level and counts the error for the runtime report.
func (e *Entry) Error(args ...interface{}) {
	if c := e.component(); c != "" {
		recordError(c)
	}
	e.Entry.Error(args...)
}

// LogMetric writes a "metric" line for component and forwards numeric values
// to CloudWatch when a client was initialised.
func (e *Entry) LogMetric(component string, metric string, value interface{}, metricType string, fields Fields) {
	line := make(Fields, len(fields)+3)
	for k, v := range fields {
		line[k] = v
	}
	if metricType == "" {
		metricType = "counter"
	}
	line["metric"] = metric
	line["value"] = value
	line["metric_type"] = metricType
	e.WithComponent(component).WithFields(line).Info("metric")

	if v, ok := NumericValue(value); ok {
		PublishMetrics(context.Background(), MetricDatum(component, metric, v, fields))
	}
}

// LogMetric is Entry.LogMetric on a fresh entry.
func (l *Log) LogMetric(component string, metric string, value interface{}, metricType string, fields Fields) {
	l.WithComponent(component).LogMetric(component, metric, value, metricType, fields)
}

// LogPerformanceEntry logs how long operation took in milliseconds.
func LogPerformanceEntry(entry *Entry, component string, operation string, duration time.Duration, fields Fields) {
	line := Fields{
		"duration_ms": float64(duration.Nanoseconds()) / 1e6,
		"operation":   operation,
	}
	for k, v := range fields {
		line[k] = v
	}
	entry.WithFields(line).WithComponent(component).Debug("performance metric")
}

// LogDataFlowEntry logs recordCount records moving from source to
// destination.
func LogDataFlowEntry(entry *Entry, source string, destination string, recordCount int, dataType string) {
	entry.WithFields(Fields{
		"source":       source,
		"destination":  destination,
		"record_count": recordCount,
		"data_type":    dataType,
		"flow_type":    "data_flow",
	}).Debug("data flow metric")
}
