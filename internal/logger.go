package internal

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// GetLogger returns the process-wide labml logger. Packages grab it at init, so level and
// format changes made after config is loaded apply everywhere.
func GetLogger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.Out = os.Stdout
		logger.SetLevel(logrus.WarnLevel)
		logger.SetFormatter(formatter(LogFormatText))
	})
	return logger
}

func SetLogLevel(level logrus.Level) {
	GetLogger().SetLevel(level)
}

// SetLogFormat switches between human readable text and one JSON object per line.
// Unknown formats fall back to text.
func SetLogFormat(format string) {
	GetLogger().SetFormatter(formatter(format))
}

func formatter(format string) logrus.Formatter {
	if format == LogFormatJSON {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &logrus.TextFormatter{FullTimestamp: true, PadLevelText: true}
}

// LeveledLogger is the key/value logging surface failsafe retry listeners log through.
type LeveledLogger interface {
	Error(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

var _ LeveledLogger = &LeveledLogrus{}

// NewLeveledLogrus adapts a logrus logger to LeveledLogger.
func NewLeveledLogrus(logger *logrus.Logger) *LeveledLogrus {
	return &LeveledLogrus{Logger: logger}
}

type LeveledLogrus struct {
	*logrus.Logger
}

// fields pairs up keysAndValues. A dangling key or a non-string key is kept under
// "extra" rather than dropped.
func (l *LeveledLogrus) fields(keysAndValues ...interface{}) logrus.Fields {
	fields := logrus.Fields{}
	var extra []interface{}
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok || i+1 == len(keysAndValues) {
			extra = append(extra, keysAndValues[i:min(i+2, len(keysAndValues))]...)
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	if len(extra) > 0 {
		fields["extra"] = extra
	}
	return fields
}

func (l *LeveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(l.fields(keysAndValues...)).Error(msg)
}

func (l *LeveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(l.fields(keysAndValues...)).Info(msg)
}

func (l *LeveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(l.fields(keysAndValues...)).Warn(msg)
}

func (l *LeveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(l.fields(keysAndValues...)).Debug(msg)
}
