package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newSilentLogger()

func newSilentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// Init configures the package logger. Without a level and a log file nothing is logged.
func Init(level, logFile string, json bool) error {
	l := logrus.New()
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: logFile == "", FullTimestamp: true})
	}

	writers := []io.Writer{os.Stderr}
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}
	l.SetOutput(io.MultiWriter(writers...))

	switch {
	case level == "" && logFile != "":
		l.SetLevel(logrus.InfoLevel)
	case level == "":
		l.SetLevel(logrus.PanicLevel)
	default:
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			parsed = logrus.InfoLevel
		}
		l.SetLevel(parsed)
	}

	logger = l
	return nil
}

// SetOutput redirects the logger, used by tests to capture entries.
func SetOutput(w io.Writer, level logrus.Level) {
	logger.SetOutput(w)
	logger.SetLevel(level)
}

func IsDebug() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

func Trace(msg string, fields ...map[string]interface{}) {
	logger.WithFields(mergeFields(fields...)).Trace(msg)
}

func Debug(msg string, fields ...map[string]interface{}) {
	logger.WithFields(mergeFields(fields...)).Debug(msg)
}

func Info(msg string, fields ...map[string]interface{}) {
	logger.WithFields(mergeFields(fields...)).Info(msg)
}

func Warn(msg string, fields ...map[string]interface{}) {
	logger.WithFields(mergeFields(fields...)).Warn(msg)
}

func Error(msg string, err error, fields ...map[string]interface{}) {
	entry := logger.WithFields(mergeFields(fields...))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func mergeFields(fields ...map[string]interface{}) logrus.Fields {
	result := make(logrus.Fields)
	for _, f := range fields {
		for k, v := range f {
			result[k] = v
		}
	}
	return result
}
