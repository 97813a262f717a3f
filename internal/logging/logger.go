package logging

import (
	"fmt"
	"io"
	"os"
)

// LogLevel describes the level of importance of a log message.
type LogLevel uint8

const (
	// INFO is the lowest logging level. Used for general information messages.
	INFO LogLevel = 1
	// WARN is important information that may indicate a problem.
	WARN LogLevel = 2
	// ERR is the highest logging level. Used for error messages.
	ERR LogLevel = 3
)

func (l LogLevel) String() string {
	switch l {
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERR:
		return "ERROR"
	default:
		return "?"
	}
}

// Logger is a struct that logs messages to an output stream and/or a file.
type Logger struct {
	out      io.Writer
	file     *LogFile
	name     string
	logLevel LogLevel
	fileOnly bool
}

// NewLogger constructs and returns a new logger instance.
//   - out: where messages are printed unless fileOnly is set.
//   - file: optional log file; may be nil.
//   - name: prefix of every line, extended by [Logger.WithPostfix].
//   - fileOnly: whether messages should only go to the file.
func NewLogger(out io.Writer, file *LogFile, name string, fileOnly bool) *Logger {
	return &Logger{
		out:      out,
		file:     file,
		name:     name,
		fileOnly: fileOnly,
		logLevel: INFO,
	}
}

// NewStdLogger returns a new instance of a logger that logs to the standard output.
func NewStdLogger(name string) *Logger {
	return NewLogger(os.Stdout, nil, name, false)
}

// WithLogLevel returns a new logger with the same configuration, but with a filter on the log level: only messages of higher or equal level will be logged.
func (l *Logger) WithLogLevel(level LogLevel) *Logger {
	return &Logger{
		out:      l.out,
		file:     l.file,
		name:     l.name,
		logLevel: level,
		fileOnly: l.fileOnly,
	}
}

// WithPostfix returns a new logger with the same configuration, but with the given postfix appended to the name.
func (l *Logger) WithPostfix(postfix string) *Logger {
	return &Logger{
		out:      l.out,
		file:     l.file,
		name:     fmt.Sprintf("%s|%s", l.name, postfix),
		logLevel: l.logLevel,
		fileOnly: l.fileOnly,
	}
}

func (l *Logger) log(level LogLevel, args ...interface{}) {
	if l.logLevel > level {
		return
	}
	s := fmt.Sprintf("[%s|%s] %s\n", level, l.name, fmt.Sprint(args...))
	if l.file != nil {
		l.file.Print(s)
	}
	if !l.fileOnly && l.out != nil {
		fmt.Fprint(l.out, s)
	}
}

// Info logs a message with the INFO level.
func (l *Logger) Info(args ...interface{}) {
	l.log(INFO, args...)
}

// Infof logs a formatted message with the INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

// Warn logs a message with the WARN level.
func (l *Logger) Warn(args ...interface{}) {
	l.log(WARN, args...)
}

// Warnf logs a formatted message with the WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...))
}

// Error logs a message with the ERR level.
func (l *Logger) Error(args ...interface{}) {
	l.log(ERR, args...)
}

// Errorf logs a formatted message with the ERR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERR, fmt.Sprintf(format, args...))
}
