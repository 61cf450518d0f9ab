package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidLevel = errors.New("invalid log level")
	ErrLogFile      = errors.New("cannot open log file")
)

// level names accepted by --log-level, indexed by their numeric alias
var levelNames = []string{"quiet", "error", "warning", "info", "debug", "all"}

var levels = map[string]log.Level{
	"quiet":   log.PanicLevel,
	"error":   log.ErrorLevel,
	"warning": log.WarnLevel,
	"info":    log.InfoLevel,
	"debug":   log.DebugLevel,
	"all":     log.TraceLevel,
}

// ParseLevel accepts a level name or its number, 0 (quiet) to 5 (all).
// 6 is kept as a second alias for all.
func ParseLevel(s string) (log.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n >= 0 && n < len(levelNames):
			return levels[levelNames[n]], nil
		case n == len(levelNames):
			return log.TraceLevel, nil
		}
		return log.PanicLevel, fmt.Errorf("%q: %w", s, ErrInvalidLevel)
	}
	if l, ok := levels[s]; ok {
		return l, nil
	}
	return log.PanicLevel, fmt.Errorf("%q: %w", s, ErrInvalidLevel)
}

// Setup configures the standard logger. Output goes to file when set,
// stderr otherwise. The returned closer releases the file.
func Setup(level, file string) (io.Closer, error) {
	l, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(l)

	log.SetFormatter(&log.TextFormatter{
		DisableColors: file != "",
		FullTimestamp: true,
		// log with funcname, file fields. eg: func=Set file="ledstate.go:43"
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			s := strings.Split(f.Function, ".")
			funcname := s[len(s)-1]
			filename := path.Base(f.File)
			return funcname, fmt.Sprintf("%s:%d", filename, f.Line)
		},
	})
	log.SetReportCaller(l >= log.DebugLevel)

	if file == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", file, ErrLogFile, err)
	}
	log.SetOutput(f)
	return fileCloser{f}, nil
}

// fileCloser points the logger back at stderr before closing the file
type fileCloser struct {
	f *os.File
}

func (c fileCloser) Close() error {
	log.SetOutput(os.Stderr)
	return c.f.Close()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
