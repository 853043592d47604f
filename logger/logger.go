// Package logger is a small leveled logger with colored console output and an
// optional plain-text log file.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var levelColors = map[LogLevel]string{
	DEBUG: colorGray,
	INFO:  colorReset,
	WARN:  colorYellow,
	ERROR: colorRed,
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a config value such as "info" or "WARN" to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

type sink struct {
	console map[LogLevel]*log.Logger
	plain   map[LogLevel]*log.Logger
}

var (
	mu       sync.RWMutex
	minLevel = DEBUG
	file     *os.File
	out      = newSink(os.Stdout, nil)
)

func newSink(console, plain io.Writer) *sink {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	s := &sink{
		console: make(map[LogLevel]*log.Logger),
		plain:   make(map[LogLevel]*log.Logger),
	}
	for level, name := range levelNames {
		prefix := fmt.Sprintf("[%-5s] ", name)
		if console != nil {
			s.console[level] = log.New(console, levelColors[level]+prefix+colorReset, flags)
		}
		if plain != nil {
			s.plain[level] = log.New(plain, prefix, flags)
		}
	}
	return s
}

// Init points the logger at an optional file and the console.
// If filename is empty, logs only go to the console.
// If console is false, logs only go to the file.
func Init(filename string, console bool) error {
	mu.Lock()
	defer mu.Unlock()

	var plain io.Writer
	if filename != "" {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		closeFileLocked()
		file = f
		plain = f
	}

	var con io.Writer
	if console {
		con = os.Stdout
	}
	if con == nil && plain == nil {
		return fmt.Errorf("no output destination specified")
	}
	out = newSink(con, plain)
	return nil
}

// SetOutput sends uncolored output to w only. Meant for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = newSink(nil, w)
}

// SetLevel sets the minimum level; anything below it is dropped.
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = level
}

// Close closes the log file if one is open and falls back to the console.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeFileLocked()
	out = newSink(os.Stdout, nil)
}

func closeFileLocked() {
	if file != nil {
		file.Close()
		file = nil
	}
}

func output(level LogLevel, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel {
		return
	}
	// calldepth 3: output <- Infof/Entry.Infof <- caller
	if l := out.console[level]; l != nil {
		l.Output(3, msg)
	}
	if l := out.plain[level]; l != nil {
		l.Output(3, msg)
	}
}

func Debug(v ...interface{}) { output(DEBUG, fmt.Sprint(v...)) }
func Info(v ...interface{})  { output(INFO, fmt.Sprint(v...)) }
func Warn(v ...interface{})  { output(WARN, fmt.Sprint(v...)) }
func Error(v ...interface{}) { output(ERROR, fmt.Sprint(v...)) }

func Debugf(format string, v ...interface{}) { output(DEBUG, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { output(INFO, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { output(WARN, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { output(ERROR, fmt.Sprintf(format, v...)) }

// Fatalf logs at ERROR and exits the program.
func Fatalf(format string, v ...interface{}) {
	output(ERROR, fmt.Sprintf(format, v...))
	os.Exit(1)
}

// Entry carries key=value pairs that are prepended to every message.
type Entry struct {
	prefix string
}

// With returns an Entry for alternating key, value arguments.
func With(kv ...interface{}) Entry {
	return Entry{}.With(kv...)
}

// With extends the entry with more key, value pairs.
func (e Entry) With(kv ...interface{}) Entry {
	var b strings.Builder
	b.WriteString(e.prefix)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, "%v=%v ", kv[i], kv[i+1])
	}
	return Entry{prefix: b.String()}
}

func (e Entry) Debugf(format string, v ...interface{}) {
	output(DEBUG, e.prefix+fmt.Sprintf(format, v...))
}

func (e Entry) Infof(format string, v ...interface{}) {
	output(INFO, e.prefix+fmt.Sprintf(format, v...))
}

func (e Entry) Warnf(format string, v ...interface{}) {
	output(WARN, e.prefix+fmt.Sprintf(format, v...))
}

func (e Entry) Errorf(format string, v ...interface{}) {
	output(ERROR, e.prefix+fmt.Sprintf(format, v...))
}
