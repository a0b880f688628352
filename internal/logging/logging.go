// Package logging wraps the standard library logger with the
// file-vs-stderr switch the rest of the engine expects: diagnostics
// from loading, evaluating, and the session lifecycle go through
// named component sub-loggers here, while token/progress sinks
// (external collaborators per the forward evaluator and quantizer
// contracts) stay plain callbacks the caller supplies directly.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

var (
	logFile     *os.File
	logFilePath string
	logDir      string
	isFileLog   bool
	output      io.Writer = os.Stderr
	debugOn     bool
)

// Init initializes logging. If toFile is true, logs are written to a
// file under the log directory instead of stderr.
func Init(toFile bool) error {
	if !toFile {
		output = os.Stderr
		log.SetOutput(output)
		log.SetFlags(log.Ltime | log.Lshortfile)
		return nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	logDir = filepath.Join(homeDir, ".ggufrt", "logs")

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	logFilePath = filepath.Join(logDir, fmt.Sprintf("ggufrt-%s.log", timestamp))

	logFile, err = os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	output = logFile
	log.SetOutput(output)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	isFileLog = true

	log.Printf("=== ggufrt session started ===")
	return nil
}

// Close closes the log file if one is open.
func Close() {
	if logFile != nil {
		log.Printf("=== ggufrt session ended ===")
		logFile.Close()
		logFile = nil
	}
}

// Discard sets log output to discard all messages.
func Discard() {
	output = io.Discard
	log.SetOutput(output)
}

// GetLogDir returns the directory where logs are stored.
func GetLogDir() string {
	return logDir
}

// GetLogFilePath returns the path of the currently open log file, or
// "" when logging to stderr.
func GetLogFilePath() string {
	return logFilePath
}

// IsFileLogging returns true if logging is going to a file.
func IsFileLogging() bool {
	return isFileLog
}

// SetDebug toggles whether DebugLogf emits anything. Off by default so
// the debug tracing in internal/eval stays silent in normal runs.
func SetDebug(on bool) {
	debugOn = on
}

// DebugLogf emits a debug-tagged line through the same output Init
// configured, when debug logging is enabled. internal/eval uses this
// to report scratch-budget growth during an evaluate() call.
func DebugLogf(format string, args ...interface{}) {
	if !debugOn {
		return
	}
	log.Printf("[debug] "+format, args...)
}

// Component returns a logger prefixed with name, sharing whatever
// output Init last configured (stderr or the session log file), for
// packages that want attributable diagnostics without each reaching
// into the global stdlib logger directly: the loader tags arena
// sizing, Timed tags load and quantize timings, the session tags
// snapshot restores.
func Component(name string) *log.Logger {
	flags := log.Ltime | log.Lshortfile
	if isFileLog {
		flags = log.Ldate | log.Ltime | log.Lshortfile
	}
	return log.New(output, fmt.Sprintf("[%s] ", name), flags)
}

// Timed logs how long the operation named by component took once the
// returned func is called, typically via defer. Grounded on the
// load-timing diagnostics the loader and quantizer are expected to
// surface (SPEC_FULL.md ambient stack).
func Timed(component, operation string) func() {
	start := time.Now()
	logger := Component(component)
	return func() {
		logger.Printf("%s took %s", operation, time.Since(start))
	}
}
