package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/proxypilot/copilot-proxy/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileWriter *lumberjack.Logger
)

// SetupBaseLogger configures the shared logrus instance with the proxy's
// text format. It is safe to call more than once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			PadLevelText:    true,
		})
		log.SetLevel(log.InfoLevel)
	})
}

// SetLogLevel maps a level name onto logrus. Unknown names select info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ApplyConfigLevel sets the level from cfg; Debug wins over LogLevel.
func ApplyConfigLevel(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Debug {
		SetLogLevel("debug")
		return
	}
	SetLogLevel(cfg.LogLevel)
}

// ConfigureLogOutput switches between stdout and rotating files under
// cfg.LogDir, closing any previously opened file.
func ConfigureLogOutput(cfg *config.Config) error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if cfg == nil || !cfg.LoggingToFile {
		closeFileWriterLocked()
		log.SetOutput(os.Stdout)
		return nil
	}

	dir := cfg.LogDir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	closeFileWriterLocked()
	fileWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "copilot-proxy.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(io.Writer(fileWriter))
	return nil
}

func closeFileWriterLocked() {
	if fileWriter == nil {
		return
	}
	if err := fileWriter.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
	fileWriter = nil
}
