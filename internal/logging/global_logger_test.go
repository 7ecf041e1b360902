package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/proxypilot/copilot-proxy/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected log.Level
	}{
		// Debug level
		{"debug lowercase", "debug", log.DebugLevel},
		{"debug uppercase", "DEBUG", log.DebugLevel},
		{"debug mixed case", "Debug", log.DebugLevel},
		{"verbose lowercase", "verbose", log.DebugLevel},
		{"verbose uppercase", "VERBOSE", log.DebugLevel},
		{"verbose mixed case", "Verbose", log.DebugLevel},

		// Info level
		{"info lowercase", "info", log.InfoLevel},
		{"info uppercase", "INFO", log.InfoLevel},
		{"info mixed case", "Info", log.InfoLevel},

		// Warn level
		{"warn lowercase", "warn", log.WarnLevel},
		{"warn uppercase", "WARN", log.WarnLevel},
		{"warning lowercase", "warning", log.WarnLevel},
		{"warning uppercase", "WARNING", log.WarnLevel},
		{"warning mixed case", "Warning", log.WarnLevel},

		// Error level
		{"error lowercase", "error", log.ErrorLevel},
		{"error uppercase", "ERROR", log.ErrorLevel},
		{"error mixed case", "Error", log.ErrorLevel},

		// Fatal level (quiet/silent)
		{"quiet lowercase", "quiet", log.FatalLevel},
		{"quiet uppercase", "QUIET", log.FatalLevel},
		{"silent lowercase", "silent", log.FatalLevel},
		{"silent uppercase", "SILENT", log.FatalLevel},

		// Default (unknown) -> InfoLevel
		{"unknown string", "unknown", log.InfoLevel},
		{"empty string", "", log.InfoLevel},
		{"random string", "foobar", log.InfoLevel},
		{"numeric string", "123", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset to a known state before each test
			log.SetLevel(log.PanicLevel)

			SetLogLevel(tt.input)

			got := log.GetLevel()
			if got != tt.expected {
				t.Errorf("SetLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestApplyConfigLevel(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Config
		expected log.Level
	}{
		{"debug flag wins", &config.Config{Debug: true, LogLevel: "error"}, log.DebugLevel},
		{"named level", &config.Config{LogLevel: "warn"}, log.WarnLevel},
		{"empty level", &config.Config{}, log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log.SetLevel(log.PanicLevel)
			ApplyConfigLevel(tt.cfg)
			if got := log.GetLevel(); got != tt.expected {
				t.Errorf("ApplyConfigLevel() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConfigureLogOutput_File(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	cfg := &config.Config{LoggingToFile: true, LogDir: dir}

	if err := ConfigureLogOutput(cfg); err != nil {
		t.Fatalf("ConfigureLogOutput() error = %v", err)
	}
	log.SetLevel(log.InfoLevel)
	log.Info("written to file")

	if err := ConfigureLogOutput(&config.Config{}); err != nil {
		t.Fatalf("ConfigureLogOutput(stdout) error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "copilot-proxy.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing entry: %q", string(data))
	}
}
