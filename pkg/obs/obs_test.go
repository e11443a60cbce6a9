package obs

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/OpenCyphal-Garage/libuavcan/pkg/nodeconfig"
)

func TestSetupLoggerStdoutConsole(t *testing.T) {
	logger, sync, err := SetupLogger(nodeconfig.LogConfig{
		Level:   "debug",
		Format:  "console",
		Outputs: []string{"stdout"},
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer sync()
	if logger.Core().Enabled(zap.DebugLevel) != true {
		t.Fatalf("expected debug level enabled")
	}
}

func TestSetupLoggerFileOutputWithRotation(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "node.log")
	logger, sync, err := SetupLogger(nodeconfig.LogConfig{
		Level:   "info",
		Format:  "json",
		Outputs: []string{logPath},
		Rotation: nodeconfig.RotationConfig{
			Enable:     true,
			Filename:   logPath,
			MaxSizeMB:  10,
			MaxBackups: 1,
			MaxAgeDays: 7,
		},
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Info("hello")
	sync()

	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}
