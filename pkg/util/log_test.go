package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWithFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "node.log")

	logger, err := NewLoggerWithFile(logPath)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	logger.Sugar().Infow("order_created", "root", "0xabc")
	_ = logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"msg":"order_created"`) {
		t.Errorf("log line missing event: %s", line)
	}
	if !strings.Contains(line, `"ts":`) {
		t.Errorf("log line missing ts key: %s", line)
	}
}
