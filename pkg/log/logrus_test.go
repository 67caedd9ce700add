package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSimpleFormatterFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("debug", &buf)

	logger.WithFields(map[string]interface{}{"robot": 2, "machine": "BOX_ATTACHMENT"}).Infof("entered %s", "WAIT_FOR_TURN")

	line := buf.String()
	if !strings.Contains(line, "[INF] entered WAIT_FOR_TURN") {
		t.Errorf("unexpected log line: %q", line)
	}
	if !strings.HasSuffix(line, "machine=BOX_ATTACHMENT robot=2\n") {
		t.Errorf("fields not sorted/appended as expected: %q", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("warn", &buf)

	logger.Infof("hidden")
	logger.Warnf("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "[WAR] shown") {
		t.Errorf("expected warning in output, got %q", buf.String())
	}
}

func TestNewLogrusLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogrusLogger("info", dir)
	if err != nil {
		t.Fatalf("NewLogrusLogger failed: %v", err)
	}
	logger.WithField("robot", 0).Infof("hello file")

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file robot=0") {
		t.Errorf("log file content = %q", string(data))
	}
}
