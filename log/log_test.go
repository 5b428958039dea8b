package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestModuleAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithHandler(slog.NewJSONHandler(&buf, nil)).Module("env")
	l.Info("deployed", "address", "0xabc")
	if got := buf.String(); !bytes.Contains([]byte(got), []byte(`"module":"env"`)) {
		t.Errorf("expected module attribute in output, got %s", got)
	}
}

func TestNewFileWritesToRotatingLogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boa.log")
	l := NewFile(path, slog.LevelInfo, 1, 1)
	l.Info("hello from a forked session")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte("hello from a forked session")) {
		t.Errorf("expected message in log file, got %s", data)
	}
}
