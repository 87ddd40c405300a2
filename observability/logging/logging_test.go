package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupWithOptionsWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("escrowd", "test", Options{Level: "warn", Output: &buf})

	logger.Info("dropped")
	logger.Warn("kept", MaskField("detailsHash", "bafy"), MaskField("reason", "late"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "kept" {
		t.Fatalf("expected warn line only, got %v", line)
	}
	if line["severity"] != "WARN" {
		t.Fatalf("unexpected severity %v", line["severity"])
	}
	if line["service"] != "escrowd" || line["env"] != "test" {
		t.Fatalf("missing service attrs: %v", line)
	}
	if line["detailsHash"] != RedactedValue {
		t.Fatalf("details hash must be masked, got %v", line["detailsHash"])
	}
	if line["reason"] != "late" {
		t.Fatalf("allowlisted key must pass through, got %v", line["reason"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp key: %v", line)
	}
}

func TestSetupWithOptionsRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrowd.log")
	logger := SetupWithOptions("escrowd", "", Options{File: path, MaxSizeMB: 1})
	logger.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"message":"hello"`)) {
		t.Fatalf("log file missing line: %s", data)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestMaskAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0x00000000000000000000000000000000000000bb", "0x0000…00bb"},
		{"abcdef0123456789abcdef0123456789abcdef01", "0xabcd…ef01"},
		{"0x1234", "0x1234"},
	}
	for _, tc := range cases {
		if got := MaskAddress("caller", tc.in).Value.String(); got != tc.want {
			t.Fatalf("MaskAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if !IsSafeKey(" Agreement_ID ") {
		t.Fatalf("agreement_id must be safe")
	}
}
