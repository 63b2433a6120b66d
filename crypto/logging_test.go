package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// captureLogs redirects the standard logger into a buffer for the test.
func captureLogs(t *testing.T, level logrus.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevLevel := logrus.StandardLogger().Out, logrus.GetLevel()
	logrus.SetOutput(&buf)
	logrus.SetLevel(level)
	t.Cleanup(func() {
		logrus.SetOutput(prevOut)
		logrus.SetLevel(prevLevel)
	})
	return &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("Derive")

	if logger.fields["function"] != "Derive" {
		t.Errorf("fields[function] = %v, want Derive", logger.fields["function"])
	}
	if logger.fields["package"] != "crypto" {
		t.Errorf("fields[package] = %v, want crypto", logger.fields["package"])
	}
}

func TestLoggerHelper_Chaining(t *testing.T) {
	buf := captureLogs(t, logrus.DebugLevel)

	NewLogger("Decrypt").
		WithField("usage", "chat").
		WithFields(logrus.Fields{"remote_key": "abcd"}).
		WithError(errors.New("bad tag"), "open").
		Debug("Decryption rejected")

	out := buf.String()
	for _, want := range []string{"function=Decrypt", "usage=chat", "remote_key=abcd", `error="bad tag"`, "operation=open", "Decryption rejected"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestLoggerHelper_Levels(t *testing.T) {
	buf := captureLogs(t, logrus.InfoLevel)

	NewLogger("f").Debug("hidden")
	NewLogger("f").Info("shown-info")
	NewLogger("f").Warn("shown-warn")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged at info level")
	}
	if !strings.Contains(out, "shown-info") || !strings.Contains(out, "shown-warn") {
		t.Errorf("missing info or warn output: %q", out)
	}
}

func TestSecureFieldHash(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantPreview string
		wantSize    int
	}{
		{"nil data", nil, "nil", 0},
		{"short data", []byte{0x01, 0x02, 0x03, 0x04}, "01020304", 4},
		{"exactly 8 bytes", []byte{1, 2, 3, 4, 5, 6, 7, 8}, "0102030405060708", 8},
		{"long data", bytes.Repeat([]byte{0xab}, 32), "abababababababab...", 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := SecureFieldHash(tt.data, "blob")
			if fields["blob_preview"] != tt.wantPreview {
				t.Errorf("preview = %v, want %v", fields["blob_preview"], tt.wantPreview)
			}
			if fields["blob_size"] != tt.wantSize {
				t.Errorf("size = %v, want %v", fields["blob_size"], tt.wantSize)
			}
		})
	}
}

func TestKeyPreview(t *testing.T) {
	if got := keyPreview("short"); got != "short" {
		t.Errorf("keyPreview(short) = %q", got)
	}
	long := strings.Repeat("A", 44) + "0123456789abcdef"
	if got := keyPreview(long); got != "0123456789abcdef" {
		t.Errorf("keyPreview(long) = %q", got)
	}
}
