package utils

import (
	"strings"
	"testing"
)

func TestGetBufferLength(t *testing.T) {
	for _, length := range []int{0, 1, 512, 2048, 8192} {
		buf := GetBuffer(length)
		if len(buf) != length {
			t.Fatalf("GetBuffer(%d) length = %d", length, len(buf))
		}
		PutBuffer(buf)
	}
}

func TestBufferRoundTrip(t *testing.T) {
	buf := GetBuffer(1500)
	buf[0] = 0xAB
	PutBuffer(buf)

	again := GetBuffer(1500)
	if len(again) != 1500 {
		t.Fatalf("reused buffer length = %d", len(again))
	}
	PutBuffer(again)
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger := NewLogger("test")

	var lines []string
	logger.SetCallback(func(level LogLevel, message string) {
		lines = append(lines, message)
	})
	logger.SetLevel(LogLevelWarn)

	logger.Debug("hidden %d", 1)
	logger.Info("hidden %d", 2)
	logger.Warn("shown %d", 3)
	logger.Error("shown %d", 4)

	if len(lines) != 2 {
		t.Fatalf("callback fired %d times, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "[WARN] [test] shown 3") {
		t.Fatalf("unexpected warn line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR] [test] shown 4") {
		t.Fatalf("unexpected error line: %q", lines[1])
	}
}

func TestLogLevelString(t *testing.T) {
	cases := map[LogLevel]string{
		LogLevelDebug: "DEBUG",
		LogLevelInfo:  "INFO",
		LogLevelWarn:  "WARN",
		LogLevelError: "ERROR",
		LogLevel(42):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Fatalf("LogLevel(%d).String() = %q, want %q", level, got, want)
		}
	}
}
