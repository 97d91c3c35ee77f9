package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PKPGCOUNTER_TEST_INT", "9000")
	t.Setenv("PKPGCOUNTER_TEST_BAD", "lots")
	t.Setenv("PKPGCOUNTER_TEST_BOOL", "false")
	if got := envInt("PKPGCOUNTER_TEST_INT", 1); got != 9000 {
		t.Errorf("envInt = %d, want 9000", got)
	}
	if got := envInt("PKPGCOUNTER_TEST_BAD", 1); got != 1 {
		t.Errorf("envInt(bad) = %d, want fallback 1", got)
	}
	if got := envBool("PKPGCOUNTER_TEST_BOOL", true); got {
		t.Error("envBool = true, want false")
	}
	if got := envStr("PKPGCOUNTER_TEST_UNSET", "x"); got != "x" {
		t.Errorf("envStr = %q, want fallback x", got)
	}
}

func TestFormatIDs(t *testing.T) {
	ids := formatIDs()
	if len("formats="+ids) > 255 || !strings.HasPrefix(ids, "postscript,pclxl,pdf") {
		t.Errorf("formatIDs() = %q", ids)
	}
}

func TestLogMiddleware_Status(t *testing.T) {
	h := logMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}
