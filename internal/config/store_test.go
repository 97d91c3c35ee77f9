package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultSettings_Valid(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Errorf("DefaultSettings().Validate() = %v", err)
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *Settings)
	}{
		{"colorspace", func(s *Settings) { s.Colorspace = "sepia" }},
		{"resolution low", func(s *Settings) { s.Resolution = 71 }},
		{"resolution high", func(s *Settings) { s.Resolution = 1201 }},
		{"lines per page", func(s *Settings) { s.LinesPerPage = 0 }},
		{"tool timeout", func(s *Settings) { s.ToolTimeoutSeconds = 0 }},
		{"upload size", func(s *Settings) { s.MaxUploadBytes = 10 }},
		{"concurrency", func(s *Settings) { s.Concurrency = MaxConcurrency + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)
			if err := s.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestStore_Persist(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	want := DefaultSettings()
	want.Colorspace = "gc"
	want.Resolution = 300
	want.Concurrency = 8
	if err := s.Update(want); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "settings.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if diff := cmp.Diff(want, reopened.Get()); diff != "" {
		t.Errorf("reloaded settings mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	bad := DefaultSettings()
	bad.Resolution = 5
	if err := s.Update(bad); err == nil {
		t.Fatal("Update() = nil, want error")
	}
	if got := s.Get().Resolution; got != DefaultSettings().Resolution {
		t.Errorf("Resolution = %d, want unchanged %d", got, DefaultSettings().Resolution)
	}
}

func TestStore_InvalidFileFallsBack(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"out of range", `{"resolution": 5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(tt.data), 0644); err != nil {
				t.Fatal(err)
			}
			s, err := NewStore(dir)
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			if diff := cmp.Diff(DefaultSettings(), s.Get()); diff != "" {
				t.Errorf("settings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"linesPerPage": 72}`), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	want := DefaultSettings()
	want.LinesPerPage = 72
	if diff := cmp.Diff(want, s.Get()); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}
