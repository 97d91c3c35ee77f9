package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mzyy94/pkpgcounter/internal/inkcoverage"
	"github.com/mzyy94/pkpgcounter/internal/pdl"
)

const (
	MaxLinesPerPage = 10000
	MaxConcurrency  = 64
	MinUploadBytes  = 1 << 10
)

// Settings holds the daemon's adjustable analysis defaults.
type Settings struct {
	Colorspace         string `json:"colorspace"` // default for /api/coverage
	Resolution         int    `json:"resolution"`
	LinesPerPage       int    `json:"linesPerPage"`
	ToolTimeoutSeconds int    `json:"toolTimeoutSeconds"`
	MaxUploadBytes     int64  `json:"maxUploadBytes"`
	Concurrency        int    `json:"concurrency"`
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{
		Colorspace:         "cmyk",
		Resolution:         inkcoverage.DefaultResolution,
		LinesPerPage:       pdl.DefaultLinesPerPage,
		ToolTimeoutSeconds: 120,
		MaxUploadBytes:     256 << 20,
		Concurrency:        2,
	}
}

// Validate reports the first setting out of range.
func (s Settings) Validate() error {
	if _, err := inkcoverage.ParseColorspace(s.Colorspace); err != nil {
		return err
	}
	if s.Resolution < inkcoverage.MinResolution || s.Resolution > inkcoverage.MaxResolution {
		return fmt.Errorf("resolution %d out of range [%d, %d]", s.Resolution, inkcoverage.MinResolution, inkcoverage.MaxResolution)
	}
	if s.LinesPerPage < 1 || s.LinesPerPage > MaxLinesPerPage {
		return fmt.Errorf("lines per page %d out of range [1, %d]", s.LinesPerPage, MaxLinesPerPage)
	}
	if s.ToolTimeoutSeconds < 1 {
		return fmt.Errorf("tool timeout %ds must be positive", s.ToolTimeoutSeconds)
	}
	if s.MaxUploadBytes < MinUploadBytes {
		return fmt.Errorf("max upload size %d below %d bytes", s.MaxUploadBytes, MinUploadBytes)
	}
	if s.Concurrency < 1 || s.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency %d out of range [1, %d]", s.Concurrency, MaxConcurrency)
	}
	return nil
}

func (s Settings) ToolTimeout() time.Duration {
	return time.Duration(s.ToolTimeoutSeconds) * time.Second
}

// Store provides thread-safe settings persistence backed by a JSON file.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

// NewStore creates a Store that persists settings to dataDir/settings.json.
// If the file does not exist or is invalid, default settings are used.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	s := &Store{
		path:     filepath.Join(dataDir, "settings.json"),
		settings: DefaultSettings(),
	}
	s.load()
	return s, nil
}

// NewMemoryStore creates a Store that keeps settings in memory only.
func NewMemoryStore() *Store {
	return &Store{settings: DefaultSettings()}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update validates and replaces the settings, then persists them.
func (s *Store) Update(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return // file missing is OK, use defaults
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		slog.Warn("invalid settings file, using defaults", "path", s.path, "err", err)
		return
	}
	if err := settings.Validate(); err != nil {
		slog.Warn("settings out of range, using defaults", "path", s.path, "err", err)
		return
	}
	s.settings = settings
}

func (s *Store) save() error {
	if s.path == "" {
		return nil // memory-only mode
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
