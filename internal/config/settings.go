// Package config loads engine settings from a YAML file with sane defaults
// for everything the file leaves out.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ytget/tubegrab/internal/model"
	"github.com/ytget/tubegrab/internal/platform"
)

// QualityPreset names a position in an entry's best-first format list.
type QualityPreset string

const (
	QualityHighest QualityPreset = "highest"
	QualityMedium  QualityPreset = "medium"
	QualityLowest  QualityPreset = "lowest"
)

// Pick selects a format from a best-first ordered list according to the
// preset: first, middle, or last.
func (p QualityPreset) Pick(formats []model.FormatOption) *model.FormatOption {
	if len(formats) == 0 {
		return nil
	}
	switch p {
	case QualityMedium:
		return &formats[len(formats)/2]
	case QualityLowest:
		return &formats[len(formats)-1]
	default:
		return &formats[0]
	}
}

// Default values
const (
	DefaultMaxParallel      = 2
	MaxParallelLimit        = 10
	DefaultFilenameTemplate = "%(title)s.%(ext)s"
	DefaultStallTimeoutSec  = 30
	DefaultRetryBudget      = 3
	DefaultQuality          = QualityHighest
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"

	scratchDirName = "tubegrab"
)

// Settings is the engine configuration.
type Settings struct {
	DownloadDir      string        `yaml:"download_dir"`
	ScratchDir       string        `yaml:"scratch_dir"`
	MaxParallel      int           `yaml:"max_parallel"`
	FilenameTemplate string        `yaml:"filename_template"`
	StallTimeoutSec  int           `yaml:"stall_timeout_seconds"`
	RetryBudget      int           `yaml:"retry_budget"`
	Quality          QualityPreset `yaml:"quality"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
}

// Default returns settings with every field at its default.
func Default() *Settings {
	s := &Settings{}
	s.normalize()
	return s
}

// Load reads settings from a YAML file and fills gaps with defaults. An
// empty path yields pure defaults; a named file must exist and parse.
func Load(path string) (*Settings, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	s.normalize()
	return &s, nil
}

// StallTimeout returns the stall timeout as a duration.
func (s *Settings) StallTimeout() time.Duration {
	return time.Duration(s.StallTimeoutSec) * time.Second
}

// normalize fills missing fields and clamps out-of-range ones.
func (s *Settings) normalize() {
	if s.DownloadDir == "" {
		dir, err := platform.HomeDownloadsDir()
		if err != nil {
			dir = filepath.Join(os.TempDir(), "downloads")
		}
		s.DownloadDir = dir
	}
	if s.ScratchDir == "" {
		s.ScratchDir = filepath.Join(os.TempDir(), scratchDirName)
	}
	if s.MaxParallel < 1 {
		s.MaxParallel = DefaultMaxParallel
	}
	if s.MaxParallel > MaxParallelLimit {
		s.MaxParallel = MaxParallelLimit
	}
	if s.FilenameTemplate == "" {
		s.FilenameTemplate = DefaultFilenameTemplate
	}
	if s.StallTimeoutSec <= 0 {
		s.StallTimeoutSec = DefaultStallTimeoutSec
	}
	if s.RetryBudget <= 0 {
		s.RetryBudget = DefaultRetryBudget
	}
	switch s.Quality {
	case QualityHighest, QualityMedium, QualityLowest:
	default:
		s.Quality = DefaultQuality
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.LogFormat == "" {
		s.LogFormat = DefaultLogFormat
	}
}
