package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"media-clipper/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// YAMLStore persists settings in a single YAML file on disk.
type YAMLStore struct {
	path string
}

// NewYAMLStore creates a YAML-backed settings store.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

// Path returns the backing file location.
func (s *YAMLStore) Path() string {
	return s.path
}

// Load reads settings from disk or returns defaults when missing. Fields
// absent from the file keep their default values.
func (s *YAMLStore) Load() (domain.Settings, error) {
	cfg := DefaultSettings()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return domain.Settings{}, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return Normalize(cfg), nil
}

// Save writes settings as YAML and creates parent directories.
func (s *YAMLStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// ApplyEnv overlays CLIPPER_* environment variables onto cfg. lookup is
// normally os.LookupEnv.
func ApplyEnv(cfg domain.Settings, lookup func(string) (string, bool)) (domain.Settings, error) {
	strs := map[string]*string{
		"CLIPPER_LISTEN_ADDR":    &cfg.ListenAddr,
		"CLIPPER_TEMP_DIR":       &cfg.TempDir,
		"CLIPPER_OUTPUT_DIR":     &cfg.OutputDir,
		"CLIPPER_COOKIES_PATH":   &cfg.CookiesPath,
		"CLIPPER_YTDLP_PATH":     &cfg.YtDlpPath,
		"CLIPPER_FFMPEG_PATH":    &cfg.FFmpegPath,
		"CLIPPER_FFPROBE_PATH":   &cfg.FFprobePath,
		"CLIPPER_STREAM_FORMAT":  &cfg.StreamFormat,
		"CLIPPER_AUDIT_LOG_PATH": &cfg.AuditLogPath,
		"CLIPPER_AUDIT_DB_PATH":  &cfg.AuditDBPath,
		"CLIPPER_LOG_LEVEL":      &cfg.LogLevel,
	}
	for key, field := range strs {
		if v, ok := lookup(key); ok {
			*field = strings.TrimSpace(v)
		}
	}

	bools := map[string]*bool{
		"CLIPPER_ACCEPT_SILENT_VIDEO": &cfg.AcceptSilentVideo,
		"CLIPPER_LOG_JSON":            &cfg.LogJSON,
	}
	for key, field := range bools {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return domain.Settings{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*field = b
	}

	if v, ok := lookup("CLIPPER_MAX_CONCURRENT_JOBS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return domain.Settings{}, fmt.Errorf("invalid CLIPPER_MAX_CONCURRENT_JOBS: %w", err)
		}
		cfg.MaxConcurrentJobs = n
	}

	return Normalize(cfg), nil
}
