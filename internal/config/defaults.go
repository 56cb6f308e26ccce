package config

import (
	"os"
	"path/filepath"
	"strings"

	"media-clipper/internal/domain"
)

const (
	appDirName        = ".media-clipper"
	defaultListenAddr = "127.0.0.1:8080"
	defaultFormat     = "bestvideo+bestaudio/best"
	defaultMaxJobs    = 2
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	base := appDir()

	return domain.Settings{
		ListenAddr:        defaultListenAddr,
		TempDir:           filepath.Join(os.TempDir(), "media-clipper"),
		OutputDir:         filepath.Join(base, "clips"),
		YtDlpPath:         "yt-dlp",
		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		StreamFormat:      defaultFormat,
		MaxConcurrentJobs: defaultMaxJobs,
		AuditLogPath:      filepath.Join(base, "logs", "clips.jsonl"),
		AuditDBPath:       filepath.Join(base, "audit.db"),
		LogLevel:          "info",
	}
}

// DefaultPath returns the settings file location, honouring CLIPPER_CONFIG.
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv("CLIPPER_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(appDir(), "settings.yaml")
}

// Normalize fills blank fields from defaults and trims string values.
// Optional paths (cookies, audit log, audit db) stay blank when unset.
func Normalize(cfg domain.Settings) domain.Settings {
	def := DefaultSettings()

	cfg.ListenAddr = orDefault(cfg.ListenAddr, def.ListenAddr)
	cfg.TempDir = orDefault(cfg.TempDir, def.TempDir)
	cfg.OutputDir = orDefault(cfg.OutputDir, def.OutputDir)
	cfg.YtDlpPath = orDefault(cfg.YtDlpPath, def.YtDlpPath)
	cfg.FFmpegPath = orDefault(cfg.FFmpegPath, def.FFmpegPath)
	cfg.FFprobePath = orDefault(cfg.FFprobePath, def.FFprobePath)
	cfg.StreamFormat = orDefault(cfg.StreamFormat, def.StreamFormat)
	cfg.LogLevel = strings.ToLower(orDefault(cfg.LogLevel, def.LogLevel))
	cfg.CookiesPath = strings.TrimSpace(cfg.CookiesPath)
	cfg.AuditLogPath = strings.TrimSpace(cfg.AuditLogPath)
	cfg.AuditDBPath = strings.TrimSpace(cfg.AuditDBPath)
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	return cfg
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func appDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, appDirName)
}
