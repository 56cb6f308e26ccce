package domain

import "time"

// JobStatus tracks each pipeline stage for a single clip job.
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusResolving   JobStatus = "resolving"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusInspecting  JobStatus = "inspecting"
	JobStatusFinalizing  JobStatus = "finalizing"
	JobStatusDone        JobStatus = "done"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Settings contains runtime configuration loaded from the settings file.
type Settings struct {
	ListenAddr        string `yaml:"listen_addr" json:"listenAddr"`
	TempDir           string `yaml:"temp_dir" json:"tempDir"`
	OutputDir         string `yaml:"output_dir" json:"outputDir"`
	CookiesPath       string `yaml:"cookies_path" json:"cookiesPath"`
	YtDlpPath         string `yaml:"ytdlp_path" json:"ytdlpPath"`
	FFmpegPath        string `yaml:"ffmpeg_path" json:"ffmpegPath"`
	FFprobePath       string `yaml:"ffprobe_path" json:"ffprobePath"`
	StreamFormat      string `yaml:"stream_format" json:"streamFormat"`
	AcceptSilentVideo bool   `yaml:"accept_silent_video" json:"acceptSilentVideo"`
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs" json:"maxConcurrentJobs"`
	AuditLogPath      string `yaml:"audit_log_path" json:"auditLogPath"`
	AuditDBPath       string `yaml:"audit_db_path" json:"auditDbPath"`
	LogLevel          string `yaml:"log_level" json:"logLevel"`
	LogJSON           bool   `yaml:"log_json" json:"logJson"`
}

// Job stores one clip job identity, request and lifecycle status.
type Job struct {
	ID        string     `json:"id"`
	SourceURL string     `json:"url"`
	Range     TimeRange  `json:"range"`
	Status    JobStatus  `json:"status"`
	Percent   int        `json:"percent"`
	Output    string     `json:"outputPath,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}
