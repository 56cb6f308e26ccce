package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"media-clipper/internal/domain"
)

// minFreeBytes is the free space below which the disk check warns.
const minFreeBytes uint64 = 2 << 30

// Item IDs, also used by the remediation endpoint.
const (
	IDYtDlp     = "tool_yt-dlp"
	IDFFmpeg    = "tool_ffmpeg"
	IDFFprobe   = "tool_ffprobe"
	IDTempDir   = "temp_dir"
	IDOutputDir = "output_dir"
	IDCookies   = "cookies"
	IDDiskSpace = "disk_space"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	freeBytes  func(string) (uint64, error)
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		freeBytes:  diskFree,
	}
}

// Run executes all startup checks and returns a combined report.
// Warnings never count as failures.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(IDYtDlp, "yt-dlp", settings.YtDlpPath),
		c.checkTool(IDFFmpeg, "ffmpeg", settings.FFmpegPath),
		c.checkTool(IDFFprobe, "ffprobe", settings.FFprobePath),
		c.checkWritableDir(IDTempDir, "Temp directory", settings.TempDir),
		c.checkWritableDir(IDOutputDir, "Output directory", settings.OutputDir),
		c.checkCookies(settings.CookiesPath),
		c.checkDiskSpace(settings.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable is resolvable.
func (c *Checker) checkTool(id, name, configured string) domain.DiagnosticItem {
	bin := strings.TrimSpace(configured)
	if bin == "" {
		bin = name
	}

	path, err := c.lookPath(bin)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      id,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found: %s", bin),
			Hint:    "Install it and ensure the binary is on PATH, or set its path in settings, before starting a clip.",
		}
	}

	return domain.DiagnosticItem{
		ID:      id,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = "Set a directory where clip files can be written."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkCookies warns when the extractor will run unauthenticated.
func (c *Checker) checkCookies(path string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   IDCookies,
		Name: "Cookies file",
		Hint: "Export browser cookies in Netscape format to access age-restricted or private videos.",
	}

	if strings.TrimSpace(path) == "" {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "No cookies file configured; sources are resolved unauthenticated."
		return item
	}
	info, err := c.stat(path)
	if err != nil || info.IsDir() {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Cookies file not found: %s", path)
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Cookies file found: %s", path)
	item.Hint = ""
	return item
}

// checkDiskSpace warns when the output area is running low.
func (c *Checker) checkDiskSpace(dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   IDDiskSpace,
		Name: "Free disk space",
	}

	free, err := c.freeBytes(dir)
	if err != nil {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Cannot determine free space for %s", dir)
		return item
	}

	gib := float64(free) / float64(1<<30)
	if free < minFreeBytes {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Only %.1f GiB free in %s", gib, dir)
		item.Hint = "Transcoded clips can be large; free up space or move the output directory."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("%.1f GiB free", gib)
	return item
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	freeBytes func(string) (uint64, error),
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		freeBytes:  freeBytes,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
