package bootstrap

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"media-clipper/internal/config"
	"media-clipper/internal/diagnostics"
	"media-clipper/internal/domain"
)

const (
	installCommandTimeout = 45 * time.Minute
	downloadToolTimeout   = 30 * time.Minute

	ffmpegBuildsLatestURL = "https://api.github.com/repos/BtbN/FFmpeg-Builds/releases/latest"
	userAgent             = "media-clipper"
)

type installOption struct {
	manager  string
	commands [][]string
}

// ytdlpInstall downloads a managed yt-dlp build and returns its executable.
var ytdlpInstall = func(ctx context.Context) (string, error) {
	resolved, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return "", err
	}
	return resolved.Executable, nil
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	stored, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	effective, err := config.ApplyEnv(stored, os.LookupEnv)
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("apply environment: %w", err)
	}

	settingsChanged := false
	var fixErr error

	switch id {
	case diagnostics.IDFFmpeg, diagnostics.IDFFprobe:
		stored, settingsChanged, fixErr = installFFmpegForCurrentOS(stored)
	case diagnostics.IDYtDlp:
		stored, settingsChanged, fixErr = installYtDlpForCurrentOS(stored)
	case diagnostics.IDTempDir:
		fixErr = installOrFixDir(effective.TempDir)
	case diagnostics.IDOutputDir:
		fixErr = installOrFixDir(effective.OutputDir)
	case diagnostics.IDCookies, diagnostics.IDDiskSpace:
		return a.GetDiagnostics(), fmt.Errorf("%s has no automatic fix", id)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(stored); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(effective)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
		effective, err = config.ApplyEnv(stored, os.LookupEnv)
		if err != nil {
			return a.GetDiagnostics(), fmt.Errorf("apply environment: %w", err)
		}
	}

	report := a.refreshDiagnosticsFromSettings(effective)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".media-clipper", "bin")
}

func localToolsDir(homeDir string) string {
	return filepath.Join(homeDir, ".media-clipper", "tools")
}

// installFFmpegForCurrentOS installs ffmpeg and ffprobe with the first
// available package manager. On Windows a portable build is the fallback and
// its executables are written into the settings.
func installFFmpegForCurrentOS(settings domain.Settings) (domain.Settings, bool, error) {
	installErr := runFirstSuccessfulInstall(ffmpegInstallOptions(goruntime.GOOS))
	if installErr == nil {
		installErr = requireToolsOnPath("ffmpeg", "ffprobe")
		if installErr == nil {
			return settings, false, nil
		}
	}

	if goruntime.GOOS != "windows" {
		return settings, false, fmt.Errorf("install ffmpeg/ffprobe: %w", installErr)
	}

	ffmpegPath, ffprobePath, err := installFFmpegWindowsFromGithubRelease()
	if err != nil {
		return settings, false, fmt.Errorf("install ffmpeg/ffprobe: %v | release fallback: %w", installErr, err)
	}

	changed := settings.FFmpegPath != ffmpegPath || settings.FFprobePath != ffprobePath
	settings.FFmpegPath = ffmpegPath
	settings.FFprobePath = ffprobePath
	return settings, changed, nil
}

func ffmpegInstallOptions(goos string) []installOption {
	switch goos {
	case "windows":
		return []installOption{
			{manager: "winget", commands: [][]string{
				{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
			}},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "install", "-y", "ffmpeg"},
			}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
}

// installYtDlpForCurrentOS prefers a managed yt-dlp download, which keeps
// the extractor current, and falls back to the package manager.
func installYtDlpForCurrentOS(settings domain.Settings) (domain.Settings, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), downloadToolTimeout)
	defer cancel()

	executable, downloadErr := ytdlpInstall(ctx)
	if downloadErr == nil && strings.TrimSpace(executable) != "" {
		changed := settings.YtDlpPath != executable
		settings.YtDlpPath = executable
		return settings, changed, nil
	}
	if downloadErr == nil {
		downloadErr = fmt.Errorf("managed install returned no executable")
	}

	if err := runFirstSuccessfulInstall(ytdlpInstallOptions(goruntime.GOOS)); err != nil {
		return settings, false, fmt.Errorf("install yt-dlp: %v | package manager: %w", downloadErr, err)
	}
	if err := requireToolsOnPath("yt-dlp"); err != nil {
		return settings, false, fmt.Errorf("verify yt-dlp on PATH: %w", err)
	}

	changed := settings.YtDlpPath != "yt-dlp"
	settings.YtDlpPath = "yt-dlp"
	return settings, changed, nil
}

func ytdlpInstallOptions(goos string) []installOption {
	switch goos {
	case "windows":
		return []installOption{
			{manager: "winget", commands: [][]string{
				{"winget", "install", "--id", "yt-dlp.yt-dlp", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
			}},
			{manager: "choco", commands: [][]string{{"choco", "install", "yt-dlp", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "yt-dlp"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "yt-dlp"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "install", "-y", "yt-dlp"},
			}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "yt-dlp"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "yt-dlp"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "yt-dlp"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "yt-dlp"}}},
		}
	}
}

func runFirstSuccessfulInstall(options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", goruntime.GOOS)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !commandAvailable(option.manager) {
			continue
		}
		atLeastOneManager = true
		err := runInstallCommands(option.commands)
		if err == nil {
			return nil
		}
		errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if !atLeastOneManager {
		return fmt.Errorf("no supported package manager found for %s", goruntime.GOOS)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

func runInstallCommands(commands [][]string) error {
	for _, command := range commands {
		if err := runCommandWithPossibleElevation(command); err != nil {
			return err
		}
	}
	return nil
}

func runCommandWithPossibleElevation(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if goruntime.GOOS == "linux" && requiresElevation(command[0]) {
		if commandAvailable("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if commandAvailable("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		err := runCommand(candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attemptErrors = append(attemptErrors, err.Error())
	}

	return errors.New(strings.Join(attemptErrors, " | "))
}

func runCommand(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, trimmed)
}

func formatCommand(name string, args []string) string {
	parts := append([]string{name}, args...)
	return strings.Join(parts, " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func requireToolsOnPath(names ...string) error {
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name string `json:"name"`
		URL  string `json:"browser_download_url"`
	} `json:"assets"`
}

// installFFmpegWindowsFromGithubRelease unpacks the latest portable build
// under the local tools directory.
func installFFmpegWindowsFromGithubRelease() (ffmpegPath, ffprobePath string, err error) {
	release, err := fetchGithubRelease(ffmpegBuildsLatestURL)
	if err != nil {
		return "", "", fmt.Errorf("fetch latest ffmpeg build metadata: %w", err)
	}

	assetURL, assetName, err := selectFFmpegWindowsAsset(release)
	if err != nil {
		return "", "", err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve user home: %w", err)
	}

	installDir := filepath.Join(localToolsDir(homeDir), "ffmpeg", release.TagName)
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create ffmpeg install directory: %w", err)
	}

	zipPath := filepath.Join(installDir, assetName)
	if err := downloadURLToFile(zipPath, assetURL, downloadToolTimeout); err != nil {
		return "", "", fmt.Errorf("download release asset: %w", err)
	}

	ffmpegPath, ffprobePath, err = extractFFmpegZip(zipPath, installDir)
	if err != nil {
		return "", "", fmt.Errorf("extract ffmpeg release asset: %w", err)
	}
	_ = os.Remove(zipPath)
	return ffmpegPath, ffprobePath, nil
}

func fetchGithubRelease(url string) (githubRelease, error) {
	ctx, cancel := context.WithTimeout(context.Background(), downloadToolTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return githubRelease{}, fmt.Errorf("build release metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return githubRelease{}, fmt.Errorf("request release metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return githubRelease{}, fmt.Errorf("release metadata request returned %s", resp.Status)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return githubRelease{}, fmt.Errorf("decode release metadata: %w", err)
	}
	if strings.TrimSpace(release.TagName) == "" {
		return githubRelease{}, fmt.Errorf("release metadata did not include a tag name")
	}
	return release, nil
}

// selectFFmpegWindowsAsset prefers the static GPL master build and accepts
// any other static win64 zip.
func selectFFmpegWindowsAsset(release githubRelease) (url string, name string, err error) {
	if len(release.Assets) == 0 {
		return "", "", fmt.Errorf("release %s has no assets", release.TagName)
	}

	selectByPredicate := func(predicate func(string) bool) (string, string, bool) {
		for _, asset := range release.Assets {
			assetName := strings.ToLower(strings.TrimSpace(asset.Name))
			if !predicate(assetName) || strings.TrimSpace(asset.URL) == "" {
				continue
			}
			return asset.URL, asset.Name, true
		}
		return "", "", false
	}

	if url, name, ok := selectByPredicate(func(assetName string) bool {
		return strings.HasPrefix(assetName, "ffmpeg-master-latest-win64-gpl") && strings.HasSuffix(assetName, ".zip") &&
			!strings.Contains(assetName, "shared")
	}); ok {
		return url, name, nil
	}

	if url, name, ok := selectByPredicate(func(assetName string) bool {
		return strings.HasSuffix(assetName, ".zip") &&
			strings.Contains(assetName, "win64") &&
			!strings.Contains(assetName, "shared")
	}); ok {
		return url, name, nil
	}

	return "", "", fmt.Errorf("release %s does not contain a supported Windows x64 zip asset", release.TagName)
}

func downloadURLToFile(destinationPath string, sourceURL string, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Remove(destinationPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("remove old destination file: %w", err)
	}
	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}

	return nil
}

// extractFFmpegZip unpacks the archive and returns the ffmpeg and ffprobe
// executables it contained.
func extractFFmpegZip(zipPath string, extractDir string) (ffmpegPath, ffprobePath string, err error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", "", err
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file == nil {
			continue
		}
		cleanName := filepath.Clean(file.Name)
		if cleanName == "." || cleanName == "" {
			continue
		}
		targetPath := filepath.Join(extractDir, cleanName)
		if !isWithinBaseDir(extractDir, targetPath) {
			return "", "", fmt.Errorf("zip contains invalid path: %s", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return "", "", err
			}
			continue
		}

		if err := extractZipFile(file, targetPath); err != nil {
			return "", "", err
		}

		switch strings.ToLower(filepath.Base(targetPath)) {
		case "ffmpeg.exe", "ffmpeg":
			ffmpegPath = targetPath
		case "ffprobe.exe", "ffprobe":
			ffprobePath = targetPath
		}
	}

	if ffmpegPath == "" || ffprobePath == "" {
		return "", "", fmt.Errorf("extracted archive does not contain ffmpeg and ffprobe executables")
	}
	return ffmpegPath, ffprobePath, nil
}

func extractZipFile(file *zip.File, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		_ = src.Close()
		return err
	}

	_, copyErr := io.Copy(dst, src)
	srcCloseErr := src.Close()
	dstCloseErr := dst.Close()
	return errors.Join(copyErr, srcCloseErr, dstCloseErr)
}

func isWithinBaseDir(baseDir string, targetPath string) bool {
	baseClean := filepath.Clean(baseDir)
	targetClean := filepath.Clean(targetPath)
	relative, err := filepath.Rel(baseClean, targetClean)
	if err != nil {
		return false
	}
	return relative == "." || (!strings.HasPrefix(relative, "..") && relative != "")
}

// installOrFixDir creates a missing work directory.
func installOrFixDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("directory path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}
