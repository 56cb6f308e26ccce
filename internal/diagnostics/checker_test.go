package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"media-clipper/internal/domain"
)

func plentyFree(string) (uint64, error) { return 50 << 30, nil }

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	cookies := filepath.Join(root, "cookies.txt")
	if err := os.WriteFile(cookies, []byte("# Netscape HTTP Cookie File"), 0o644); err != nil {
		t.Fatalf("write cookies: %v", err)
	}

	var looked []string
	checker := NewCheckerForTests(
		func(name string) (string, error) {
			looked = append(looked, name)
			return "/usr/local/bin/" + name, nil
		},
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		plentyFree,
	)

	report := checker.Run(domain.Settings{
		TempDir:     filepath.Join(root, "temp"),
		OutputDir:   filepath.Join(root, "output"),
		CookiesPath: cookies,
		FFmpegPath:  "/opt/ffmpeg/bin/ffmpeg",
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	for _, item := range report.Items {
		if item.Status != domain.DiagnosticStatusPass {
			t.Fatalf("item %s: got %s (%s)", item.ID, item.Status, item.Message)
		}
	}
	if looked[1] != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("configured ffmpeg path not used: %v", looked)
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		plentyFree,
	)

	report := checker.Run(domain.Settings{})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, IDYtDlp, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDFFmpeg, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDFFprobe, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDTempDir, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDOutputDir, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDCookies, domain.DiagnosticStatusWarn)
}

// TestCheckerWarningsDoNotFail validates cookies and disk warnings.
func TestCheckerWarningsDoNotFail(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		func(string) (uint64, error) { return 100 << 20, nil },
	)

	report := checker.Run(domain.Settings{
		TempDir:     filepath.Join(root, "temp"),
		OutputDir:   filepath.Join(root, "out"),
		CookiesPath: filepath.Join(root, "absent.txt"),
	})

	if report.HasFailures {
		t.Fatalf("warnings must not fail the report: %+v", report.Items)
	}
	assertStatusByID(t, report, IDCookies, domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, IDDiskSpace, domain.DiagnosticStatusWarn)

	checker.freeBytes = func(string) (uint64, error) { return 0, errors.New("statfs failed") }
	report = checker.Run(domain.Settings{TempDir: filepath.Join(root, "temp"), OutputDir: filepath.Join(root, "out")})
	assertStatusByID(t, report, IDDiskSpace, domain.DiagnosticStatusWarn)
}

// TestCheckerUnwritableDirFails validates the write probe.
func TestCheckerUnwritableDirFails(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		func(string, string) (*os.File, error) { return nil, errors.New("read-only file system") },
		os.Remove,
		plentyFree,
	)

	report := checker.Run(domain.Settings{TempDir: filepath.Join(root, "t"), OutputDir: filepath.Join(root, "o")})
	assertStatusByID(t, report, IDOutputDir, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, IDTempDir, domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
