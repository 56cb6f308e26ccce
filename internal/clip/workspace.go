package clip

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Workspace owns the temp and output areas of the pipeline.
type Workspace struct {
	TempDir   string
	OutputDir string
}

// NewWorkspace returns a workspace rooted at the given directories.
func NewWorkspace(tempDir, outputDir string) Workspace {
	return Workspace{
		TempDir:   strings.TrimSpace(tempDir),
		OutputDir: strings.TrimSpace(outputDir),
	}
}

// Ensure creates both areas when absent.
func (w Workspace) Ensure() error {
	if w.TempDir == "" || w.OutputDir == "" {
		return errors.New("temp and output directories are required")
	}
	for _, dir := range []string{w.TempDir, w.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// TempPath returns the temp-area path for a file name.
func (w Workspace) TempPath(name string) string {
	return filepath.Join(w.TempDir, name)
}

// OutputPath returns the output-area path for a file name.
func (w Workspace) OutputPath(name string) string {
	return filepath.Join(w.OutputDir, name)
}

// PartialPath returns the hidden sibling used while an output is written.
func (w Workspace) PartialPath(name string) string {
	return filepath.Join(w.OutputDir, "."+name+partialSuffix)
}

// Promote moves src to dst. Readers of dst only ever see a complete file:
// a same-device rename is atomic, otherwise the data is copied into a
// partial sibling of dst which is then renamed.
func (w Workspace) Promote(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}

	partial := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+partialSuffix)
	if err := copyFile(src, partial); err != nil {
		_ = os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, dst); err != nil {
		_ = os.Remove(partial)
		return err
	}
	return os.Remove(src)
}

// Remove deletes paths, ignoring ones that do not exist. The first other
// failure is returned after every path has been attempted.
func (w Workspace) Remove(paths ...string) error {
	var firstErr error
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
