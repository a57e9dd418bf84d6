// Package verify checks the files the service under test writes to disk.
package verify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
)

var (
	// ErrFileNotFound is returned when the expected file does not exist.
	// It also matches os.ErrNotExist.
	ErrFileNotFound = fmt.Errorf("file not found: %w", os.ErrNotExist)
	// ErrContentMismatch is returned when the file exists but its content differs.
	ErrContentMismatch = errors.New("file content mismatch")
	// ErrOutsideBase is returned for paths that resolve outside the base directory.
	ErrOutsideBase = errors.New("path escapes base directory")
)

// MismatchError carries both contents and a unified diff of them.
type MismatchError struct {
	Path     string
	Expected string
	Actual   string
	Diff     string
}

func (e *MismatchError) Error() string {
	if e.Diff == "" {
		return fmt.Sprintf("%s: %s: expected %q, got %q", ErrContentMismatch, e.Path, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: %s\n%s", ErrContentMismatch, e.Path, e.Diff)
}

func (e *MismatchError) Unwrap() error { return ErrContentMismatch }

// Verifier resolves relative paths against BaseDir. An empty BaseDir means
// the working directory.
type Verifier struct {
	BaseDir string
}

// New returns a Verifier rooted at baseDir.
func New(baseDir string) *Verifier {
	return &Verifier{BaseDir: baseDir}
}

// Resolve returns the on-disk location of a relative path. Repeated
// separators are collapsed, so "mock_data//example" and "mock_data/example"
// name the same file. Paths climbing out of BaseDir fail with ErrOutsideBase.
func (v *Verifier) Resolve(relativePath string) (string, error) {
	base := v.BaseDir
	if base == "" {
		base = "."
	}
	path := filepath.Join(base, filepath.FromSlash(relativePath))
	rel, err := filepath.Rel(base, path)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, relativePath)
	}
	return path, nil
}

// Verify reads the file at relativePath and compares it byte for byte with expected.
func (v *Verifier) Verify(relativePath, expected string) error {
	path, err := v.Resolve(relativePath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	actual := string(data)
	if actual == expected {
		return nil
	}

	return &MismatchError{
		Path:     path,
		Expected: expected,
		Actual:   actual,
		Diff:     unifiedDiff(path, expected, actual),
	}
}

func unifiedDiff(path, expected, actual string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   path,
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return diff
}
