package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const maxNameAttempts = 10000

// SanitizeName reduces a name received from a peer to a bare file name.
func SanitizeName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// candidateName returns name for n == 0, otherwise "stem (n).ext".
func candidateName(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// dotfiles such as ".bashrc" have no stem
		return fmt.Sprintf("%s (%d)", name, n)
	}
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}

// ResolveDestination returns the first candidate path under dir that does
// not exist right now. Nothing is created, so two calls may return the same
// path; CreateDestination is the race-free variant.
func ResolveDestination(dir, name string) (string, error) {
	for n := 0; n < maxNameAttempts; n++ {
		path := filepath.Join(dir, candidateName(name, n))
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", name, maxNameAttempts)
}

// CreateDestination creates a new file under dir named after name, adding a
// numeric suffix while the name is taken. Creation is exclusive, so
// concurrent callers never get the same file.
func CreateDestination(dir, name string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}

	for n := 0; n < maxNameAttempts; n++ {
		path := filepath.Join(dir, candidateName(name, n))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, path, nil
	}
	return nil, "", fmt.Errorf("no free name for %s after %d attempts", name, maxNameAttempts)
}
