package xfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ExpandTilde replaces a leading tilde (~) with the user's home directory.
func ExpandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return path
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path is an existing directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Replace moves src to dst, replacing whatever is at dst.
// Files are renamed atomically; directories are swapped through a sibling backup.
func Replace(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	if !info.IsDir() {
		if err := os.Rename(src, dst); err != nil {
			return copyAndRemove(src, dst, err)
		}
		return nil
	}

	backup := dst + ".old"
	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("remove stale backup: %w", err)
	}
	if Exists(dst) {
		if err := os.Rename(dst, backup); err != nil {
			return fmt.Errorf("move previous artifact aside: %w", err)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if Exists(backup) {
			_ = os.Rename(backup, dst)
		}
		return fmt.Errorf("move directory: %w", err)
	}

	return os.RemoveAll(backup)
}

// copyAndRemove handles renames across filesystems.
func copyAndRemove(src, dst string, renameErr error) error {
	if !errors.Is(renameErr, syscall.EXDEV) {
		return fmt.Errorf("rename: %w", renameErr)
	}

	if err := CopyFile(src, dst); err != nil {
		return err
	}

	return os.Remove(src)
}

// CopyFile copies src to dst through a temporary file in dst's directory,
// so readers never observe a partially written dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return os.Rename(tmp.Name(), dst)
}
