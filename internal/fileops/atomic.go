package fileops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const backupSuffix = ".ariadl.bak"

var (
	statFile   = os.Stat
	renameFile = os.Rename
	removeFile = os.Remove
)

// WriteFileAtomic stages content in a hidden temp file next to path and swaps
// it in with ReplaceFileSafely, so an existing file survives a failed write.
func WriteFileAtomic(path string, content []byte, perm os.FileMode) error {
	temp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tempPath := temp.Name()
	cleanup := func(err error) error {
		_ = os.Remove(tempPath)
		return err
	}

	if _, err := temp.Write(content); err != nil {
		_ = temp.Close()
		return cleanup(fmt.Errorf("write %s: %w", path, err))
	}
	if err := temp.Close(); err != nil {
		return cleanup(fmt.Errorf("write %s: %w", path, err))
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return cleanup(fmt.Errorf("chmod %s: %w", path, err))
	}
	if err := ReplaceFileSafely(tempPath, path); err != nil {
		return cleanup(err)
	}
	return nil
}

// ReplaceFileSafely moves tempPath over targetPath. An existing target is
// parked at <target>.ariadl.bak and restored if the move fails.
func ReplaceFileSafely(tempPath string, targetPath string) error {
	temp := strings.TrimSpace(tempPath)
	target := strings.TrimSpace(targetPath)
	switch {
	case temp == "":
		return errors.New("replacement temp path is empty")
	case target == "":
		return errors.New("replacement target path is empty")
	case temp == target:
		return errors.New("replacement temp and target paths must differ")
	}

	info, err := statFile(temp)
	if err != nil {
		return fmt.Errorf("stat replacement temp %q: %w", temp, err)
	}
	if info.IsDir() {
		return fmt.Errorf("replacement temp path is a directory: %s", temp)
	}

	backup := target + backupSuffix
	if err := removeStale(backup); err != nil {
		return err
	}

	parked, err := park(target, backup)
	if err != nil {
		return err
	}

	if err := renameFile(temp, target); err != nil {
		if parked {
			if rollbackErr := renameFile(backup, target); rollbackErr != nil {
				return fmt.Errorf("replace failed (%v) and rollback failed (%w)", err, rollbackErr)
			}
		}
		return fmt.Errorf("replace target with temp: %w", err)
	}

	if parked {
		if err := removeFile(backup); err != nil {
			return fmt.Errorf("cleanup replacement backup %q: %w", backup, err)
		}
	}
	return nil
}

func removeStale(backup string) error {
	_, err := statFile(backup)
	switch {
	case err == nil:
		if err := removeFile(backup); err != nil {
			return fmt.Errorf("remove stale replacement backup %q: %w", backup, err)
		}
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("stat replacement backup %q: %w", backup, err)
	}
}

// park moves an existing target to backup and reports whether it did.
func park(target string, backup string) (bool, error) {
	_, err := statFile(target)
	switch {
	case err == nil:
		if err := renameFile(target, backup); err != nil {
			return false, fmt.Errorf("move existing target to backup: %w", err)
		}
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat replacement target %q: %w", target, err)
	}
}
