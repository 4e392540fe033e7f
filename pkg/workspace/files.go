package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

const (
	MaxReadBytes  = 256 * 1024
	MaxWriteBytes = 1024 * 1024
)

// Files performs size-bounded text file access inside a Guard.
type Files struct {
	guard    *Guard
	maxRead  int
	maxWrite int
}

func NewFiles(guard *Guard) *Files {
	return &Files{guard: guard, maxRead: MaxReadBytes, maxWrite: MaxWriteBytes}
}

func (f *Files) Guard() *Guard {
	return f.guard
}

// Read returns the text content of path.
func (f *Files) Read(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", normalize(err, "stat failed")
	}
	if info.IsDir() {
		return "", NewError(ErrorInvalidPath, "path is a directory")
	}
	if info.Size() > int64(f.maxRead) {
		return "", NewError(ErrorTooLarge, fmt.Sprintf("file exceeds %d bytes", f.maxRead))
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return "", normalize(err, "read failed")
	}
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return "", NewError(ErrorBinary, "file is binary or not utf-8")
	}
	return string(content), nil
}

// Write replaces path with content atomically and returns the resolved path.
func (f *Files) Write(ctx context.Context, path string, content string) (string, error) {
	resolved, err := f.prepareWrite(ctx, path, content)
	if err != nil {
		return "", err
	}

	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(resolved); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err := atomicWrite(resolved, []byte(content), mode); err != nil {
		return "", normalize(err, "write failed")
	}
	return resolved, nil
}

// Append adds content to the end of path, creating it when missing.
func (f *Files) Append(ctx context.Context, path string, content string) (string, error) {
	resolved, err := f.prepareWrite(ctx, path, content)
	if err != nil {
		return "", err
	}

	file, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", normalize(err, "open failed")
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return "", normalize(err, "append failed")
	}
	return resolved, nil
}

func (f *Files) prepareWrite(ctx context.Context, path string, content string) (string, error) {
	if len(content) > f.maxWrite {
		return "", NewError(ErrorTooLarge, fmt.Sprintf("content exceeds %d bytes", f.maxWrite))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resolved, err := f.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", normalize(err, "create parent directory failed")
	}
	if err := f.guard.Contain(resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gokernel-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	committed = true
	return nil
}
