package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const (
	ErrorInvalidPath      = "invalid_path"
	ErrorOutsideWorkspace = "outside_workspace"
	ErrorPathNotFound     = "path_not_found"
	ErrorPermissionDenied = "permission_denied"
	ErrorTooLarge         = "too_large"
	ErrorBinary           = "binary_content"
	ErrorIO               = "io_error"
)

// Error is a categorized file access failure raised by built-in magics.
type Error struct {
	Category string
	Detail   string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail == "" {
		return e.Category
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// ErrorName is the ename reported to frontends.
func (e *Error) ErrorName() string {
	return "WorkspaceError"
}

func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryOf returns the category for err, classifying raw OS errors.
func CategoryOf(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}
	if errors.Is(err, fs.ErrNotExist) {
		return ErrorPathNotFound
	}
	if errors.Is(err, fs.ErrPermission) {
		return ErrorPermissionDenied
	}
	return ErrorIO
}

// normalize converts OS errors into categorized errors without leaking the
// absolute path.
func normalize(err error, detail string) error {
	if err == nil {
		return nil
	}

	switch category := CategoryOf(err); category {
	case ErrorPathNotFound:
		return NewError(category, "path does not exist")
	case ErrorPermissionDenied:
		return NewError(category, "operation not permitted")
	default:
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return NewError(category, fmt.Sprintf("%s: %s", detail, pathErr.Err))
		}
		return NewError(category, fmt.Sprintf("%s: %s", detail, err))
	}
}
