// Package workspace bounds the files built-in magics may touch to one root
// directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Guard resolves user-supplied paths against a root and refuses anything
// that lands outside it, symlinks included.
type Guard struct {
	root string
}

// NewGuard resolves root, defaulting to the working directory. The directory
// is created when missing.
func NewGuard(root string) (*Guard, error) {
	resolved, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	return &Guard{root: resolved}, nil
}

// ResolveRoot expands "~", makes root absolute, creates it and resolves
// symlinks.
func ResolveRoot(root string) (string, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		trimmed = wd
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute workspace path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", normalize(err, "resolve workspace root")
	}
	return filepath.Clean(resolved), nil
}

func (g *Guard) Root() string {
	if g == nil {
		return ""
	}
	return g.root
}

// Resolve returns the canonical absolute path for input, relative paths
// being taken from the root.
func (g *Guard) Resolve(input string) (string, error) {
	if g == nil {
		return "", NewError(ErrorIO, "workspace guard is nil")
	}

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", NewError(ErrorInvalidPath, "path must not be empty")
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", NewError(ErrorInvalidPath, "path could not be resolved")
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(g.root, expanded)
	}

	canonical, err := canonicalize(filepath.Clean(expanded))
	if err != nil {
		return "", err
	}
	if !within(g.root, canonical) {
		return "", NewError(ErrorOutsideWorkspace, "resolved path escapes workspace")
	}
	return canonical, nil
}

// Contain re-checks an already resolved path right before it is mutated.
func (g *Guard) Contain(path string) error {
	canonical, err := canonicalize(path)
	if err != nil {
		return err
	}
	if !within(g.root, canonical) {
		return NewError(ErrorOutsideWorkspace, "resolved path escapes workspace")
	}
	return nil
}

// Rel returns path relative to the root when it is inside it.
func (g *Guard) Rel(path string) string {
	rel, err := filepath.Rel(g.Root(), path)
	if err != nil || !filepath.IsLocal(rel) {
		return filepath.Clean(path)
	}
	return rel
}

// canonicalize resolves symlinks on the longest existing prefix of path.
func canonicalize(path string) (string, error) {
	if evaluated, err := filepath.EvalSymlinks(path); err == nil {
		return filepath.Clean(evaluated), nil
	} else if !os.IsNotExist(err) {
		return "", normalize(err, "resolve path")
	}

	existing := path
	var missing []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", NewError(ErrorInvalidPath, "path could not be resolved")
		}
		missing = append([]string{filepath.Base(existing)}, missing...)
		existing = parent
	}

	evaluated, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", normalize(err, "resolve path")
	}
	return filepath.Join(append([]string{evaluated}, missing...)...), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func within(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}
