// Package kernelspec renders and installs the kernel.json that tells
// frontends how to launch the kernel.
package kernelspec

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

// ConnectionFileArg is replaced by the frontend with the connection file path.
const ConnectionFileArg = "{connection_file}"

//go:embed templates/*.tmpl
var templatesFS embed.FS

var specTemplate = template.Must(template.New("kernel.json.tmpl").
	Funcs(template.FuncMap{"json": jsonString}).
	ParseFS(templatesFS, "templates/kernel.json.tmpl"))

// Spec is the content of one kernel.json.
type Spec struct {
	Name        string
	DisplayName string
	Language    string
	Argv        []string
}

// Argv returns the launch command for executable. The frontend substitutes
// the connection file.
func Argv(executable string) []string {
	return []string{executable, "kernel", "-f", ConnectionFileArg}
}

// Render returns the kernel.json bytes for spec.
func Render(spec Spec) ([]byte, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.New("kernelspec: name is required")
	}
	if len(spec.Argv) == 0 {
		return nil, errors.New("kernelspec: argv is required")
	}

	var buf bytes.Buffer
	if err := specTemplate.Execute(&buf, spec); err != nil {
		return nil, fmt.Errorf("render kernelspec: %w", err)
	}
	if !json.Valid(buf.Bytes()) {
		return nil, errors.New("render kernelspec: template produced invalid JSON")
	}
	return buf.Bytes(), nil
}

// Dir returns the kernelspec directory for name. prefix wins over user; with
// neither the system-wide location is used.
func Dir(name string, user bool, prefix string) (string, error) {
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		return filepath.Join(prefix, "share", "jupyter", "kernels", name), nil
	}
	if !user {
		return filepath.Join(systemDataDir(), "kernels", name), nil
	}

	if dataDir := strings.TrimSpace(os.Getenv("JUPYTER_DATA_DIR")); dataDir != "" {
		return filepath.Join(dataDir, "kernels", name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Jupyter", "kernels", name), nil
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "jupyter", "kernels", name), nil
	default:
		if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
			return filepath.Join(xdg, "jupyter", "kernels", name), nil
		}
		return filepath.Join(home, ".local", "share", "jupyter", "kernels", name), nil
	}
}

func systemDataDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("PROGRAMDATA"), "jupyter")
	}
	return filepath.Join("/usr", "local", "share", "jupyter")
}

// Install writes kernel.json into dir and returns its path.
func Install(dir string, spec Spec) (string, error) {
	content, err := Render(spec)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create kernelspec directory: %w", err)
	}

	path := filepath.Join(dir, "kernel.json")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write kernelspec: %w", err)
	}
	return path, nil
}

func jsonString(value string) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
