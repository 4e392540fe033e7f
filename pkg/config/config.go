package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envConfigPath       = "GOKERNEL_CONFIG"
	envLinePrefix       = "GOKERNEL_MAGIC_LINE_PREFIX"
	envCellPrefix       = "GOKERNEL_MAGIC_CELL_PREFIX"
	envWorkspace        = "GOKERNEL_WORKSPACE"
	envExtensions       = "GOKERNEL_EXTENSIONS"
	defaultConfigName   = "gokernel.json"
	defaultKernelName   = "gokernel"
	defaultLinePrefix   = "%"
	defaultCellPrefix   = "%%"
	defaultMagicMode    = "start_of_line"
	defaultTranspiler   = "expand"
	defaultEvaluator    = "process"
	defaultStatusHost   = "127.0.0.1"
	defaultLanguageName = "sh"
)

// Config is the kernel configuration loaded from gokernel.json.
type Config struct {
	Kernel     KernelConfig     `json:"kernel"`
	Magics     MagicsConfig     `json:"magics"`
	Evaluator  EvaluatorConfig  `json:"evaluator"`
	Extensions ExtensionsConfig `json:"extensions"`
	Status     StatusConfig     `json:"status"`
	Workspace  WorkspaceConfig  `json:"workspace"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
	// File receives log output instead of stderr when set.
	File string `json:"file,omitempty"`
}

// KernelConfig describes the kernel to frontends through kernel_info_reply.
type KernelConfig struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Username    string       `json:"username"`
	Banner      string       `json:"banner"`
	Language    LanguageInfo `json:"language"`
}

// LanguageInfo is the language_info block advertised by the kernel.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	MIMEType      string `json:"mimetype"`
	FileExtension string `json:"file_extension"`
	PygmentsLexer string `json:"pygments_lexer,omitempty"`
}

// MagicsConfig configures magic syntax.
type MagicsConfig struct {
	LinePrefix string `json:"line_prefix"`
	CellPrefix string `json:"cell_prefix"`
	// Mode is "inline" or "start_of_line".
	Mode string `json:"mode"`
	// Transpiler is "expand" (evaluate magics in the kernel and splice the
	// result) or "call" (rewrite magics into calls in the cell language).
	Transpiler string `json:"transpiler"`
	LineFunc   string `json:"line_func,omitempty"`
	CellFunc   string `json:"cell_func,omitempty"`
}

// EvaluatorConfig selects and configures the code evaluator.
type EvaluatorConfig struct {
	Type    string            `json:"type"`
	Command []string          `json:"command"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ExtensionsConfig lists extensions loaded at startup.
type ExtensionsConfig struct {
	Enabled  []string `json:"enabled"`
	Manifest string   `json:"manifest,omitempty"`
}

// StatusConfig configures the HTTP status server. Port 0 disables it.
type StatusConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// WorkspaceConfig bounds file access by built-in magics.
type WorkspaceConfig struct {
	Root string `json:"root"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			Name:        defaultKernelName,
			DisplayName: "Go Kernel (sh)",
			Username:    "kernel",
			Banner:      "gokernel: shell cells with magics",
			Language: LanguageInfo{
				Name:          defaultLanguageName,
				MIMEType:      "text/x-sh",
				FileExtension: ".sh",
				PygmentsLexer: "bash",
			},
		},
		Magics: MagicsConfig{
			LinePrefix: defaultLinePrefix,
			CellPrefix: defaultCellPrefix,
			Mode:       defaultMagicMode,
			Transpiler: defaultTranspiler,
		},
		Evaluator: EvaluatorConfig{
			Type:    defaultEvaluator,
			Command: []string{"sh"},
		},
		Extensions: ExtensionsConfig{Enabled: []string{"builtin"}},
		Status:     StatusConfig{Host: defaultStatusHost},
	}
}

// LoadConfig resolves gokernel.json, unmarshals it over the defaults, and
// applies environment overrides. A missing file is not an error.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Magics.LinePrefix) == "" {
		return fmt.Errorf("magics.line_prefix must not be empty")
	}
	switch c.Magics.Mode {
	case "inline", "start_of_line":
	default:
		return fmt.Errorf("magics.mode must be inline or start_of_line, got %q", c.Magics.Mode)
	}
	switch c.Magics.Transpiler {
	case "expand", "call":
	default:
		return fmt.Errorf("magics.transpiler must be expand or call, got %q", c.Magics.Transpiler)
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port out of range: %d", c.Status.Port)
	}
	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if prefix := os.Getenv(envLinePrefix); strings.TrimSpace(prefix) != "" {
		cfg.Magics.LinePrefix = strings.TrimSpace(prefix)
	}
	if prefix := os.Getenv(envCellPrefix); strings.TrimSpace(prefix) != "" {
		cfg.Magics.CellPrefix = strings.TrimSpace(prefix)
	}
	if root := strings.TrimSpace(os.Getenv(envWorkspace)); root != "" {
		cfg.Workspace.Root = root
	}
	if raw := strings.TrimSpace(os.Getenv(envExtensions)); raw != "" {
		cfg.Extensions.Enabled = parseCSV(raw)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is GOKERNEL_CONFIG first, then cwd-local fallback paths. An
// empty path means no file was found.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, defaultConfigName),
		filepath.Join(cwd, "config", defaultConfigName),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
