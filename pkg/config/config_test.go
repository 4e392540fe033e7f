package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gokernel.json")
	content := `{
	  "kernel": {"name": "shk", "language": {"name": "bash"}},
	  "magics": {"line_prefix": "//%", "cell_prefix": "//%%", "mode": "inline"},
	  "evaluator": {"type": "process", "command": ["bash", "--norc"]},
	  "status": {"host": "0.0.0.0", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("GOKERNEL_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Magics.LinePrefix != "//%" {
		t.Fatalf("magics.line_prefix = %q, want %q", cfg.Magics.LinePrefix, "//%")
	}
	if cfg.Magics.Mode != "inline" {
		t.Fatalf("magics.mode = %q, want %q", cfg.Magics.Mode, "inline")
	}
	if len(cfg.Evaluator.Command) != 2 || cfg.Evaluator.Command[0] != "bash" {
		t.Fatalf("evaluator.command = %v, want [bash --norc]", cfg.Evaluator.Command)
	}
	if cfg.Kernel.Username != "kernel" {
		t.Fatalf("kernel.username = %q, want default %q", cfg.Kernel.Username, "kernel")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("GOKERNEL_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Setenv("GOKERNEL_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Magics.CellPrefix != "%%" {
		t.Fatalf("magics.cell_prefix = %q, want %q", cfg.Magics.CellPrefix, "%%")
	}
	if cfg.Status.Port != 0 {
		t.Fatalf("status.port = %d, want 0", cfg.Status.Port)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GOKERNEL_CONFIG", "")
	t.Chdir(t.TempDir())
	t.Setenv("GOKERNEL_MAGIC_LINE_PREFIX", "!")
	t.Setenv("GOKERNEL_EXTENSIONS", "builtin, extra ,")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Magics.LinePrefix != "!" {
		t.Fatalf("magics.line_prefix = %q, want %q", cfg.Magics.LinePrefix, "!")
	}
	if len(cfg.Extensions.Enabled) != 2 || cfg.Extensions.Enabled[1] != "extra" {
		t.Fatalf("extensions.enabled = %v, want [builtin extra]", cfg.Extensions.Enabled)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Default()
	cfg.Magics.Mode = "anywhere"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown magic mode")
	}
}

func TestValidateRejectsUnknownTranspiler(t *testing.T) {
	cfg := Default()
	cfg.Magics.Transpiler = "rewrite"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown transpiler")
	}
}
