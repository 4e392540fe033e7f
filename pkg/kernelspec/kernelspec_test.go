package kernelspec

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderQuotesArguments(t *testing.T) {
	t.Parallel()

	content, err := Render(Spec{
		Name:        "gokernel",
		DisplayName: `Go "sh"`,
		Language:    "sh",
		Argv:        Argv(`/opt/go kernel/bin/gokernel`),
	})
	require.NoError(t, err)

	var decoded struct {
		Argv          []string `json:"argv"`
		DisplayName   string   `json:"display_name"`
		Language      string   `json:"language"`
		InterruptMode string   `json:"interrupt_mode"`
	}
	require.NoError(t, json.Unmarshal(content, &decoded))
	require.Equal(t, []string{"/opt/go kernel/bin/gokernel", "kernel", "-f", "{connection_file}"}, decoded.Argv)
	require.Equal(t, `Go "sh"`, decoded.DisplayName)
	require.Equal(t, "sh", decoded.Language)
	require.Equal(t, "message", decoded.InterruptMode)
}

func TestRenderRequiresNameAndArgv(t *testing.T) {
	t.Parallel()

	if _, err := Render(Spec{Argv: Argv("x")}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := Render(Spec{Name: "x"}); err == nil {
		t.Fatal("expected error for missing argv")
	}
}

func TestDirPrefixWins(t *testing.T) {
	t.Parallel()

	got, err := Dir("gokernel", true, "/opt/env")
	require.NoError(t, err)
	want := filepath.Join("/opt/env", "share", "jupyter", "kernels", "gokernel")
	if got != want {
		t.Fatalf("Dir = %q, want %q", got, want)
	}
}

func TestDirUserHonorsDataDir(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("JUPYTER_DATA_DIR", dataDir)

	got, err := Dir("gokernel", true, "")
	require.NoError(t, err)
	if got != filepath.Join(dataDir, "kernels", "gokernel") {
		t.Fatalf("Dir = %q, want under %q", got, dataDir)
	}
}

func TestInstallWritesKernelJSON(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "kernels", "gokernel")
	path, err := Install(dir, Spec{Name: "gokernel", DisplayName: "Go", Language: "sh", Argv: Argv("gokernel")})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "kernel.json"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, json.Valid(content))
}
