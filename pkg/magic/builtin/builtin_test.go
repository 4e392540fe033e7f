package builtin

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gokernel/pkg/comm"
	"gokernel/pkg/display"
	"gokernel/pkg/eval"
	"gokernel/pkg/extension"
	"gokernel/pkg/logger"
	"gokernel/pkg/magic"
	"gokernel/pkg/workspace"
)

type host struct {
	magics *magic.RegistryBuilder
	files  *workspace.Files
}

func (h *host) Magics() *magic.RegistryBuilder  { return h.magics }
func (h *host) MagicPrefixes() (string, string) { return "%", "%%" }
func (h *host) Comms() *comm.Manager            { return comm.NewManager(logger.Discard()) }
func (h *host) Renderer() *display.Renderer     { return display.NewRenderer() }
func (h *host) Files() *workspace.Files         { return h.files }
func (h *host) Logger() *slog.Logger            { return logger.Discard() }

func setup(t *testing.T) (*magic.Registry, *workspace.Files) {
	t.Helper()

	guard, err := workspace.NewGuard(t.TempDir())
	require.NoError(t, err)
	h := &host{magics: magic.NewRegistryBuilder(), files: workspace.NewFiles(guard)}

	r := extension.NewRegistry()
	require.NoError(t, Register(r))
	_, err = r.LoadAll(context.Background(), h, []string{Name})
	require.NoError(t, err)

	registry, err := h.magics.Build()
	require.NoError(t, err)
	return registry, h.files
}

func withStdout() (context.Context, *bytes.Buffer) {
	var out bytes.Buffer
	return eval.WithIO(context.Background(), eval.IO{Stdout: &out}), &out
}

func TestLsmagic(t *testing.T) {
	registry, _ := setup(t)
	ctx, out := withStdout()

	value, err := registry.EvalLine(ctx, "lsmagic", nil)
	require.NoError(t, err)
	require.Nil(t, value)
	require.Equal(t, "Available line magics:\n%env  %load  %lsmagic\n\nAvailable cell magics:\n%%writefile\n", out.String())
}

func TestEnvSetAndGet(t *testing.T) {
	registry, _ := setup(t)
	t.Setenv("GOKERNEL_TEST_VAR", "before")

	ctx, out := withStdout()
	_, err := registry.EvalLine(ctx, "env", []string{"GOKERNEL_TEST_VAR", "after"})
	require.NoError(t, err)
	require.Equal(t, "after", os.Getenv("GOKERNEL_TEST_VAR"))
	require.Equal(t, "env: GOKERNEL_TEST_VAR=after\n", out.String())

	ctx, out = withStdout()
	_, err = registry.EvalLine(ctx, "env", []string{"GOKERNEL_TEST_VAR=inline"})
	require.NoError(t, err)
	require.Equal(t, "inline", os.Getenv("GOKERNEL_TEST_VAR"))

	ctx, out = withStdout()
	_, err = registry.EvalLine(ctx, "env", []string{"GOKERNEL_TEST_VAR"})
	require.NoError(t, err)
	require.Equal(t, "inline\n", out.String())

	ctx, out = withStdout()
	_, err = registry.EvalLine(ctx, "env", nil)
	require.NoError(t, err)
	require.Contains(t, out.String(), "GOKERNEL_TEST_VAR=inline\n")
}

func TestEnvUnsetVariable(t *testing.T) {
	registry, _ := setup(t)
	ctx, _ := withStdout()

	_, err := registry.EvalLine(ctx, "env", []string{"GOKERNEL_SURELY_NOT_SET_42"})
	var argsErr *magic.ArgsError
	require.ErrorAs(t, err, &argsErr)
}

func TestWritefileAndLoad(t *testing.T) {
	registry, files := setup(t)

	ctx, out := withStdout()
	_, err := registry.EvalCell(ctx, "writefile", []string{"cells/setup.sh"}, "echo one\n")
	require.NoError(t, err)
	require.Equal(t, "Writing cells/setup.sh\n", out.String())

	ctx, out = withStdout()
	_, err = registry.EvalCell(ctx, "writefile", []string{"-a", "cells/setup.sh"}, "echo two\n")
	require.NoError(t, err)
	require.Equal(t, "Appending to cells/setup.sh\n", out.String())

	content, err := os.ReadFile(filepath.Join(files.Guard().Root(), "cells", "setup.sh"))
	require.NoError(t, err)
	require.Equal(t, "echo one\necho two\n", string(content))

	value, err := registry.EvalLine(context.Background(), "load", []string{"cells/setup.sh"})
	require.NoError(t, err)
	require.Equal(t, magic.Code("echo one\necho two"), value)

	ctx, out = withStdout()
	_, err = registry.EvalCell(ctx, "writefile", []string{"cells/setup.sh"}, "echo three\n")
	require.NoError(t, err)
	require.Equal(t, "Overwriting cells/setup.sh\n", out.String())
}

func TestWritefileRejectsUnknownFlagsAndEscapes(t *testing.T) {
	registry, _ := setup(t)
	ctx, _ := withStdout()

	_, err := registry.EvalCell(ctx, "writefile", []string{"-x", "out.txt"}, "")
	var argsErr *magic.ArgsError
	require.ErrorAs(t, err, &argsErr)

	_, err = registry.EvalCell(ctx, "writefile", []string{"../escape.txt"}, "data")
	require.Equal(t, workspace.ErrorOutsideWorkspace, workspace.CategoryOf(err))

	_, err = registry.EvalLine(ctx, "load", nil)
	require.ErrorAs(t, err, &argsErr)
}

func TestLoadSplicesThroughTranspiler(t *testing.T) {
	registry, files := setup(t)
	_, err := files.Write(context.Background(), "lib.sh", "greet() { echo hi; }\n")
	require.NoError(t, err)

	parser, err := magic.NewParser("%", "%%", magic.ModeStartOfLine)
	require.NoError(t, err)

	got, err := parser.Transform(context.Background(), "%load lib.sh\ngreet", magic.ExpandingTranspiler{Registry: registry})
	require.NoError(t, err)
	require.Equal(t, "greet() { echo hi; }\ngreet", got)
}
