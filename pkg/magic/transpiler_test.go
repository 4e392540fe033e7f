package magic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallTranspiler(t *testing.T) {
	p, err := NewParser("%", "%%", ModeInline)
	require.NoError(t, err)

	tr := CallTranspiler{}
	out, err := p.Transform(context.Background(), `x = %env "HOME dir"`, tr)
	require.NoError(t, err)
	require.Equal(t, `x = lineMagic("env", "HOME dir")`, out)

	out, err = p.Transform(context.Background(), "%%html -x\n<b>\"hi\"</b>", CallTranspiler{CellFunc: "cell"})
	require.NoError(t, err)
	require.Equal(t, `cell("html", "<b>\"hi\"</b>", "-x")`, out)
}

func TestExpandingTranspiler(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Line("load", func(context.Context, []string) (any, error) { return Code("print(1)"), nil }).
		Line("name", func(context.Context, []string) (any, error) { return "kernel", nil }).
		Line("nothing", func(context.Context, []string) (any, error) { return nil, nil }).
		Line("count", func(context.Context, []string) (any, error) { return 3, nil }).
		Build()
	require.NoError(t, err)

	p, err := NewParser("%", "%%", ModeInline)
	require.NoError(t, err)

	tr := ExpandingTranspiler{Registry: registry, Quote: func(s string) string { return "'" + s + "'" }}
	out, err := p.Transform(context.Background(), "%load\nx = %name\n%nothing\ny = %count", tr)
	require.NoError(t, err)
	require.Equal(t, "print(1)\nx = 'kernel'\n\ny = '3'", out)
}
