package magic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryEval(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Line("echo", func(_ context.Context, args []string) (any, error) {
			return strings.Join(args, " "), nil
		}).
		Cell("upper", func(_ context.Context, _ []string, body string) (any, error) {
			return strings.ToUpper(body), nil
		}).
		Build()
	require.NoError(t, err)

	got, err := registry.EvalLine(context.Background(), "echo", []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, "a b", got)

	got, err = registry.EvalCell(context.Background(), "upper", nil, "body")
	require.NoError(t, err)
	require.Equal(t, "BODY", got)

	require.Equal(t, []string{"echo"}, registry.LineNames())
	require.Equal(t, []string{"upper"}, registry.CellNames())
}

func TestRegistryUndefinedKinds(t *testing.T) {
	registry, err := NewRegistryBuilder().
		Line("shared", func(context.Context, []string) (any, error) { return nil, nil }).
		Build()
	require.NoError(t, err)

	_, err = registry.EvalCell(context.Background(), "shared", nil, "")
	var undefined *UndefinedError
	require.True(t, errors.As(err, &undefined))
	require.Equal(t, KindCell, undefined.Kind)
	require.Equal(t, `cell magic "shared" is not defined`, undefined.Error())

	_, err = registry.EvalLine(context.Background(), "other", nil)
	require.True(t, errors.As(err, &undefined))
	require.Equal(t, KindLine, undefined.Kind)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	noop := func(context.Context, []string) (any, error) { return nil, nil }
	_, err := NewRegistryBuilder().Line("a", noop).Line("a", noop).Build()
	require.Error(t, err)
}

func TestRegistryIsImmutableAfterBuild(t *testing.T) {
	noop := func(context.Context, []string) (any, error) { return nil, nil }
	builder := NewRegistryBuilder().Line("a", noop)
	registry, err := builder.Build()
	require.NoError(t, err)

	builder.Line("b", noop)
	require.Equal(t, []string{"a"}, registry.LineNames())
}
