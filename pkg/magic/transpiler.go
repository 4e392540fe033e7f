package magic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Transpiler turns a parsed magic into replacement host source.
type Transpiler interface {
	TranspileLine(ctx context.Context, magic ParsedLineMagic) (string, error)
	TranspileCell(ctx context.Context, magic ParsedCellMagic) (string, error)
}

// Code is a magic result spliced into the cell verbatim instead of quoted.
type Code string

// Quoter renders a string as a host-language literal or statement.
type Quoter func(string) string

// CallTranspiler emits host call expressions and leaves evaluation to the host,
// e.g. lineMagic("time", "x") or cellMagic("html", "<b>body</b>", "arg").
type CallTranspiler struct {
	LineFunc string
	CellFunc string
	Quote    Quoter
}

func (t CallTranspiler) quote() Quoter {
	if t.Quote == nil {
		return strconv.Quote
	}
	return t.Quote
}

func (t CallTranspiler) TranspileLine(_ context.Context, magic ParsedLineMagic) (string, error) {
	fn := t.LineFunc
	if fn == "" {
		fn = "lineMagic"
	}
	return call(fn, t.quote(), append([]string{magic.Name}, magic.Args...)), nil
}

func (t CallTranspiler) TranspileCell(_ context.Context, magic ParsedCellMagic) (string, error) {
	fn := t.CellFunc
	if fn == "" {
		fn = "cellMagic"
	}
	return call(fn, t.quote(), append([]string{magic.Name, magic.Body}, magic.Args...)), nil
}

func call(fn string, quote Quoter, args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = quote(arg)
	}
	return fn + "(" + strings.Join(quoted, ", ") + ")"
}

// ExpandingTranspiler evaluates magics in the kernel through Registry and
// splices their results into the source. Code results are inserted as-is,
// nil becomes empty text and anything else goes through Quote.
type ExpandingTranspiler struct {
	Registry *Registry
	Quote    Quoter
}

func (t ExpandingTranspiler) TranspileLine(ctx context.Context, magic ParsedLineMagic) (string, error) {
	value, err := t.Registry.EvalLine(ctx, magic.Name, magic.Args)
	if err != nil {
		return "", err
	}
	return t.splice(value), nil
}

func (t ExpandingTranspiler) TranspileCell(ctx context.Context, magic ParsedCellMagic) (string, error) {
	value, err := t.Registry.EvalCell(ctx, magic.Name, magic.Args, magic.Body)
	if err != nil {
		return "", err
	}
	return t.splice(value), nil
}

func (t ExpandingTranspiler) splice(value any) string {
	quote := t.Quote
	if quote == nil {
		quote = strconv.Quote
	}

	switch v := value.(type) {
	case nil:
		return ""
	case Code:
		return string(v)
	case string:
		return quote(v)
	case fmt.Stringer:
		return quote(v.String())
	default:
		return quote(fmt.Sprint(v))
	}
}
