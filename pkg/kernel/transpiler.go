package kernel

import (
	"gokernel/pkg/config"
	"gokernel/pkg/magic"
)

// TranspilerFromConfig returns the NewTranspiler option for cfg. quote renders
// strings as literals of the cell language; nil means Go quoting.
func TranspilerFromConfig(cfg config.MagicsConfig, quote magic.Quoter) func(*magic.Registry) magic.Transpiler {
	return func(registry *magic.Registry) magic.Transpiler {
		if cfg.Transpiler == "call" {
			return magic.CallTranspiler{LineFunc: cfg.LineFunc, CellFunc: cfg.CellFunc, Quote: quote}
		}
		return magic.ExpandingTranspiler{Registry: registry, Quote: quote}
	}
}
