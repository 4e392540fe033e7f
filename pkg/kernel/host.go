package kernel

import (
	"log/slog"

	"gokernel/pkg/comm"
	"gokernel/pkg/display"
	"gokernel/pkg/magic"
	"gokernel/pkg/workspace"
)

// host is the extension.Host handed to extensions while the kernel starts.
type host struct {
	kernel *Kernel
	magics *magic.RegistryBuilder
	files  *workspace.Files
}

func (h *host) Magics() *magic.RegistryBuilder { return h.magics }

func (h *host) MagicPrefixes() (string, string) {
	return h.kernel.cfg.Magics.LinePrefix, h.kernel.cfg.Magics.CellPrefix
}

func (h *host) Comms() *comm.Manager        { return h.kernel.comms }
func (h *host) Renderer() *display.Renderer { return h.kernel.renderer }
func (h *host) Files() *workspace.Files     { return h.files }
func (h *host) Logger() *slog.Logger        { return h.kernel.log.With("component", "extension") }
