package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gokernel/pkg/config"
	"gokernel/pkg/kernelspec"

	"github.com/spf13/cobra"
)

var (
	installUser   bool
	installPrefix string
	installName   string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the kernelspec so Jupyter can launch the kernel",
	Long:  "Writes kernel.json for this executable into the user, prefix or system-wide Jupyter kernels directory.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		executable, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(executable); err == nil {
			executable = resolved
		}

		spec := installSpec(cfg, executable, installName)
		dir, err := kernelspec.Dir(spec.Name, installUser, installPrefix)
		if err != nil {
			return err
		}

		path, err := kernelspec.Install(dir, spec)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Installed kernelspec %s in %s\n", spec.Name, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().BoolVar(&installUser, "user", false, "install for the current user")
	installCmd.Flags().StringVar(&installPrefix, "prefix", "", "install under PREFIX/share/jupyter/kernels")
	installCmd.Flags().StringVar(&installName, "name", "", "kernelspec name (defaults to kernel.name from config)")
}

func installSpec(cfg *config.Config, executable string, name string) kernelspec.Spec {
	if name = strings.TrimSpace(name); name == "" {
		name = cfg.Kernel.Name
	}

	return kernelspec.Spec{
		Name:        name,
		DisplayName: cfg.Kernel.DisplayName,
		Language:    cfg.Kernel.Language.Name,
		Argv:        kernelspec.Argv(executable),
	}
}
