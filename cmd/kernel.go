package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gokernel/pkg/config"
	"gokernel/pkg/eval"
	"gokernel/pkg/eval/process"
	"gokernel/pkg/extension"
	"gokernel/pkg/kernel"
	"gokernel/pkg/logger"
	"gokernel/pkg/magic/builtin"
	"gokernel/pkg/server"
	"gokernel/pkg/workspace"

	"github.com/spf13/cobra"
)

const evaluatorProcess = "process"

var connectionFile string

var kernelCmd = &cobra.Command{
	Use:   "kernel",
	Short: "Run the kernel against a connection file",
	Long:  "Binds the five kernel channels described by a Jupyter connection file and serves requests until shutdown.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.kernel")

		conn, err := config.LoadConnectionFile(connectionFile)
		if err != nil {
			return err
		}

		evaluator, err := newEvaluator(cfg.Evaluator, appLogger)
		if err != nil {
			return err
		}

		guard, err := workspace.NewGuard(cfg.Workspace.Root)
		if err != nil {
			return fmt.Errorf("initialize workspace: %w", err)
		}

		names, err := extensionNames(cfg.Extensions)
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := server.NewService(runCtx, server.Options{
			Config:         cfg,
			Connection:     conn,
			Evaluator:      evaluator,
			Files:          workspace.NewFiles(guard),
			ExtensionNames: names,
			NewTranspiler:  kernel.TranspilerFromConfig(cfg.Magics, process.ShellQuote),
			Log:            appLogger,
		})
		if err != nil {
			log.Error("Failed to initialize kernel service", "error", err)
			return err
		}

		log.Info("Kernel started",
			"connection_file", connectionFile,
			"evaluator", cfg.Evaluator.Type,
			"extensions", names,
			"workspace", guard.Root(),
		)
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Kernel runtime failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(kernelCmd)
	kernelCmd.Flags().StringVarP(&connectionFile, "connection-file", "f", "", "path to the Jupyter connection file")
	_ = kernelCmd.MarkFlagRequired("connection-file")

	if err := builtin.Register(extension.Default()); err != nil {
		panic(err)
	}
}

func newEvaluator(cfg config.EvaluatorConfig, log *slog.Logger) (eval.Evaluator, error) {
	switch cfg.Type {
	case "", evaluatorProcess:
		evaluator, err := process.FromConfig(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("configure evaluator: %w", err)
		}
		return evaluator, nil
	default:
		return nil, fmt.Errorf("unknown evaluator type %q", cfg.Type)
	}
}

// extensionNames merges the configured extensions with the optional YAML
// manifest.
func extensionNames(cfg config.ExtensionsConfig) ([]string, error) {
	manifest, err := extension.LoadManifest(cfg.Manifest)
	if err != nil {
		return nil, err
	}
	return extension.Resolve(cfg.Enabled, manifest), nil
}
