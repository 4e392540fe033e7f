package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gokernel/pkg/client"
	"gokernel/pkg/config"
	"gokernel/pkg/logger"
	"gokernel/pkg/ui/console"

	"github.com/spf13/cobra"
)

const consoleReadyTimeout = 30 * time.Second

var existingConnection string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start a terminal console attached to a running kernel",
	Long:  "Connects to the kernel described by a connection file and runs cells interactively.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		conn, err := config.LoadConnectionFile(existingConnection)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()

		bridge := &console.InputBridge{}
		c, err := client.Connect(ctx, conn, client.Options{
			Username: consoleUsername(),
			Input:    bridge.Input,
			Log:      logger.Discard(),
		})
		if err != nil {
			return fmt.Errorf("connect to kernel: %w", err)
		}
		defer c.Close()

		readyCtx, cancel := context.WithTimeout(ctx, consoleReadyTimeout)
		defer cancel()
		if _, err := c.WaitReady(readyCtx, time.Second); err != nil {
			return fmt.Errorf("kernel not ready: %w", err)
		}

		return console.RunInteractive(ctx, c, bridge)
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&existingConnection, "existing", "", "connection file of the running kernel")
	_ = consoleCmd.MarkFlagRequired("existing")
}

func consoleUsername() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "console"
}
