package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelport/internal/env"
	"github.com/ekisa-team/modelport/internal/logger"
)

func main() {
	environment := env.FromEnv()

	slog.SetDefault(
		logger.New(environment,
			logger.WithLogToFile(environment.IsProduction()),
			logger.WithLogFile("logs/modelport.log"),
		),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		slog.Error("modelport failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	exportCmd, flags := newExportCmd()

	root := &cobra.Command{
		Use:   "modelport",
		Short: "Export pretrained detection checkpoints to deployable formats",
		Long: "Export pretrained detection checkpoints to deployable formats.\n\n" +
			"Without a subcommand, exports yolov8n.pt to ONNX with opset 12 into the\n" +
			"current directory, or whatever the config file describes.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigFile(), "Path to config file (optional)")

	root.AddCommand(
		exportCmd,
		newInspectCmd(),
		newHistoryCmd(&flags.configPath),
		newWatchCmd(&flags.configPath),
	)

	return root
}
