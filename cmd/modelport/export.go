package main

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelport/internal/config"
)

type exportFlags struct {
	configPath string
	checkpoint string
	format     string
	opset      int
	outputDir  string
	noVerify   bool
	history    bool
}

func newExportCmd() (*cobra.Command, *exportFlags) {
	flags := &exportFlags{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a checkpoint through the Ultralytics collaborator",
		Long: "Export a checkpoint through the Ultralytics collaborator.\n\n" +
			"Flags override the config file; with neither, yolov8n.pt is exported to\n" +
			"ONNX with opset 12. This command requires the ultralytics Python package\n" +
			"(the yolo CLI) on PATH or MODELPORT_YOLO_BIN.\n\n" +
			"Runs are recorded in the sqlite ledger only with --history or\n" +
			"history.enabled in the config file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.checkpoint, "checkpoint", config.DefaultCheckpoint, "Checkpoint path, release asset name, URL or hf://repo/file")
	cmd.Flags().StringVar(&flags.format, "format", config.DefaultFormat, "Export format")
	cmd.Flags().IntVar(&flags.opset, "opset", config.DefaultOpset, "ONNX opset (0 = collaborator default)")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", ".", "Directory receiving the artifact")
	cmd.Flags().BoolVar(&flags.noVerify, "no-verify", false, "Skip artifact verification")
	cmd.Flags().BoolVar(&flags.history, "history", false, "Record the run in the export ledger")

	return cmd, flags
}

func runExport(cmd *cobra.Command, flags *exportFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	applyExportFlags(cmd, cfg, flags)

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.export.Run(cmd.Context(), jobFromConfig(cfg))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, sha256 %s)\n",
		res.Artifact.Path, humanize.Bytes(uint64(res.Artifact.SizeBytes)), shortDigest(res.SHA256))
	for _, p := range res.Published {
		fmt.Fprintf(cmd.OutOrStdout(), "  published %s\n", p)
	}

	return nil
}

// applyExportFlags overrides cfg with the flags the user set. Changing the
// format without an opset drops the configured opset, which belongs to the
// configured format.
func applyExportFlags(cmd *cobra.Command, cfg *config.Config, flags *exportFlags) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("checkpoint") {
		cfg.Checkpoint = config.CheckpointConfig{Ref: flags.checkpoint, Release: cfg.Checkpoint.Release}
	}
	if changed("format") && flags.format != cfg.Export.Format {
		cfg.Export.Format = flags.format
		if !changed("opset") {
			cfg.Export.Opset = 0
		}
	}
	if changed("opset") {
		cfg.Export.Opset = flags.opset
	}
	if changed("output-dir") {
		cfg.Export.OutputDir = flags.outputDir
	}
	if changed("no-verify") {
		verify := !flags.noVerify
		cfg.Export.Verify = &verify
	}
	if changed("history") {
		enabled := flags.history
		cfg.History.Enabled = &enabled
	}

	slog.Debug("Export settings",
		"checkpoint", cfg.Checkpoint.Ref,
		"format", cfg.Export.Format,
		"opset", cfg.Export.Opset,
		"output_dir", cfg.Export.OutputDir)
}
