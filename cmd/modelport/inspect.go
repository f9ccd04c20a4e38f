package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelport/internal/onnx"
)

func newInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <artifact.onnx>",
		Short: "Print the signature and metadata of an ONNX artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}

			m, err := onnx.ParseFile(args[0])
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}

			printModel(cmd.OutOrStdout(), args[0], uint64(info.Size()), m)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the parsed model as JSON")

	return cmd
}

const maxOps = 8

func printModel(w io.Writer, path string, size uint64, m *onnx.Model) {
	fmt.Fprintf(w, "%s (%s)\n", path, humanize.Bytes(size))
	fmt.Fprintf(w, "  IR version: %d\n", m.IRVersion)
	if m.ProducerName != "" {
		fmt.Fprintf(w, "  Producer:   %s %s\n", m.ProducerName, m.ProducerVersion)
	}
	for _, o := range m.Opsets {
		domain := o.Domain
		if domain == "" {
			domain = onnx.DefaultDomain
		}
		fmt.Fprintf(w, "  Opset:      %s %d\n", domain, o.Version)
	}
	fmt.Fprintf(w, "  Nodes:      %d (%d initializers)\n", m.Graph.NodeCount, m.Graph.Initializers)
	if ops := opTypes(m); len(ops) > 0 {
		if len(ops) > maxOps {
			ops = ops[:maxOps]
		}
		fmt.Fprint(w, "  Ops:       ")
		for _, op := range ops {
			fmt.Fprintf(w, " %s×%d", op, m.Graph.OpTypes[op])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "  Inputs:")
	for _, in := range m.Graph.RealInputs() {
		fmt.Fprintf(w, "    %s %s %s\n", in.Name, onnx.ElemTypeName(in.ElemType), in.Shape())
	}
	fmt.Fprintln(w, "  Outputs:")
	for _, out := range m.Graph.Outputs {
		fmt.Fprintf(w, "    %s %s %s\n", out.Name, onnx.ElemTypeName(out.ElemType), out.Shape())
	}

	if len(m.Metadata) == 0 {
		return
	}
	fmt.Fprintln(w, "  Metadata:")
	keys := make([]string, 0, len(m.Metadata))
	for k := range m.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := m.Metadata[k]
		if k == onnx.MetaNames {
			if names, err := m.Names(); err == nil {
				v = fmt.Sprintf("%d classes", len(names))
			}
		}
		fmt.Fprintf(w, "    %s: %s\n", k, v)
	}
}

// opTypes returns op types ordered by frequency.
func opTypes(m *onnx.Model) []string {
	ops := make([]string, 0, len(m.Graph.OpTypes))
	for op := range m.Graph.OpTypes {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		ci, cj := m.Graph.OpTypes[ops[i]], m.Graph.OpTypes[ops[j]]
		if ci != cj {
			return ci > cj
		}
		return ops[i] < ops[j]
	})
	return ops
}
