package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/born-ml/modelexport/internal/app"
	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/console"
	"github.com/born-ml/modelexport/internal/models"
	"github.com/born-ml/modelexport/internal/nn"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/onnx/checker"
	"github.com/born-ml/modelexport/internal/weights"
)

// NewToolCommand returns the modelexport command with its subcommands.
func NewToolCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "modelexport",
		Short: "Inspect, check and seed the models handled by the exporters",
	}
	root.AddCommand(newVersionCommand(), newInspectCommand(), newCheckCommand(), newInitWeightsCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  exactArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "modelexport v%s\n", app.Version)
		},
	}
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "inspect file.onnx",
		Short:       "Summarize an ONNX model",
		Args:        exactArgs(1),
		Annotations: map[string]string{"usage": "modelexport inspect file.onnx"},
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := onnx.Inspect(args[0])
			if err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), args[0], info)
			return nil
		},
	}
}

func printInfo(w io.Writer, path string, info *onnx.ModelInfo) {
	p := console.New(w)
	p.Status("%s", path)
	p.Detail("ir_version %d, opset %d, producer %s %s",
		info.IRVersion, info.OpsetVersion, info.ProducerName, info.ProducerVersion)
	for _, in := range info.Inputs {
		p.Detail("input  %s", in)
	}
	for _, out := range info.Outputs {
		p.Detail("output %s", out)
	}
	p.Detail("%d nodes, %d initializers, %s parameters (%s)",
		info.NodeCount, info.WeightCount,
		humanize.Comma(info.ParameterCount), humanize.Bytes(uint64(info.ParameterBytes)))

	ops := make([]string, 0, len(info.OpCounts))
	for _, op := range info.Ops() {
		ops = append(ops, op+"="+strconv.Itoa(info.OpCounts[op]))
	}
	p.Detail("ops: %s", strings.Join(ops, " "))

	keys := make([]string, 0, len(info.Metadata))
	for k := range info.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Detail("%s: %s", k, info.Metadata[k])
	}
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "check file.onnx",
		Short:       "Validate the structure of an ONNX model",
		Args:        exactArgs(1),
		Annotations: map[string]string{"usage": "modelexport check file.onnx"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checker.CheckFile(args[0]); err != nil {
				return err
			}
			console.New(cmd.OutOrStdout()).Success("ONNX model is valid!")
			return nil
		},
	}
}

func newInitWeightsCommand() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "init-weights architecture out.safetensors",
		Short: "Write the freshly initialized parameters of an architecture",
		Long: "Write the freshly initialized parameters of an architecture to a\n" +
			"safetensors file. Architectures: " + strings.Join(models.Architectures(), ", "),
		Args:        exactArgs(2),
		Annotations: map[string]string{"usage": "modelexport init-weights architecture out.safetensors"},
		RunE: func(cmd *cobra.Command, args []string) error {
			arch, path := args[0], args[1]
			net, err := models.New(arch, models.NewRNG(seed), cpu.New())
			if err != nil {
				return err
			}
			sd := nn.StateDict(net)
			n, err := weights.WriteSafeTensors(path, sd, map[string]string{
				"architecture": arch,
				"seed":         strconv.FormatInt(seed, 10),
			})
			if err != nil {
				return err
			}
			console.New(cmd.OutOrStdout()).Success("Wrote %d tensors (%s parameters, %s) to %s",
				len(sd), humanize.Comma(int64(nn.ParameterCount(net))), humanize.Bytes(uint64(n)), path)
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed for parameter initialization")
	return cmd
}
