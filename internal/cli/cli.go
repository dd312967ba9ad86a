// Package cli builds the cobra commands behind the cmd/ binaries and maps
// their errors to exit codes.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/born-ml/modelexport/internal/app"
	"github.com/born-ml/modelexport/internal/config"
	"github.com/born-ml/modelexport/internal/console"
	"github.com/born-ml/modelexport/internal/logging"
)

// errUsage marks a wrong positional argument count.
var errUsage = errors.New("usage")

// Execute runs cmd with args and returns the process exit code: 0 on
// success, 1 on a usage error or a failed run.
func Execute(cmd *cobra.Command, args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	ran, err := cmd.ExecuteContextC(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		_, _ = fmt.Fprintln(stdout, usageLine(ran))
	default:
		console.New(stdout).Error("Error: %v", err)
	}
	return 1
}

func usageLine(cmd *cobra.Command) string {
	if cmd.Annotations != nil && cmd.Annotations["usage"] != "" {
		return "Usage: " + cmd.Annotations["usage"]
	}
	return "Usage: " + cmd.UseLine()
}

// exactArgs is cobra.ExactArgs reporting errUsage.
func exactArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return errUsage
		}
		return nil
	}
}

// flags shared by the exporter binaries.
type commonFlags struct {
	configPath string
	parity     bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	cmd.Flags().BoolVar(&f.parity, "parity", false, "re-run the exported graph and compare with the eager output")
}

// load reads the config and applies flag overrides.
func (f *commonFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("parity") {
		cfg.Verify.Parity = f.parity
	}
	return cfg, nil
}

// runOptions routes logs and progress to the command's stderr.
func runOptions(cmd *cobra.Command, cfg config.Config) ([]app.Option, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return []app.Option{
		app.WithLogger(logging.NewWithWriter(cmd.ErrOrStderr(), level)),
		app.WithProgress(cmd.ErrOrStderr()),
	}, nil
}

// converterFunc is the signature of app.RunUpscaler and app.RunRRDB.
type converterFunc func(ctx context.Context, cfg config.Config, p *console.Printer, input, output string, opts ...app.Option) error

func newConverterCommand(name, short string, run converterFunc) *cobra.Command {
	var flags commonFlags
	cmd := &cobra.Command{
		Use:         name + " input.pth output.onnx",
		Short:       short,
		Args:        exactArgs(2),
		Annotations: map[string]string{"usage": name + " input.pth output.onnx"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			opts, err := runOptions(cmd, cfg)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, console.New(cmd.OutOrStdout()), args[0], args[1], opts...)
		},
	}
	flags.register(cmd)
	return cmd
}

// NewUpscalerCommand returns the upscaler-export command.
func NewUpscalerCommand() *cobra.Command {
	return newConverterCommand("upscaler-export",
		"Export the simple 4x upscaler to ONNX (the weights are read but not used)",
		app.RunUpscaler)
}

// NewRRDBCommand returns the rrdb-export command.
func NewRRDBCommand() *cobra.Command {
	return newConverterCommand("rrdb-export",
		"Load RRDBNet weights with fallback and export the network to ONNX",
		app.RunRRDB)
}

// NewClassifierCommand returns the classifier-export command.
func NewClassifierCommand() *cobra.Command {
	var flags commonFlags
	var output string
	cmd := &cobra.Command{
		Use:   "classifier-export",
		Short: "Export the LeNet-style image classifier to ONNX",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			opts, err := runOptions(cmd, cfg)
			if err != nil {
				return err
			}
			return app.RunClassifier(cmd.Context(), cfg, console.New(cmd.OutOrStdout()), output, opts...)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default classifier.output from config)")
	return cmd
}
