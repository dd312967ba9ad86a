package app

import (
	"context"

	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/config"
	"github.com/born-ml/modelexport/internal/console"
	"github.com/born-ml/modelexport/internal/export"
	"github.com/born-ml/modelexport/internal/models"
	"github.com/born-ml/modelexport/internal/weights"
)

// RunClassifier exports a freshly initialized ImageClassifier with a fixed
// 1x1x32x32 input to output, or to cfg.Classifier.Output when output is
// empty.
func RunClassifier(ctx context.Context, cfg config.Config, p *console.Printer, output string, opts ...Option) error {
	o := newRunOptions(cfg, opts)
	if output == "" {
		output = cfg.Classifier.Output
	}

	net := models.NewImageClassifier(models.NewRNG(cfg.Seed), o.backend)
	net.Eval()

	p.Status("Exporting to ONNX...")
	eo := exportOptions(cfg, o, output, net.Architecture())
	eo.InputShape = models.ClassifierInputShape
	result, err := export.Export(ctx, net, eo)
	if err != nil {
		return err
	}
	reportExport(p, result)
	return nil
}

// RunUpscaler reads the weights at input, which must decode but are not
// used, and exports a SimpleUpscaler with dynamic batch, height and width.
func RunUpscaler(ctx context.Context, cfg config.Config, p *console.Printer, input, output string, opts ...Option) error {
	o := newRunOptions(cfg, opts)
	p.Status("Converting %s to %s...", input, output)

	sd, err := weights.Load(input, readOptions(cfg, o))
	if err != nil {
		return err
	}
	// The upscaler layout does not match any published checkpoint, so the
	// weights are only checked for readability.
	o.logger.Info("weights decoded and discarded", "path", input, "tensors", len(sd))

	net := models.NewSimpleUpscaler(models.NewRNG(cfg.Seed), o.backend)
	net.Eval()
	if err := ctx.Err(); err != nil {
		return err
	}

	p.Status("Exporting to ONNX...")
	eo := exportOptions(cfg, o, output, net.Architecture())
	eo.InputShape = net.InputShape(cfg.Upscaler.InputSize)
	eo.DynamicAxes = upscalerAxes
	result, err := export.Export(ctx, net, eo)
	if err != nil {
		return err
	}
	reportExport(p, result)
	return nil
}

// RunRRDB loads the weights at input into an RRDBNet with the three-tier
// fallback and exports it with dynamic batch, height and width. A weight
// file that cannot be read is fatal; key or shape mismatches are not.
func RunRRDB(ctx context.Context, cfg config.Config, p *console.Printer, input, output string, opts ...Option) error {
	o := newRunOptions(cfg, opts)
	p.Status("Converting %s to %s...", input, output)

	rules, err := weights.ParsePrefixRules(cfg.Weights.PrefixRules)
	if err != nil {
		return err
	}
	net, err := models.NewRRDBNet(o.rrdb, models.NewRNG(cfg.Seed), o.backend)
	if err != nil {
		return err
	}

	p.Status("Loading weights from %s...", input)
	sd, err := weights.Load(input, readOptions(cfg, o))
	if err != nil {
		return err
	}
	loaded, err := weights.LoadWithFallback(net, sd, weights.FallbackOptions{
		Rewriter: &weights.Rewriter{Rules: rules},
		Logger:   o.logger,
	})
	if err != nil {
		return errors.WithMessage(err, "loading weights")
	}
	p.Status("Weights loaded (tier %d: %s)", int(loaded.Tier), loaded.Tier)
	if loaded.Tier == weights.TierPartial {
		p.Warning("Warning: loaded with strict=false; %d parameters left at initial values",
			len(loaded.Missing)+len(loaded.Mismatched))
	}

	net.Eval()
	if err := ctx.Err(); err != nil {
		return err
	}

	p.Status("Exporting to ONNX...")
	eo := exportOptions(cfg, o, output, net.Architecture())
	eo.InputShape = net.InputShape(cfg.RRDB.InputSize)
	eo.DynamicAxes = upscalerAxes
	eo.Metadata["weights_tier"] = loaded.Tier.String()
	result, err := export.Export(ctx, net, eo)
	if err != nil {
		return err
	}
	reportExport(p, result)
	return nil
}

func readOptions(cfg config.Config, o *runOptions) weights.ReadOptions {
	if !cfg.Progress {
		return weights.ReadOptions{}
	}
	return weights.ReadOptions{Progress: o.progress}
}
