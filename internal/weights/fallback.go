package weights

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/logging"
	"github.com/born-ml/modelexport/internal/nn"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Tier identifies which LoadWithFallback attempt succeeded.
type Tier int

// Load tiers, tried in order.
const (
	TierStrict  Tier = 1 // Exact keys and shapes
	TierRenamed Tier = 2 // Exact after key rewriting
	TierPartial Tier = 3 // Every matching key, the rest left at initial values
)

// String returns "strict", "renamed" or "partial".
func (t Tier) String() string {
	switch t {
	case TierStrict:
		return "strict"
	case TierRenamed:
		return "renamed"
	case TierPartial:
		return "partial"
	default:
		return "none"
	}
}

// Attempt records one failed tier.
type Attempt struct {
	Tier Tier
	Err  error
}

// LoadResult reports how a state dict was applied.
type LoadResult struct {
	Tier       Tier
	Loaded     []string
	Missing    []string // Parameters left at their initial values
	Unexpected []string
	Mismatched []nn.ShapeMismatch
	Renamed    int       // Keys changed by the rewriter (tiers 2 and 3)
	Attempts   []Attempt // Failed tiers before the successful one
}

// Partial reports whether some parameters kept their initial values.
func (r *LoadResult) Partial() bool {
	return len(r.Missing) > 0 || len(r.Mismatched) > 0
}

// FallbackOptions configures LoadWithFallback.
type FallbackOptions struct {
	// Rewriter renames keys for tiers 2 and 3. Nil means DefaultRewriter.
	Rewriter *Rewriter

	// Logger receives one record per failed tier. Nil discards.
	Logger *slog.Logger
}

// LoadWithFallback applies sd to m, trying in order:
//
//  1. a strict load of sd as is;
//  2. a strict load after renaming keys with the rewriter;
//  3. a non-strict load of the renamed keys.
//
// A failed strict tier leaves m untouched. Tier 3 copies every key whose
// name and shape match and does not fail on key or shape mismatches; the
// result lists what was skipped.
func LoadWithFallback(m nn.Module, sd map[string]*tensor.RawTensor, opts FallbackOptions) (*LoadResult, error) {
	logger := logging.OrNop(opts.Logger)
	rw := opts.Rewriter
	if rw == nil {
		rw = DefaultRewriter()
	}
	result := &LoadResult{}

	report, err := nn.LoadStateDict(m, sd, true)
	if err == nil {
		result.fill(TierStrict, report)
		return result, nil
	}
	logger.Debug("strict weight load failed", "tier", TierStrict, "error", err)
	result.Attempts = append(result.Attempts, Attempt{Tier: TierStrict, Err: err})

	renamed, n := rw.Apply(sd)
	result.Renamed = n
	report, err = nn.LoadStateDict(m, renamed, true)
	if err == nil {
		result.fill(TierRenamed, report)
		return result, nil
	}
	logger.Debug("strict weight load after renaming failed", "tier", TierRenamed, "renamed", n, "error", err)
	result.Attempts = append(result.Attempts, Attempt{Tier: TierRenamed, Err: err})

	report, err = nn.LoadStateDict(m, renamed, false)
	if err != nil {
		return nil, errors.WithMessage(err, "partial weight load")
	}
	result.fill(TierPartial, report)
	logger.Warn("weights loaded partially",
		"loaded", len(report.Loaded), "missing", len(report.Missing),
		"unexpected", len(report.Unexpected), "mismatched", len(report.Mismatched))
	return result, nil
}

func (r *LoadResult) fill(tier Tier, report *nn.LoadReport) {
	r.Tier = tier
	r.Loaded = report.Loaded
	r.Missing = report.Missing
	r.Unexpected = report.Unexpected
	r.Mismatched = report.Mismatched
}
