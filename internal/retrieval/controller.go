package retrieval

import (
	"context"
	"fmt"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/evidence"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
)

// Stage is a step of the escalation ladder.
type Stage string

const (
	StageFast     Stage = "FAST"
	StageStandard Stage = "STANDARD"
	StageDeep     Stage = "DEEP"
	StageGeneric  Stage = "GENERIC"
)

// StageConfig holds per-stage halting and search breadth.
type StageConfig struct {
	QualityThreshold float64
	SearchLimit      int
	SearchThreshold  float64
}

// ControllerConfig configures the escalation ladder.
type ControllerConfig struct {
	FastConfidence    float64
	PrimaryCategories int
	Fast              StageConfig
	Standard          StageConfig
	Deep              StageConfig
}

// DefaultControllerConfig returns the default ladder.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		FastConfidence:    0.9,
		PrimaryCategories: 2,
		Fast:              StageConfig{QualityThreshold: 0.6, SearchLimit: 5, SearchThreshold: 0.6},
		Standard:          StageConfig{QualityThreshold: 0.5, SearchLimit: 10, SearchThreshold: 0.45},
		Deep:              StageConfig{QualityThreshold: 0.35, SearchLimit: 25, SearchThreshold: 0.3},
	}
}

// StageRequest tells a runner which retrieval paths to run for one stage.
type StageRequest struct {
	Stage           Stage
	Search          bool
	SearchLimit     int
	SearchThreshold float64
	// PinResolved pins the bill named in the question when it resolves.
	PinResolved bool
	// Categories are planned and executed; nil skips planning.
	Categories []intent.Category
	// GenericPlans runs the overview plans instead of category plans.
	GenericPlans bool
}

// StageResult is what a stage produced.
type StageResult struct {
	Inputs evidence.Inputs
	Bundle *evidence.Bundle
	Plans  []string
	Errors []*Error
	// Attempted and Failed count retrieval paths, not plans.
	Attempted int
	Failed    int
}

// StageRunner executes the retrieval paths of one stage.
type StageRunner interface {
	RunStage(ctx context.Context, question string, c intent.Classification, req StageRequest) StageResult
}

// Trace is the outcome of a full escalation.
type Trace struct {
	Bundle      *evidence.Bundle
	Stage       Stage
	StagesTried []Stage
	Plans       []string
	Errors      []*Error
	Degraded    bool
}

// FallbackController walks FAST, STANDARD, DEEP and GENERIC in order and stops
// at the first stage whose evidence is good enough.
type FallbackController struct {
	cfg    ControllerConfig
	logger *observability.Logger
}

// NewFallbackController creates a controller.
func NewFallbackController(cfg ControllerConfig, logger *observability.Logger) *FallbackController {
	if cfg.PrimaryCategories <= 0 {
		cfg.PrimaryCategories = DefaultControllerConfig().PrimaryCategories
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FallbackController{cfg: cfg, logger: logger.WithComponent("fallback")}
}

// Stages returns the ladder for a classification.
func (f *FallbackController) Stages(c intent.Classification) []Stage {
	stages := make([]Stage, 0, 4)
	if c.Confidence >= f.cfg.FastConfidence && c.Primary() == intent.CategorySpecificBill {
		stages = append(stages, StageFast)
	}
	return append(stages, StageStandard, StageDeep, StageGeneric)
}

func (f *FallbackController) request(stage Stage, c intent.Classification) StageRequest {
	switch stage {
	case StageFast:
		return StageRequest{
			Stage:           stage,
			Search:          true,
			SearchLimit:     f.cfg.Fast.SearchLimit,
			SearchThreshold: f.cfg.Fast.SearchThreshold,
			PinResolved:     true,
		}
	case StageStandard:
		cats := c.Categories
		if len(cats) > f.cfg.PrimaryCategories {
			cats = cats[:f.cfg.PrimaryCategories]
		}
		return StageRequest{
			Stage:           stage,
			Search:          true,
			SearchLimit:     f.cfg.Standard.SearchLimit,
			SearchThreshold: f.cfg.Standard.SearchThreshold,
			PinResolved:     c.Has(intent.CategorySpecificBill),
			Categories:      append([]intent.Category{}, cats...),
		}
	case StageDeep:
		return StageRequest{
			Stage:           stage,
			Search:          true,
			SearchLimit:     f.cfg.Deep.SearchLimit,
			SearchThreshold: f.cfg.Deep.SearchThreshold,
			PinResolved:     c.Has(intent.CategorySpecificBill),
			Categories:      append([]intent.Category{}, c.Categories...),
		}
	}
	return StageRequest{Stage: StageGeneric, GenericPlans: true}
}

func (f *FallbackController) threshold(stage Stage) float64 {
	switch stage {
	case StageFast:
		return f.cfg.Fast.QualityThreshold
	case StageStandard:
		return f.cfg.Standard.QualityThreshold
	case StageDeep:
		return f.cfg.Deep.QualityThreshold
	}
	return 0
}

// Retrieve escalates until a stage halts. GENERIC always halts; an error is
// returned when every retrieval path failed and GENERIC found nothing, or at
// once when a path reports a dimension or config error.
// The runner is request-scoped.
func (f *FallbackController) Retrieve(ctx context.Context, runner StageRunner, question string, c intent.Classification) (*Trace, error) {
	log := f.logger.WithContext(ctx)
	trace := &Trace{}
	succeeded := 0

	for _, stage := range f.Stages(c) {
		if err := ctx.Err(); err != nil {
			return trace, &Error{Kind: KindRetrieval, Op: "retrieve", Err: err}
		}

		// GENERIC abandons retrieval; its bundle is the overview set alone.
		req := f.request(stage, c)
		res := runner.RunStage(ctx, question, c, req)
		trace.StagesTried = append(trace.StagesTried, stage)
		trace.Stage = stage
		trace.Bundle = res.Bundle
		trace.Plans = append(trace.Plans, res.Plans...)
		trace.Errors = append(trace.Errors, res.Errors...)
		succeeded += res.Attempted - res.Failed
		if err := fatal(res.Errors); err != nil {
			log.WithStage(string(stage)).Error().Err(err).Msg("Fatal retrieval error")
			return trace, err
		}

		quality := 0.0
		if !res.Bundle.Empty() {
			quality = res.Bundle.AverageQuality
		}
		log.WithStage(string(stage)).Debug().
			Int("items", len(bundleItems(res.Bundle))).
			Float64("average_quality", quality).
			Float64("threshold", f.threshold(stage)).
			Int("paths_failed", res.Failed).
			Msg("Stage complete")

		if stage == StageGeneric {
			trace.Degraded = true
			if res.Bundle.Empty() && succeeded == 0 {
				return trace, &Error{
					Kind: KindRetrieval,
					Op:   "retrieve",
					Err:  fmt.Errorf("all retrieval paths failed across %d stages", len(trace.StagesTried)),
				}
			}
			return trace, nil
		}

		if !res.Bundle.Empty() && quality >= f.threshold(stage) {
			return trace, nil
		}
	}

	return trace, nil
}

// fatal returns the first error that no amount of escalation can recover.
func fatal(errs []*Error) *Error {
	for _, e := range errs {
		if e.Kind == KindDimensionMismatch || e.Kind == KindConfig {
			return e
		}
	}
	return nil
}

func bundleItems(b *evidence.Bundle) []evidence.Item {
	if b == nil {
		return nil
	}
	return b.Items
}
