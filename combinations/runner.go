package combinations

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type CritiquePolicy string

const (
	// CritiqueFallback publishes FallbackCritique when the critique call fails,
	// so a task with an image always completes.
	CritiqueFallback CritiquePolicy = "fallback"
	// CritiqueStrict fails the task when the critique call fails.
	CritiqueStrict CritiquePolicy = "strict"
)

type Config struct {
	// Concurrency is the number of tasks in flight. 1 keeps strict emission order.
	Concurrency int
	// RatePerMinute caps visual synthesis calls. 0 disables the limiter.
	RatePerMinute  float64
	CritiquePolicy CritiquePolicy
	Classifier     *Classifier
	// Tag prefixes log lines, e.g. "[Run: 12]".
	Tag  string
	Logf func(format string, args ...any)
}

func DefaultConfig() Config {
	return Config{
		Concurrency:    1,
		CritiquePolicy: CritiqueFallback,
		Classifier:     DefaultClassifier(),
		Tag:            "[Run]",
		Logf:           func(format string, args ...any) { fmt.Printf(format+"\n", args...) },
	}
}

type Runner struct {
	visual  VisualSynthesizer
	critic  CritiqueSynthesizer
	results *ResultCollection
	config  Config
	limiter *rate.Limiter
}

func NewRunner(visual VisualSynthesizer, critic CritiqueSynthesizer, results *ResultCollection, config Config) *Runner {
	defaults := DefaultConfig()
	if config.Concurrency < 1 {
		config.Concurrency = defaults.Concurrency
	}
	if config.CritiquePolicy == "" {
		config.CritiquePolicy = defaults.CritiquePolicy
	}
	if config.Classifier == nil {
		config.Classifier = defaults.Classifier
	}
	if config.Tag == "" {
		config.Tag = defaults.Tag
	}
	if config.Logf == nil {
		config.Logf = defaults.Logf
	}

	runner := &Runner{
		visual:  visual,
		critic:  critic,
		results: results,
		config:  config,
	}
	if config.RatePerMinute > 0 {
		runner.limiter = rate.NewLimiter(rate.Limit(config.RatePerMinute/60), 1)
	}
	return runner
}

func (r *Runner) Results() *ResultCollection {
	return r.results
}

// Start publishes a Pending state for every descriptor before returning, then
// drives the tasks in the background. The channel yields the summary once
// every task is terminal.
func (r *Runner) Start(ctx context.Context, descriptors []TaskDescriptor, profile UserProfile) <-chan RunSummary {
	generation := r.results.Reset(Keys(descriptors))
	r.config.Logf("%v Started %d combinations (concurrency %d)", r.config.Tag, len(descriptors), r.config.Concurrency)

	done := make(chan RunSummary, 1)
	go func() {
		defer close(done)
		done <- r.drive(ctx, generation, descriptors, profile)
	}()
	return done
}

// Run is Start followed by waiting for the summary.
func (r *Runner) Run(ctx context.Context, descriptors []TaskDescriptor, profile UserProfile) RunSummary {
	return <-r.Start(ctx, descriptors, profile)
}

func (r *Runner) drive(ctx context.Context, generation uint64, descriptors []TaskDescriptor, profile UserProfile) RunSummary {
	started := time.Now()
	var completed, failed atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(r.config.Concurrency)
	for _, descriptor := range descriptors {
		g.Go(func() error {
			if r.process(ctx, generation, descriptor, profile) == PhaseComplete {
				completed.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := RunSummary{
		Total:     len(descriptors),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Duration:  time.Since(started),
	}
	if !r.results.FinishFor(generation, summary) {
		r.config.Logf("%v Superseded by a newer run, results discarded", r.config.Tag)
	}
	r.config.Logf("%v Finished: %d complete, %d failed in %v", r.config.Tag, summary.Completed, summary.Failed, summary.Duration.Round(time.Millisecond))
	return summary
}

// process drives one descriptor to a terminal phase and returns it.
func (r *Runner) process(ctx context.Context, generation uint64, d TaskDescriptor, profile UserProfile) Phase {
	state := TaskState{Key: d.Key}

	if err := ctx.Err(); err != nil {
		return r.fail(generation, state, err)
	}

	state.Phase = PhaseImageGenerating
	r.publish(generation, state)

	if r.limiter != nil {
		// Wait fails early when the deadline would pass before a token frees up.
		if err := r.limiter.Wait(ctx); err != nil {
			return r.fail(generation, state, &SynthesisError{Kind: ErrorKindCancelled, Err: err})
		}
	}

	image, err := r.visual.Generate(ctx, d.Body, d.Top, d.Bottom, d.Accessories, d.Volumetric)
	if err == nil && image.Empty() {
		err = ErrEmptyArtifact
	}
	if err != nil {
		return r.fail(generation, state, err)
	}
	state.Image = &image
	state.Phase = PhaseImageReady
	r.publish(generation, state)

	state.Phase = PhaseCritiqueGenerating
	r.publish(generation, state)

	critique, err := r.critic.Critique(ctx, image, profile)
	if err != nil {
		if ctx.Err() != nil || r.config.CritiquePolicy == CritiqueStrict {
			return r.fail(generation, state, err)
		}
		r.config.Logf("%v[%v] Critique failed, using fallback: %v", r.config.Tag, d.Key, err)
		critique = FallbackCritique()
	}
	state.Critique = &critique
	state.Phase = PhaseComplete
	r.publish(generation, state)
	return PhaseComplete
}

func (r *Runner) fail(generation uint64, state TaskState, err error) Phase {
	kind, message := r.config.Classifier.Classify(err)
	if kind == "" {
		kind, message = ErrorKindUnknown, GenericErrorMessage
	}
	if errors.Is(err, context.Canceled) && state.Phase == "" {
		r.config.Logf("%v[%v] Skipped, run cancelled", r.config.Tag, state.Key)
	} else {
		r.config.Logf("%v[%v] Failed (%v): %v", r.config.Tag, state.Key, kind, err)
	}

	state.Phase = PhaseFailed
	state.Critique = nil
	state.ErrorKind = kind
	state.ErrorMessage = message
	r.publish(generation, state)
	return PhaseFailed
}

func (r *Runner) publish(generation uint64, state TaskState) {
	r.results.UpsertFor(generation, state)
}
