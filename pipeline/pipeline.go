// Package pipeline wires steps together, runs hooks, and exposes the result
// as a core.Transformation for the engine.
package pipeline

import (
	"context"
	"image"
	"strings"
	"time"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// Pipeline executes a sequence of Steps with hook support. A configured
// Pipeline is immutable in use and safe for concurrent Transform calls.
type Pipeline struct {
	steps []core.Step
	hooks []core.Hook
}

// New returns a Pipeline running steps in order.
func New(steps ...core.Step) *Pipeline {
	return &Pipeline{steps: append([]core.Step(nil), steps...)}
}

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// ID joins the step IDs. Hooks observe only and are not part of it.
func (p *Pipeline) ID() string {
	ids := make([]string, len(p.steps))
	for i, s := range p.steps {
		ids[i] = s.ID()
	}
	return "pipeline(" + strings.Join(ids, ",") + ")"
}

// Transform runs the steps on the resource's ImageData with the load's
// target size available to Fit. When the steps hand back the input
// unchanged, res itself is returned.
func (p *Pipeline) Transform(ctx context.Context, res core.Resource, width, height int) (core.Resource, error) {
	in, ok := res.Value().(*core.ImageData)
	if !ok || in == nil {
		return nil, apperrors.New(apperrors.CategoryTransform, "pipeline.transform", apperrors.ErrEmptyInput)
	}
	out, _, err := p.Run(WithTarget(ctx, width, height), in)
	if err != nil {
		return nil, err
	}
	if out == in {
		return res, nil
	}
	// Steps that only touch metadata share the pixel buffer with their input;
	// it now belongs to the new resource so recycling res must not free it.
	if out.Image != nil && out.Image == in.Image {
		in.Image = nil
	}
	return core.NewImageResource(out), nil
}

// Run executes the pipeline on img.  It returns the final ImageData and a map
// of per-step timing observations.
func (p *Pipeline) Run(ctx context.Context, img *core.ImageData) (*core.ImageData, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := img

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}

		result, elapsed, err := p.runStep(ctx, step, current)
		timings[step.Name()] = elapsed
		if err != nil {
			releaseReplaced(img, current, nil)
			return nil, timings, err
		}
		releaseReplaced(img, current, result)
		current = result
	}
	return current, timings, nil
}

func (p *Pipeline) runStep(ctx context.Context, step core.Step, img *core.ImageData) (*core.ImageData, time.Duration, error) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, step.Name(), img)
	}
	start := time.Now()
	result, err := step.Execute(ctx, img)
	elapsed := time.Since(start)
	for _, h := range p.hooks {
		h.AfterStep(ctx, step.Name(), result, elapsed, err)
	}
	return result, elapsed, err
}

// releaseReplaced frees an intermediate pixel buffer once the next step
// produced different pixels: pooled RGBA goes back to the bitmap pool and
// native buffers are closed. The caller's input is never released here.
func releaseReplaced(input, prev, next *core.ImageData) {
	if prev.Image == nil || prev.Image == input.Image {
		return
	}
	if next != nil && next.Image == prev.Image {
		return
	}
	switch px := prev.Image.(type) {
	case *image.RGBA:
		utils.ReleaseRGBA(px)
	case interface{ Close() }:
		px.Close()
	}
}

// Clone returns a shallow copy of the pipeline so templates can be extended
// without affecting the original.
func (p *Pipeline) Clone() *Pipeline {
	cp := &Pipeline{
		steps: make([]core.Step, len(p.steps)),
		hooks: make([]core.Hook, len(p.hooks)),
	}
	copy(cp.steps, p.steps)
	copy(cp.hooks, p.hooks)
	return cp
}

// ── Target size ───────────────────────────────────────────────────────────────

type targetKey struct{}

type target struct{ width, height int }

// WithTarget records the size requested by the load.
func WithTarget(ctx context.Context, width, height int) context.Context {
	return context.WithValue(ctx, targetKey{}, target{width, height})
}

// TargetFromContext returns the size recorded by WithTarget.
func TargetFromContext(ctx context.Context) (width, height int, ok bool) {
	t, ok := ctx.Value(targetKey{}).(target)
	return t.width, t.height, ok
}

var _ core.Transformation = (*Pipeline)(nil)
