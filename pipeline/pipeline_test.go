package pipeline_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pipeline"
)

func solid(w, h int) *core.ImageData {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	return &core.ImageData{
		Image:  img,
		Format: core.FormatPNG,
		Meta:   core.Metadata{Width: w, Height: h, EXIF: map[string]string{"Make": "x"}, HasEXIF: true},
	}
}

func bounds(t *testing.T, img *core.ImageData) image.Rectangle {
	t.Helper()
	px, ok := img.Image.(image.Image)
	require.True(t, ok)
	return px.Bounds()
}

type recordingHook struct {
	mu     sync.Mutex
	before []string
	after  []string
	errs   int
}

func (h *recordingHook) BeforeStep(_ context.Context, name string, _ *core.ImageData) {
	h.mu.Lock()
	h.before = append(h.before, name)
	h.mu.Unlock()
}

func (h *recordingHook) AfterStep(_ context.Context, name string, _ *core.ImageData, _ time.Duration, err error) {
	h.mu.Lock()
	h.after = append(h.after, name)
	if err != nil {
		h.errs++
	}
	h.mu.Unlock()
}

func TestPipeline_ID(t *testing.T) {
	p := pipeline.New(&pipeline.ResizeStep{Width: 960}, &pipeline.StripEXIFStep{})
	assert.Equal(t, "pipeline(resize(960x0),strip_exif)", p.ID())

	other := pipeline.New(&pipeline.ResizeStep{Width: 480}, &pipeline.StripEXIFStep{})
	assert.NotEqual(t, p.ID(), other.ID())

	withHook := p.Clone().AddHook(&recordingHook{})
	assert.Equal(t, p.ID(), withHook.ID())

	assert.Equal(t, "fit", (&pipeline.FitStep{}).ID())
	assert.Equal(t, "fit(64x32)", (&pipeline.FitStep{MaxWidth: 64, MaxHeight: 32}).ID())
}

func TestPipeline_RunCallsHooksInOrder(t *testing.T) {
	hook := &recordingHook{}
	p := pipeline.New(&pipeline.ResizeStep{Width: 20}, &pipeline.GrayscaleStep{}).AddHook(hook)

	out, timings, err := p.Run(context.Background(), solid(40, 20))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), bounds(t, out))
	assert.Equal(t, core.ColorSpaceGray, out.Meta.ColorSpace)
	assert.Equal(t, []string{"resize", "grayscale"}, hook.before)
	assert.Equal(t, []string{"resize", "grayscale"}, hook.after)
	assert.Len(t, timings, 2)
}

func TestPipeline_StepErrorStopsRun(t *testing.T) {
	hook := &recordingHook{}
	p := pipeline.New(&pipeline.CropStep{Width: 100, Height: 100}, &pipeline.GrayscaleStep{}).AddHook(hook)

	_, _, err := p.Run(context.Background(), solid(10, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidDimensions)
	assert.Equal(t, []string{"crop"}, hook.after)
	assert.Equal(t, 1, hook.errs)
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := pipeline.New(&pipeline.ResizeStep{Width: 5}).Run(ctx, solid(10, 10))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryPipeline))
}

func TestPipeline_TransformNoopReturnsSameResource(t *testing.T) {
	res := core.NewImageResource(solid(10, 10))
	p := pipeline.New(&pipeline.FitStep{})

	out, err := p.Transform(context.Background(), res, 100, 100)
	require.NoError(t, err)
	assert.Same(t, res, out)
}

func TestPipeline_TransformFitsTarget(t *testing.T) {
	res := core.NewImageResource(solid(200, 100))
	p := pipeline.New(&pipeline.FitStep{})

	out, err := p.Transform(context.Background(), res, 50, 50)
	require.NoError(t, err)
	require.NotSame(t, res, out)

	img := out.(*core.ImageResource).Image()
	assert.Equal(t, image.Rect(0, 0, 50, 25), bounds(t, img))
	assert.Equal(t, 50, img.Meta.Width)
	assert.Equal(t, 25, img.Meta.Height)

	// The input keeps its own pixels.
	res.Recycle()
	assert.NotNil(t, img.Image)
}

func TestPipeline_TransformDetachesSharedPixels(t *testing.T) {
	in := solid(10, 10)
	px := in.Image
	res := core.NewImageResource(in)

	out, err := pipeline.New(&pipeline.StripEXIFStep{}).Transform(context.Background(), res, 0, 0)
	require.NoError(t, err)
	require.NotSame(t, res, out)

	img := out.(*core.ImageResource).Image()
	assert.Same(t, px, img.Image)
	assert.Nil(t, img.Meta.EXIF)
	assert.Nil(t, in.Image)

	res.Recycle()
	assert.Same(t, px, img.Image)
}

func TestPipeline_TransformRejectsForeignResource(t *testing.T) {
	_, err := pipeline.New().Transform(context.Background(), foreign{}, 1, 1)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryTransform))
}

type foreign struct{}

func (foreign) Value() any { return 42 }
func (foreign) Size() int  { return 0 }
func (foreign) Recycle()   {}

func TestPipeline_TargetFromContext(t *testing.T) {
	_, _, ok := pipeline.TargetFromContext(context.Background())
	assert.False(t, ok)

	w, h, ok := pipeline.TargetFromContext(pipeline.WithTarget(context.Background(), 3, 4))
	assert.True(t, ok)
	assert.Equal(t, 3, w)
	assert.Equal(t, 4, h)
}

func TestSteps(t *testing.T) {
	ctx := context.Background()

	t.Run("resize keeps aspect", func(t *testing.T) {
		out, err := (&pipeline.ResizeStep{Height: 30}).Execute(ctx, solid(120, 60))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 60, 30), bounds(t, out))
	})

	t.Run("fit never upscales", func(t *testing.T) {
		in := solid(20, 10)
		out, err := (&pipeline.FitStep{MaxWidth: 400, MaxHeight: 400}).Execute(ctx, in)
		require.NoError(t, err)
		assert.Same(t, in, out)
	})

	t.Run("crop", func(t *testing.T) {
		out, err := (&pipeline.CropStep{X: 2, Y: 3, Width: 4, Height: 5}).Execute(ctx, solid(10, 10))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 4, 5), bounds(t, out))
	})

	t.Run("thumbnail is square", func(t *testing.T) {
		out, err := (&pipeline.ThumbnailStep{Size: 16}).Execute(ctx, solid(64, 32))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 16, 16), bounds(t, out))

		_, err = (&pipeline.ThumbnailStep{}).Execute(ctx, solid(4, 4))
		assert.ErrorIs(t, err, apperrors.ErrInvalidDimensions)
	})

	t.Run("strip exif", func(t *testing.T) {
		out, err := (&pipeline.StripEXIFStep{}).Execute(ctx, solid(2, 2))
		require.NoError(t, err)
		assert.False(t, out.Meta.HasEXIF)
		assert.Nil(t, out.Meta.EXIF)
	})

	t.Run("watermark", func(t *testing.T) {
		mark := image.NewRGBA(image.Rect(0, 0, 2, 2))
		for i := range mark.Pix {
			mark.Pix[i] = 255
		}
		step := &pipeline.WatermarkStep{Watermark: mark, Label: "logo", OffsetX: 1, OffsetY: 1}
		assert.Equal(t, "watermark(logo@1,1)", step.ID())

		out, err := step.Execute(ctx, solid(4, 4))
		require.NoError(t, err)
		px := out.Image.(*image.RGBA)
		assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, px.RGBAAt(1, 1))
		assert.Equal(t, color.RGBA{R: 200, G: 50, B: 50, A: 255}, px.RGBAAt(0, 0))
	})

	t.Run("missing pixels", func(t *testing.T) {
		_, err := (&pipeline.GrayscaleStep{}).Execute(ctx, &core.ImageData{})
		assert.ErrorIs(t, err, apperrors.ErrEmptyInput)
	})
}
