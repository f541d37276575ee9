package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

func source(ctx context.Context, name string, img *core.ImageData) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, name, err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, name, apperrors.ErrEmptyInput)
	}
	return src, nil
}

// scale draws src into a pooled dstW×dstH bitmap.
func scale(src image.Image, dstW, dstH int, sampler xdraw.Interpolator) *image.RGBA {
	if sampler == nil {
		sampler = xdraw.BiLinear
	}
	dst := utils.AcquireRGBA(dstW, dstH)
	sampler.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func withPixels(img *core.ImageData, px image.Image) *core.ImageData {
	out := *img
	out.Image = px
	b := px.Bounds()
	out.Meta.Width = b.Dx()
	out.Meta.Height = b.Dy()
	return &out
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep resizes the image to the given dimensions, preserving aspect ratio
// when one axis is 0.
type ResizeStep struct {
	Width, Height int
	// Resampler controls quality vs speed.  Defaults to draw.BiLinear.
	Resampler xdraw.Interpolator
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) ID() string { return fmt.Sprintf("resize(%dx%d)", s.Width, s.Height) }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := source(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	srcB := src.Bounds()
	dstW, dstH := utils.ScaleDimensions(srcB.Dx(), srcB.Dy(), s.Width, s.Height)
	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return img, nil
	}
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}
	return withPixels(img, scale(src, dstW, dstH, s.Resampler)), nil
}

// ── Fit ───────────────────────────────────────────────────────────────────────

// FitStep scales the image down to fit inside a bounding box, keeping the
// aspect ratio and never upscaling. With MaxWidth and MaxHeight both zero the
// box is the size requested by the load (see WithTarget).
type FitStep struct {
	MaxWidth, MaxHeight int
	Resampler           xdraw.Interpolator
}

func (s *FitStep) Name() string { return "fit" }

func (s *FitStep) ID() string {
	if s.MaxWidth == 0 && s.MaxHeight == 0 {
		return "fit"
	}
	return fmt.Sprintf("fit(%dx%d)", s.MaxWidth, s.MaxHeight)
}

func (s *FitStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := source(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	maxW, maxH := s.MaxWidth, s.MaxHeight
	if maxW == 0 && maxH == 0 {
		maxW, maxH, _ = TargetFromContext(ctx)
	}
	srcB := src.Bounds()
	dstW, dstH := utils.FitDimensions(srcB.Dx(), srcB.Dy(), maxW, maxH)
	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return img, nil
	}
	return withPixels(img, scale(src, dstW, dstH, s.Resampler)), nil
}

// ── Crop ──────────────────────────────────────────────────────────────────────

// CropStep crops a rectangle from the image.
type CropStep struct {
	X, Y, Width, Height int
}

func (s *CropStep) Name() string { return "crop" }

func (s *CropStep) ID() string {
	return fmt.Sprintf("crop(%d,%d,%dx%d)", s.X, s.Y, s.Width, s.Height)
}

func (s *CropStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := source(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	rect := image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height).Add(src.Bounds().Min)
	if rect.Empty() || !rect.In(src.Bounds()) {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("%w: crop rect %v exceeds image bounds %v", apperrors.ErrInvalidDimensions, rect, src.Bounds()))
	}
	dst := utils.AcquireRGBA(s.Width, s.Height)
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return withPixels(img, dst), nil
}

// ── Thumbnail ────────────────────────────────────────────────────────────────

// ThumbnailStep resizes so the shorter side equals Size, then centre-crops
// to a square.
type ThumbnailStep struct {
	Size int // square size in pixels
}

func (s *ThumbnailStep) Name() string { return "thumbnail" }

func (s *ThumbnailStep) ID() string { return fmt.Sprintf("thumbnail(%d)", s.Size) }

func (s *ThumbnailStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := source(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	if s.Size <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	b := src.Bounds()
	rw, rh := 0, s.Size
	if b.Dx() < b.Dy() {
		rw, rh = s.Size, 0
	}
	resized, err := (&ResizeStep{Width: rw, Height: rh}).Execute(ctx, img)
	if err != nil {
		return nil, err
	}

	rb := resized.Image.(image.Image).Bounds()
	crop := &CropStep{X: (rb.Dx() - s.Size) / 2, Y: (rb.Dy() - s.Size) / 2, Width: s.Size, Height: s.Size}
	out, err := crop.Execute(ctx, resized)
	if resized != img {
		if px, ok := resized.Image.(*image.RGBA); ok {
			utils.ReleaseRGBA(px)
		}
	}
	return out, err
}

// ── EXIF strip ────────────────────────────────────────────────────────────────

// StripEXIFStep removes EXIF metadata from the ImageData.
type StripEXIFStep struct{}

func (s *StripEXIFStep) Name() string { return "strip_exif" }

func (s *StripEXIFStep) ID() string { return "strip_exif" }

func (s *StripEXIFStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Meta.EXIF = nil
	out.Meta.HasEXIF = false
	out.Meta.Orientation = 0
	return &out, nil
}

// ── Grayscale ─────────────────────────────────────────────────────────────────

// GrayscaleStep converts the image to grayscale.
type GrayscaleStep struct{}

func (s *GrayscaleStep) Name() string { return "grayscale" }

func (s *GrayscaleStep) ID() string { return "grayscale" }

func (s *GrayscaleStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := source(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	out := withPixels(img, dst)
	out.Meta.ColorSpace = core.ColorSpaceGray
	out.Meta.HasAlpha = false
	return out, nil
}

// ── Watermark ─────────────────────────────────────────────────────────────────

// WatermarkStep composites a watermark image at the given offset. Label
// names the watermark in the step ID; change it whenever the image changes.
type WatermarkStep struct {
	Watermark image.Image
	Label     string
	OffsetX   int
	OffsetY   int
}

func (s *WatermarkStep) Name() string { return "watermark" }

func (s *WatermarkStep) ID() string {
	return fmt.Sprintf("watermark(%s@%d,%d)", s.Label, s.OffsetX, s.OffsetY)
}

func (s *WatermarkStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := source(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	if s.Watermark == nil {
		return img, nil
	}
	b := src.Bounds()
	dst := utils.AcquireRGBA(b.Dx(), b.Dy())
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	offset := image.Point{X: s.OffsetX, Y: s.OffsetY}
	draw.Draw(dst, s.Watermark.Bounds().Sub(s.Watermark.Bounds().Min).Add(offset), s.Watermark, s.Watermark.Bounds().Min, draw.Over)
	return withPixels(img, dst), nil
}

var (
	_ core.Step = (*ResizeStep)(nil)
	_ core.Step = (*FitStep)(nil)
	_ core.Step = (*CropStep)(nil)
	_ core.Step = (*ThumbnailStep)(nil)
	_ core.Step = (*StripEXIFStep)(nil)
	_ core.Step = (*GrayscaleStep)(nil)
	_ core.Step = (*WatermarkStep)(nil)
)
