package vips

import (
	"context"
	"fmt"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pipeline"
	"github.com/Skryldev/image-loader/utils"
)

// Vips steps mutate the *VipsImage in place and return a shallow copy of the
// ImageData with updated dimensions, so the pipeline sees shared pixels and
// never closes the buffer early.

func vipsSource(ctx context.Context, name string, img *core.ImageData) (*VipsImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, name, err)
	}
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, name,
			fmt.Errorf("pixels are %T; register the vips backend for decoding", img.Image))
	}
	return vi, nil
}

func resized(img *core.ImageData, vi *VipsImage) *core.ImageData {
	out := *img
	out.Meta.Width = vi.ref.Width()
	out.Meta.Height = vi.ref.Height()
	return &out
}

func scaleTo(name string, img *core.ImageData, vi *VipsImage, w, h int) (*core.ImageData, error) {
	if w == img.Meta.Width && h == img.Meta.Height {
		return img, nil
	}
	hscale := float64(w) / float64(img.Meta.Width)
	vscale := float64(h) / float64(img.Meta.Height)
	if err := vi.ref.ResizeWithVScale(hscale, vscale, govips.KernelLanczos3); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, name, err)
	}
	return resized(img, vi), nil
}

// VipsResizeStep resizes with the Lanczos3 kernel. A zero side keeps the
// aspect ratio.
type VipsResizeStep struct {
	Width, Height int
}

func (s *VipsResizeStep) Name() string { return "vips.resize" }

func (s *VipsResizeStep) ID() string { return fmt.Sprintf("vips.resize(%dx%d)", s.Width, s.Height) }

func (s *VipsResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, err := vipsSource(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	w, h := utils.ScaleDimensions(img.Meta.Width, img.Meta.Height, s.Width, s.Height)
	if (w != img.Meta.Width || h != img.Meta.Height) && (w <= 0 || h <= 0) {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}
	return scaleTo(s.Name(), img, vi, w, h)
}

// VipsFitStep shrinks the image into the box, or into the load's requested
// size when the box is zero. It never upscales. After a shrink-on-load
// decode it is usually a no-op.
type VipsFitStep struct {
	MaxWidth, MaxHeight int
}

func (s *VipsFitStep) Name() string { return "vips.fit" }

func (s *VipsFitStep) ID() string {
	if s.MaxWidth == 0 && s.MaxHeight == 0 {
		return "vips.fit"
	}
	return fmt.Sprintf("vips.fit(%dx%d)", s.MaxWidth, s.MaxHeight)
}

func (s *VipsFitStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, err := vipsSource(ctx, s.Name(), img)
	if err != nil {
		return nil, err
	}
	maxW, maxH := s.MaxWidth, s.MaxHeight
	if maxW == 0 && maxH == 0 {
		maxW, maxH, _ = pipeline.TargetFromContext(ctx)
	}
	w, h := utils.FitDimensions(img.Meta.Width, img.Meta.Height, maxW, maxH)
	return scaleTo(s.Name(), img, vi, w, h)
}

// VipsThumbnailStep builds a centre-cropped square with vips_thumbnail() from
// the encoded bytes Backend.Decode keeps.
type VipsThumbnailStep struct {
	Size int
}

func (s *VipsThumbnailStep) Name() string { return "vips.thumbnail" }

func (s *VipsThumbnailStep) ID() string { return fmt.Sprintf("vips.thumbnail(%d)", s.Size) }

func (s *VipsThumbnailStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if s.Size <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	ref, err := govips.NewThumbnailFromBuffer(img.Data, s.Size, s.Size, govips.InterestingCentre)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := *img
	out.Image = track(ref)
	out.Meta.Width, out.Meta.Height = ref.Width(), ref.Height()
	return &out, nil
}

// VipsStripEXIFStep removes EXIF, XMP and IPTC metadata.
type VipsStripEXIFStep struct{}

func (s *VipsStripEXIFStep) Name() string { return "vips.strip_exif" }

func (s *VipsStripEXIFStep) ID() string { return "vips.strip_exif" }

func (s *VipsStripEXIFStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if vi, ok := img.Image.(*VipsImage); ok && vi != nil {
		if err := vi.ref.RemoveMetadata(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
		}
	}
	out := *img
	out.Meta.EXIF, out.Meta.HasEXIF, out.Meta.Orientation = nil, false, 0
	return &out, nil
}

// VipsAutoRotateStep applies the EXIF orientation and clears it. Non-vips
// pixels pass through.
type VipsAutoRotateStep struct{}

func (s *VipsAutoRotateStep) Name() string { return "vips.auto_rotate" }

func (s *VipsAutoRotateStep) ID() string { return "vips.auto_rotate" }

func (s *VipsAutoRotateStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return img, nil
	}
	if err := vi.ref.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := resized(img, vi)
	out.Meta.Orientation = 0
	return out, nil
}

var (
	_ core.Step = (*VipsResizeStep)(nil)
	_ core.Step = (*VipsFitStep)(nil)
	_ core.Step = (*VipsThumbnailStep)(nil)
	_ core.Step = (*VipsStripEXIFStep)(nil)
	_ core.Step = (*VipsAutoRotateStep)(nil)
)
