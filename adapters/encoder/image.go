package encoder

import (
	"context"
	"fmt"
	"io"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// Image is the core.Encoder used for disk cache writes. It serialises a
// core.ImageResource in a fixed format through the registry.
type Image struct {
	registry core.Registry
	format   core.Format
	opts     core.EncodeOptions
}

// NewImage encodes to format at the given quality (0 = encoder default).
func NewImage(reg core.Registry, format core.Format, quality int) *Image {
	return &Image{registry: reg, format: format, opts: core.EncodeOptions{Quality: quality}}
}

// ID includes the format and quality: entries written with different
// settings must not share a disk cache key.
func (e *Image) ID() string { return fmt.Sprintf("image/%s/%d", e.format, e.opts.Quality) }

func (e *Image) Encode(ctx context.Context, res core.Resource, w io.Writer) error {
	img, ok := res.Value().(*core.ImageData)
	if !ok || img == nil {
		return apperrors.New(apperrors.CategoryEncode, "image.encode",
			fmt.Errorf("unexpected resource value %T", res.Value()))
	}
	enc, ok := e.registry.EncoderFor(e.format)
	if !ok {
		return apperrors.New(apperrors.CategoryEncode, "image.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, e.format))
	}
	target := *img
	target.Format = e.format
	data, err := enc.Encode(ctx, &target, e.opts)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "image.encode.write", err)
	}
	return nil
}

// RegisterStdlib registers the pure-Go encoders for every supported format.
func RegisterStdlib(reg core.Registry, defaultQuality int) {
	reg.RegisterEncoder(core.FormatJPEG, NewJPEG(defaultQuality))
	reg.RegisterEncoder(core.FormatPNG, NewPNG())
	reg.RegisterEncoder(core.FormatWebP, NewWebP(defaultQuality))
}

var (
	_ core.Encoder       = (*Image)(nil)
	_ core.FormatEncoder = (*JPEG)(nil)
	_ core.FormatEncoder = (*PNG)(nil)
	_ core.FormatEncoder = (*WebP)(nil)
)
