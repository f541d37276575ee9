// Package decoder provides the format decoders registered in a core.Registry
// and Image, the engine-facing decoder that sniffs the format and wraps the
// result in a core.ImageResource.
package decoder

import (
	"context"
	"image/jpeg"
	"io"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// JPEG decodes JPEG images using the standard library.
type JPEG struct{}

func NewJPEG() *JPEG { return &JPEG{} }

func (j *JPEG) CanDecode(format core.Format) bool { return format == core.FormatJPEG }

func (j *JPEG) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	img, err := jpeg.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	return imageData(img, core.FormatJPEG), nil
}
