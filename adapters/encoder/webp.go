package encoder

import (
	"bytes"
	"context"
	"image/jpeg"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// WebP stands in for a WebP encoder when libvips is not registered: there is
// no pure-Go WebP encoder in x/image, so it writes JPEG. Entries it produces
// still round-trip through decoder.Image, which sniffs the real format.
type WebP struct {
	DefaultQuality int
}

func NewWebP(defaultQuality int) *WebP {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &WebP{DefaultQuality: defaultQuality}
}

func (w *WebP) CanEncode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	src, err := pixels(ctx, "webp.encode", img)
	if err != nil {
		return nil, err
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = w.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "webp.encode", err)
	}
	return buf.Bytes(), nil
}
