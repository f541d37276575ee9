package decoder

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pipeline"
	"github.com/Skryldev/image-loader/utils"
)

// Image is the core.Decoder used for both source bytes and disk cache
// entries. It reads the stream (bounded by MaxBytes), sniffs the format and
// hands the bytes to the FormatDecoder registered for it.
type Image struct {
	registry  core.Registry
	maxBytes  int64
	chunkSize int
}

// NewImage returns a decoder resolving formats through reg. maxBytes <= 0
// disables the input limit.
func NewImage(reg core.Registry, maxBytes int64, chunkSize int) *Image {
	return &Image{registry: reg, maxBytes: maxBytes, chunkSize: chunkSize}
}

// ID is stable across processes so disk cache keys stay valid.
func (d *Image) ID() string { return "image" }

// Decode hands width and height to the format decoder as the pipeline
// target; decoders that cannot shrink on load ignore it.
func (d *Image) Decode(ctx context.Context, r io.Reader, width, height int) (core.Resource, error) {
	buf, err := utils.DrainReader(ctx, &utils.LimitedReader{R: r, Max: d.maxBytes}, d.chunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "image.read", err)
	}
	defer utils.ReleaseBuffer(buf)
	if buf.Len() == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "image.decode", apperrors.ErrEmptyInput)
	}

	raw := buf.Bytes()
	format := core.Format(utils.DetectFormat(raw))
	dec, ok := d.registry.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, "image.decode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	img, err := dec.Decode(pipeline.WithTarget(ctx, width, height), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	img.OriginalSize = int64(len(raw))
	img.Meta.SizeBytes = int64(len(raw))
	return core.NewImageResource(img), nil
}

var _ core.Decoder = (*Image)(nil)
