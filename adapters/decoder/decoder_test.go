package decoder_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/adapters/decoder"
	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pipeline"
	"github.com/Skryldev/image-loader/utils"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(w, h)))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func newImageDecoder(maxBytes int64) *decoder.Image {
	reg := core.NewRegistry()
	decoder.RegisterStdlib(reg)
	return decoder.NewImage(reg, maxBytes, 0)
}

func TestImage_DecodesSniffedFormats(t *testing.T) {
	dec := newImageDecoder(0)
	tests := []struct {
		name   string
		data   []byte
		format core.Format
	}{
		{"png", encodePNG(t, 40, 30), core.FormatPNG},
		{"jpeg", encodeJPEG(t, 40, 30), core.FormatJPEG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := dec.Decode(context.Background(), bytes.NewReader(tt.data), 0, 0)
			require.NoError(t, err)
			ir, ok := res.(*core.ImageResource)
			require.True(t, ok)

			img := ir.Image()
			assert.Equal(t, tt.format, img.Format)
			assert.Equal(t, 40, img.Meta.Width)
			assert.Equal(t, 30, img.Meta.Height)
			assert.Equal(t, int64(len(tt.data)), img.OriginalSize)
			assert.GreaterOrEqual(t, res.Size(), 40*30*4)

			res.Recycle()
			assert.True(t, ir.Recycled())
			assert.Nil(t, ir.Image().Image)
		})
	}
	assert.Equal(t, "image", dec.ID())
}

func TestImage_Failures(t *testing.T) {
	ctx := context.Background()

	_, err := newImageDecoder(0).Decode(ctx, strings.NewReader(""), 0, 0)
	assert.ErrorIs(t, err, apperrors.ErrEmptyInput)

	_, err = newImageDecoder(0).Decode(ctx, strings.NewReader("definitely not an image"), 0, 0)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryDecode))

	data := encodePNG(t, 64, 64)
	_, err = newImageDecoder(int64(len(data)-1)).Decode(ctx, bytes.NewReader(data), 0, 0)
	assert.ErrorIs(t, err, utils.ErrTooLarge)

	truncated := data[:len(data)/2]
	_, err = newImageDecoder(0).Decode(ctx, bytes.NewReader(truncated), 0, 0)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryDecode))
}

func TestFormatDecoders_HonourContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, dec := range []core.FormatDecoder{decoder.NewJPEG(), decoder.NewPNG(), decoder.NewWebP()} {
		_, err := dec.Decode(ctx, bytes.NewReader(nil))
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestPNG_ColorModel(t *testing.T) {
	img, err := decoder.NewPNG().Decode(context.Background(), bytes.NewReader(encodePNG(t, 8, 8)))
	require.NoError(t, err)
	assert.Equal(t, core.ColorSpaceRGBA, img.Meta.ColorSpace)
	assert.True(t, img.Meta.HasAlpha)
	assert.True(t, decoder.NewPNG().CanDecode(core.FormatPNG))
	assert.False(t, decoder.NewPNG().CanDecode(core.FormatJPEG))
}

// sizeRecorder records the target size a format decoder is asked for.
type sizeRecorder struct {
	decoder.PNG
	w, h int
	ok   bool
}

func (p *sizeRecorder) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	p.w, p.h, p.ok = pipeline.TargetFromContext(ctx)
	return p.PNG.Decode(ctx, r)
}

func TestImage_PassesTargetToFormatDecoder(t *testing.T) {
	reg := core.NewRegistry()
	spy := &sizeRecorder{}
	reg.RegisterDecoder(core.FormatPNG, spy)

	res, err := decoder.NewImage(reg, 0, 0).Decode(context.Background(), bytes.NewReader(encodePNG(t, 8, 6)), 4, 3)
	require.NoError(t, err)
	defer res.Recycle()

	assert.True(t, spy.ok)
	assert.Equal(t, 4, spy.w)
	assert.Equal(t, 3, spy.h)
}
