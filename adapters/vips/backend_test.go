package vips_test

import (
	"bytes"
	"context"
	"image"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/adapters/decoder"
	"github.com/Skryldev/image-loader/adapters/encoder"
	"github.com/Skryldev/image-loader/adapters/vips"
	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pipeline"
	"github.com/Skryldev/image-loader/utils"
)

func TestMain(m *testing.M) {
	code := m.Run()
	vips.Shutdown()
	os.Exit(code)
}

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("libvips round trips are skipped in short mode")
	}
}

func decodeVips(t *testing.T, reg core.Registry, raw []byte, w, h int) *core.ImageResource {
	t.Helper()
	res, err := decoder.NewImage(reg, 0, 0).Decode(context.Background(), bytes.NewReader(raw), w, h)
	require.NoError(t, err)
	img, ok := res.(*core.ImageResource)
	require.True(t, ok, "got %T", res)
	return img
}

func TestBackend_DecodeEncodeRecycle(t *testing.T) {
	skipShort(t)
	reg := vipsRegistry(vips.BackendConfig{DefaultQuality: 85})
	raw := makeJPEG(t, 400, 200)

	res := decodeVips(t, reg, raw, 100, 100)
	img := res.Image()
	vi, ok := img.Image.(*vips.VipsImage)
	require.True(t, ok, "pixels are %T", img.Image)
	// ShrinkOnLoad is off: the full image is decoded.
	assert.Equal(t, 400, vi.Width())
	assert.Equal(t, 200, vi.Height())
	assert.Equal(t, core.FormatJPEG, img.Format)
	assert.Equal(t, 400, img.Meta.Width)
	assert.Equal(t, 200, img.Meta.Height)
	assert.Equal(t, int64(len(raw)), img.OriginalSize)

	for _, format := range []core.Format{core.FormatPNG, core.FormatJPEG, core.FormatWebP} {
		var buf bytes.Buffer
		require.NoError(t, encoder.NewImage(reg, format, 80).Encode(context.Background(), res, &buf), format)
		assert.Equal(t, string(format), utils.DetectFormat(buf.Bytes()))
	}

	res.Recycle()
	assert.True(t, res.Recycled())
	assert.Nil(t, img.Image)
	assert.NotPanics(t, res.Recycle)
}

func TestBackend_ShrinkOnLoad(t *testing.T) {
	skipShort(t)
	reg := vipsRegistry(vips.BackendConfig{ShrinkOnLoad: true})
	raw := makeJPEG(t, 400, 200)

	shrunk := decodeVips(t, reg, raw, 100, 100)
	defer shrunk.Recycle()
	assert.Equal(t, 100, shrunk.Image().Meta.Width)
	assert.Equal(t, 50, shrunk.Image().Meta.Height)

	// A zero side leaves the aspect ratio to the Fit steps.
	full := decodeVips(t, reg, raw, 100, 0)
	defer full.Recycle()
	assert.Equal(t, 400, full.Image().Meta.Width)
	assert.Equal(t, 200, full.Image().Meta.Height)
}

func TestVipsFitStep_ShrinksToTarget(t *testing.T) {
	skipShort(t)
	reg := vipsRegistry(vips.BackendConfig{})
	res := decodeVips(t, reg, makeJPEG(t, 400, 200), 0, 0)

	out, err := pipeline.New(&vips.VipsFitStep{}, &vips.VipsStripEXIFStep{}).Transform(context.Background(), res, 100, 100)
	require.NoError(t, err)
	img := out.Value().(*core.ImageData)
	assert.Equal(t, 100, img.Meta.Width)
	assert.Equal(t, 50, img.Meta.Height)
	assert.Equal(t, 100, img.Image.(*vips.VipsImage).Width())

	// The pixel buffer moved to out; recycling the input must leave it alive.
	res.Recycle()
	var buf bytes.Buffer
	require.NoError(t, encoder.NewImage(reg, core.FormatPNG, 0).Encode(context.Background(), out, &buf))
	assert.Equal(t, "png", utils.DetectFormat(buf.Bytes()))
	out.Recycle()
}

func TestBackend_EncodeRejectsForeignPixels(t *testing.T) {
	skipShort(t)
	backend := vips.NewBackend(vips.BackendConfig{})
	img := &core.ImageData{Format: core.FormatJPEG, Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}

	_, err := backend.Encode(context.Background(), img, core.EncodeOptions{})
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryEncode))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = backend.Decode(ctx, bytes.NewReader(makeJPEG(t, 8, 8)))
	assert.ErrorIs(t, err, context.Canceled)
}
