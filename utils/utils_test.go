package utils_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/utils"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, "jpeg"},
		{"png", []byte{0x89, 'P', 'N', 'G', '\r', '\n'}, "png"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "webp"},
		{"short", []byte{0xFF}, "unknown"},
		{"text", []byte("hello world"), "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, utils.DetectFormat(tc.data))
		})
	}
}

func TestFitDimensions(t *testing.T) {
	cases := []struct {
		srcW, srcH, maxW, maxH int
		wantW, wantH           int
	}{
		{800, 600, 400, 400, 400, 300},
		{600, 800, 400, 400, 300, 400},
		{100, 100, 400, 400, 100, 100}, // never upscales
		{800, 600, 0, 300, 400, 300},
		{800, 600, 0, 0, 800, 600},
	}
	for _, tc := range cases {
		w, h := utils.FitDimensions(tc.srcW, tc.srcH, tc.maxW, tc.maxH)
		assert.Equal(t, tc.wantW, w, "%+v", tc)
		assert.Equal(t, tc.wantH, h, "%+v", tc)
	}
}

func TestScaleDimensions(t *testing.T) {
	w, h := utils.ScaleDimensions(800, 600, 400, 0)
	assert.Equal(t, 400, w)
	assert.Equal(t, 300, h)
}

func TestLimitedReader(t *testing.T) {
	lr := &utils.LimitedReader{R: strings.NewReader("12345"), Max: 5}
	got, err := io.ReadAll(lr)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(got))

	lr = &utils.LimitedReader{R: strings.NewReader("123456"), Max: 5}
	_, err = io.ReadAll(lr)
	assert.ErrorIs(t, err, utils.ErrTooLarge)
}

func TestDrainReader_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := utils.DrainReader(ctx, bytes.NewReader([]byte("abc")), 1)
	assert.ErrorIs(t, err, context.Canceled)

	buf, err := utils.DrainReader(context.Background(), bytes.NewReader([]byte("abc")), 2)
	require.NoError(t, err)
	assert.Equal(t, "abc", buf.String())
	utils.ReleaseBuffer(buf)
}

func TestRGBAPool_ReusesSameSize(t *testing.T) {
	img := utils.AcquireRGBA(8, 4)
	require.Equal(t, 8, img.Bounds().Dx())
	require.Equal(t, 4, img.Bounds().Dy())
	img.Pix[0] = 0xFF
	utils.ReleaseRGBA(img)

	again := utils.AcquireRGBA(8, 4)
	assert.Equal(t, 8*4*4, len(again.Pix))
	assert.Zero(t, again.Pix[0], "reused bitmap must be cleared")

	other := utils.AcquireRGBA(3, 3)
	assert.Equal(t, 3*3*4, len(other.Pix))
}
