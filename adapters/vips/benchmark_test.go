package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/Skryldev/image-loader/adapters/decoder"
	"github.com/Skryldev/image-loader/adapters/encoder"
	"github.com/Skryldev/image-loader/adapters/vips"
	"github.com/Skryldev/image-loader/core"
	"github.com/Skryldev/image-loader/pipeline"
)

func makeJPEG(tb testing.TB, w, h int) []byte {
	tb.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		tb.Fatal(err)
	}
	return buf.Bytes()
}

func stdlibRegistry() core.Registry {
	reg := core.NewRegistry()
	decoder.RegisterStdlib(reg)
	encoder.RegisterStdlib(reg, 85)
	return reg
}

// vipsRegistry registers a Backend with cfg. libvips itself is shut down
// once by TestMain.
func vipsRegistry(cfg vips.BackendConfig) core.Registry {
	reg := core.NewRegistry()
	vips.RegisterVipsBackend(reg, vips.NewBackend(cfg))
	return reg
}

// run decodes raw, transforms it and encodes the result the way a load with
// a disk cache write does.
func run(b *testing.B, reg core.Registry, raw []byte, t core.Transformation, format core.Format, width, height int) {
	b.Helper()
	ctx := context.Background()
	dec := decoder.NewImage(reg, 0, 0)
	enc := encoder.NewImage(reg, format, 80)

	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := dec.Decode(ctx, bytes.NewReader(raw), width, height)
		if err != nil {
			b.Fatal(err)
		}
		out := res
		if t != nil {
			if out, err = t.Transform(ctx, res, width, height); err != nil {
				b.Fatal(err)
			}
		}
		if format != "" {
			var buf bytes.Buffer
			if err := enc.Encode(ctx, out, &buf); err != nil {
				b.Fatal(err)
			}
		}
		if out != res {
			out.Recycle()
		}
		res.Recycle()
	}
}

// ─── Decode ───────────────────────────────────────────────────────────────────

func BenchmarkDecode_Stdlib_1920x1080(b *testing.B) {
	run(b, stdlibRegistry(), makeJPEG(b, 1920, 1080), nil, "", 0, 0)
}

func BenchmarkDecode_Vips_1920x1080(b *testing.B) {
	reg := vipsRegistry(vips.BackendConfig{DefaultQuality: 85})
	run(b, reg, makeJPEG(b, 1920, 1080), nil, "", 0, 0)
}

// ─── Fit ──────────────────────────────────────────────────────────────────────

func BenchmarkFit_Stdlib_1920to960(b *testing.B) {
	run(b, stdlibRegistry(), makeJPEG(b, 1920, 1080),
		pipeline.New(&pipeline.FitStep{}), core.FormatJPEG, 960, 960)
}

func BenchmarkFit_Vips_1920to960(b *testing.B) {
	reg := vipsRegistry(vips.BackendConfig{DefaultQuality: 85})
	run(b, reg, makeJPEG(b, 1920, 1080),
		pipeline.New(&vips.VipsFitStep{}), core.FormatJPEG, 960, 960)
}

func BenchmarkFit_VipsShrinkOnLoad_4Kto960(b *testing.B) {
	reg := vipsRegistry(vips.BackendConfig{DefaultQuality: 85, ShrinkOnLoad: true})
	run(b, reg, makeJPEG(b, 3840, 2160),
		pipeline.New(&vips.VipsFitStep{}), core.FormatJPEG, 960, 960)
}

// ─── Thumbnail ────────────────────────────────────────────────────────────────

func BenchmarkThumbnail_Stdlib_4K(b *testing.B) {
	run(b, stdlibRegistry(), makeJPEG(b, 3840, 2160),
		pipeline.New(&pipeline.ThumbnailStep{Size: 256}), core.FormatJPEG, 256, 256)
}

func BenchmarkThumbnail_Vips_4K(b *testing.B) {
	reg := vipsRegistry(vips.BackendConfig{DefaultQuality: 85})
	run(b, reg, makeJPEG(b, 3840, 2160),
		pipeline.New(&vips.VipsThumbnailStep{Size: 256}), core.FormatJPEG, 256, 256)
}

// ─── Full pipeline ────────────────────────────────────────────────────────────

func BenchmarkPipeline_Stdlib(b *testing.B) {
	run(b, stdlibRegistry(), makeJPEG(b, 1920, 1080),
		pipeline.New(&pipeline.FitStep{}, &pipeline.StripEXIFStep{}), core.FormatWebP, 960, 960)
}

func BenchmarkPipeline_Vips(b *testing.B) {
	reg := vipsRegistry(vips.BackendConfig{DefaultQuality: 85})
	run(b, reg, makeJPEG(b, 1920, 1080),
		pipeline.New(&vips.VipsFitStep{}, &vips.VipsStripEXIFStep{}), core.FormatWebP, 960, 960)
}
