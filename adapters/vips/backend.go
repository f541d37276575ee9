// Package vips is the libvips codec backend and its pipeline steps. Register
// it over the stdlib codecs with RegisterVipsBackend; the decoded pixel
// buffer is then a *VipsImage and only the Vips* steps can operate on it.
package vips

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/pipeline"
	"github.com/Skryldev/image-loader/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool

	// ShrinkOnLoad lets Decode shrink to the load's requested size while
	// loading. Enable it only for transformations that fit the image into
	// that size; crops would see shrunk coordinates.
	ShrinkOnLoad bool
}

// Backend decodes and encodes through libvips. Safe for concurrent use.
type Backend struct {
	cfg BackendConfig
}

// libvips cannot be restarted once shut down, so it is started at most once
// per process.
var (
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
)

// NewBackend starts libvips on first use. The first Backend's MaxWorkers,
// MaxCacheSize and ReportLeaks configure libvips for the whole process; the
// other fields apply per Backend. Call Shutdown once at process exit.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 85
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	startOnce.Do(func() {
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
			CollectStats:     true,
		})
		started = true
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases libvips for the process. Backends are unusable after it.
func (b *Backend) Shutdown() { Shutdown() }

// Shutdown releases libvips if a Backend started it. Safe to call more than
// once.
func Shutdown() {
	startOnce.Do(func() {}) // a later NewBackend must not start it again
	stopOnce.Do(func() {
		if started {
			govips.Shutdown()
		}
	})
}

// RegisterVipsBackend replaces the stdlib codecs with b for every format.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		reg.RegisterDecoder(f, b)
		reg.RegisterEncoder(f, b)
	}
}

// ── Decode ────────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatUnknown:
		return true
	}
	return false
}

// Decode loads the image. With ShrinkOnLoad and a target size in the context
// (pipeline.WithTarget) a 4K JPEG requested at 256x256 never becomes a
// full-size bitmap. The encoded bytes stay in ImageData.Data for
// VipsThumbnailStep.
func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}

	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.drain", err)
	}
	raw := bytes.Clone(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := b.load(ctx, raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}

	format := formatOf(ref.Format())
	return &core.ImageData{
		Data:         raw,
		Format:       format,
		Image:        track(ref),
		Meta:         metadataOf(ref, format),
		OriginalSize: int64(len(raw)),
	}, nil
}

// load picks shrink-on-load when both target sides are known; a zero side
// means the caller wants the source aspect ratio and the full decode is
// left to the Fit steps.
func (b *Backend) load(ctx context.Context, raw []byte) (*govips.ImageRef, error) {
	w, h, ok := pipeline.TargetFromContext(ctx)
	if !b.cfg.ShrinkOnLoad || !ok || w <= 0 || h <= 0 {
		return govips.NewImageFromBuffer(raw)
	}
	return govips.NewThumbnailWithSizeFromBuffer(raw, w, h, govips.InterestingNone, govips.SizeDown)
}

func metadataOf(ref *govips.ImageRef, format core.Format) core.Metadata {
	meta := core.Metadata{
		Width:       ref.Width(),
		Height:      ref.Height(),
		Format:      format,
		ColorSpace:  colorSpaceOf(ref.Interpretation()),
		HasAlpha:    ref.HasAlpha(),
		Orientation: ref.Orientation(),
	}
	fields := ref.GetFields()
	if len(fields) == 0 {
		return meta
	}
	meta.EXIF = make(map[string]string, len(fields))
	for _, field := range fields {
		meta.EXIF[field] = ref.GetString(field)
	}
	meta.HasEXIF = true
	return meta
}

// ── Encode ────────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return true
	}
	return false
}

// Encode exports img in img.Format. Only images decoded by a Backend can be
// encoded.
func (b *Backend) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}
	vi, ok := img.Image.(*VipsImage)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("pixels are %T, not *VipsImage", img.Image))
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = b.cfg.DefaultQuality
	}

	var (
		out []byte
		err error
	)
	switch img.Format {
	case core.FormatJPEG:
		p := govips.NewJpegExportParams()
		p.Quality, p.StripMetadata, p.Interlace = quality, opts.StripEXIF, opts.Interlaced
		out, _, err = vi.ref.ExportJpeg(p)
	case core.FormatPNG:
		p := govips.NewPngExportParams()
		p.StripMetadata, p.Interlace = opts.StripEXIF, opts.Interlaced
		out, _, err = vi.ref.ExportPng(p)
	case core.FormatWebP:
		p := govips.NewWebpExportParams()
		p.Quality, p.Lossless, p.StripMetadata = quality, opts.Lossless, opts.StripEXIF
		out, _, err = vi.ref.ExportWebp(p)
	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode."+string(img.Format), err)
	}
	return out, nil
}

// ── VipsImage ─────────────────────────────────────────────────────────────────

// VipsImage is the pixel buffer of a libvips-decoded ImageData.
// core.ImageResource.Recycle closes it; the finalizer only covers leaks.
type VipsImage struct {
	ref *govips.ImageRef
}

func track(ref *govips.ImageRef) *VipsImage {
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })
	return &VipsImage{ref: ref}
}

func (v *VipsImage) Width() int            { return v.ref.Width() }
func (v *VipsImage) Height() int           { return v.ref.Height() }
func (v *VipsImage) Ref() *govips.ImageRef { return v.ref }
func (v *VipsImage) Close()                { v.ref.Close() }

func formatOf(t govips.ImageType) core.Format {
	switch t {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	}
	return core.FormatUnknown
}

func colorSpaceOf(i govips.Interpretation) core.ColorSpace {
	switch i {
	case govips.InterpretationBW:
		return core.ColorSpaceGray
	case govips.InterpretationCMYK:
		return core.ColorSpaceCMYK
	}
	return core.ColorSpaceRGB
}

var (
	_ core.FormatDecoder = (*Backend)(nil)
	_ core.FormatEncoder = (*Backend)(nil)
)
