package core

import (
	"context"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"
)

// Metadata holds extracted image information.
type Metadata struct {
	Width       int
	Height      int
	Format      Format
	ColorSpace  ColorSpace
	HasAlpha    bool
	SizeBytes   int64
	EXIF        map[string]string // nil when stripped or absent
	HasEXIF     bool
	Orientation int // EXIF orientation tag (1-8)
}

// ImageData is the decoded payload carried by an ImageResource.
// Data holds encoded bytes when still retained; Image holds the pixel buffer.
type ImageData struct {
	Data   []byte
	Format Format

	// Decoded pixel buffer: image.Image for the stdlib codecs, *vips.VipsImage
	// for the libvips backend.
	Image interface{}

	Meta Metadata

	OriginalSize int64
}

// Priority is an ordering hint handed to fetchers. The bundled executors are
// FIFO and do not reorder by priority.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityImmediate
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityImmediate:
		return "immediate"
	}
	return "unknown"
}

// LoadRequest describes one load. ModelID plus the capability IDs and the
// requested size form the cache Key.
type LoadRequest struct {
	ModelID  string
	Width    int
	Height   int
	Priority Priority

	Fetcher Fetcher
	// CacheDecoder decodes disk cache entries written by Encoder. Defaults to
	// Decoder when nil.
	CacheDecoder   Decoder
	Decoder        Decoder
	Transformation Transformation // nil means identity
	Encoder        Encoder        // nil disables disk writes

	SkipMemoryCache bool
	SkipDiskCache   bool
}

// Step is a pipeline building block. Each Step transforms an *ImageData
// value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	// ID identifies the step and its parameters; it is part of cache keys.
	ID() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}
