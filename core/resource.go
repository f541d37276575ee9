package core

import (
	"image"
	"sync/atomic"

	"github.com/Skryldev/image-loader/utils"
)

// ImageResource is the Resource produced by the bundled decoders and
// pipelines. Value returns the *ImageData.
type ImageResource struct {
	img      *ImageData
	size     int
	recycled atomic.Bool
}

// NewImageResource wraps img.
func NewImageResource(img *ImageData) *ImageResource {
	return &ImageResource{img: img, size: estimateSize(img)}
}

func (r *ImageResource) Value() any { return r.img }

// Image returns the wrapped ImageData.
func (r *ImageResource) Image() *ImageData { return r.img }

func (r *ImageResource) Size() int { return r.size }

// Recycle returns pooled RGBA pixels to the bitmap pool and closes backends
// that hold native memory. A second call is a no-op.
func (r *ImageResource) Recycle() {
	if !r.recycled.CompareAndSwap(false, true) {
		return
	}
	switch px := r.img.Image.(type) {
	case *image.RGBA:
		utils.ReleaseRGBA(px)
	case interface{ Close() }:
		px.Close()
	}
	r.img.Image = nil
	r.img.Data = nil
}

// Recycled reports whether Recycle has run.
func (r *ImageResource) Recycled() bool { return r.recycled.Load() }

func estimateSize(img *ImageData) int {
	if img == nil {
		return 0
	}
	size := len(img.Data)
	w, h := img.Meta.Width, img.Meta.Height
	if b, ok := img.Image.(image.Image); ok {
		w, h = b.Bounds().Dx(), b.Bounds().Dy()
	}
	return size + w*h*4
}

var _ Resource = (*ImageResource)(nil)
