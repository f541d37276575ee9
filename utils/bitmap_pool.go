package utils

import (
	"image"
	"sync"
)

// maxPooledPixels bounds the bitmaps kept for reuse (4096x4096).
const maxPooledPixels = 4096 * 4096

// rgbaPools holds one sync.Pool per exact dimension pair; decoded thumbnails
// in a list view tend to share a handful of sizes.
var rgbaPools sync.Map // image.Point -> *sync.Pool

// AcquireRGBA returns a zeroed w×h RGBA bitmap, reusing a recycled one of
// the same size when available.
func AcquireRGBA(w, h int) *image.RGBA {
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	if p, ok := rgbaPools.Load(image.Pt(w, h)); ok {
		if img, ok := p.(*sync.Pool).Get().(*image.RGBA); ok && img != nil {
			clear(img.Pix)
			return img
		}
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// ReleaseRGBA hands img back for reuse. Callers must not touch img afterwards.
func ReleaseRGBA(img *image.RGBA) {
	if img == nil {
		return
	}
	b := img.Bounds()
	if b.Min != (image.Point{}) || b.Dx()*b.Dy() == 0 || b.Dx()*b.Dy() > maxPooledPixels {
		return
	}
	if len(img.Pix) != b.Dx()*b.Dy()*4 || img.Stride != b.Dx()*4 {
		return // sub-image sharing a larger buffer
	}
	p, _ := rgbaPools.LoadOrStore(image.Pt(b.Dx(), b.Dy()), &sync.Pool{})
	p.(*sync.Pool).Put(img)
}
