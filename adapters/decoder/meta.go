package decoder

import (
	"image"

	"github.com/Skryldev/image-loader/core"
)

func imageData(img image.Image, format core.Format) *core.ImageData {
	b := img.Bounds()
	return &core.ImageData{
		Image:  img,
		Format: format,
		Meta: core.Metadata{
			Width:      b.Dx(),
			Height:     b.Dy(),
			Format:     format,
			ColorSpace: colorSpace(img),
			HasAlpha:   hasAlpha(img),
		},
	}
}

func colorSpace(img image.Image) core.ColorSpace {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return core.ColorSpaceGray
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		return core.ColorSpaceRGBA
	case *image.CMYK:
		return core.ColorSpaceCMYK
	}
	return core.ColorSpaceRGB
}

func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		return true
	}
	return false
}

// RegisterStdlib registers the pure-Go decoders for every supported format.
func RegisterStdlib(reg core.Registry) {
	reg.RegisterDecoder(core.FormatJPEG, NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, NewPNG())
	reg.RegisterDecoder(core.FormatWebP, NewWebP())
}

var (
	_ core.FormatDecoder = (*JPEG)(nil)
	_ core.FormatDecoder = (*PNG)(nil)
	_ core.FormatDecoder = (*WebP)(nil)
)
