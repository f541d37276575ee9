package utils

import (
	"bytes"
	"net/http"
)

const formatUnknown = "unknown"

// signatures are checked in order. WebP also needs the RIFF header.
var signatures = []struct {
	format string
	offset int
	magic  []byte
}{
	{"jpeg", 0, []byte{0xFF, 0xD8, 0xFF}},
	{"png", 0, []byte{0x89, 'P', 'N', 'G'}},
	{"webp", 8, []byte("WEBP")},
}

// DetectFormat sniffs the leading bytes of data and returns "jpeg", "png",
// "webp" or "unknown".
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return formatUnknown
	}
	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(data) < end || !bytes.Equal(data[sig.offset:end], sig.magic) {
			continue
		}
		if sig.format == "webp" && !bytes.HasPrefix(data, []byte("RIFF")) {
			continue
		}
		return sig.format
	}
	if ct := http.DetectContentType(data); len(ct) > 6 && ct[:6] == "image/" {
		switch f := ct[6:]; f {
		case "jpeg", "png", "webp":
			return f
		}
	}
	return formatUnknown
}

// ScaleDimensions returns the target size, deriving a zero side from the
// other so the aspect ratio holds. Both zero returns the source size.
func ScaleDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	switch {
	case targetW == 0 && targetH == 0:
		return srcW, srcH
	case targetW == 0:
		return int(float64(srcW) * float64(targetH) / float64(srcH)), targetH
	case targetH == 0:
		return targetW, int(float64(srcH) * float64(targetW) / float64(srcW))
	}
	return targetW, targetH
}

// FitDimensions scales (srcW, srcH) to fit inside (maxW, maxH) keeping the
// aspect ratio. It never upscales; a zero bound is unconstrained.
func FitDimensions(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return srcW, srcH
	}
	scale := 1.0
	if maxW > 0 && srcW > maxW {
		scale = float64(maxW) / float64(srcW)
	}
	if maxH > 0 && float64(srcH)*scale > float64(maxH) {
		scale = float64(maxH) / float64(srcH)
	}
	return max(1, int(float64(srcW)*scale+0.5)), max(1, int(float64(srcH)*scale+0.5))
}
