package comparator

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// JPEG quality ladder used when shrinking an upload.
const (
	startQuality = 85
	minQuality   = 20
	qualityStep  = 5
)

// shrink returns data unchanged when it fits in maxBytes. Otherwise the
// image is scaled so its longest side is at most maxDim and re-encoded as
// JPEG at decreasing quality until it fits. If even the lowest quality is
// too large the smallest encoding is returned.
func shrink(data []byte, maxBytes, maxDim int) ([]byte, error) {
	if maxBytes <= 0 || len(data) <= maxBytes {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode for shrink: %w", err)
	}
	img := scaleDown(src, maxDim)

	var buf bytes.Buffer
	for q := startQuality; q >= minQuality; q -= qualityStep {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("encode at quality %d: %w", q, err)
		}
		if buf.Len() <= maxBytes {
			break
		}
	}
	return bytes.Clone(buf.Bytes()), nil
}

// scaleDown keeps the aspect ratio; images already within maxDim are
// returned as is.
func scaleDown(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return src
	}

	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
