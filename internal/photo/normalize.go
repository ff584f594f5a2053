package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
	"bmp":  {0x42, 0x4D},
}

// Sniff reports the image format of raw from its leading bytes.
func Sniff(raw []byte) (string, bool) {
	for name, sig := range imageSignatures {
		if bytes.HasPrefix(raw, sig) {
			return name, true
		}
	}
	return "", false
}

// Normalize returns raw as a baseline JPEG no larger than MaxDimension on
// its longest side and MaxJPEGBytes in size. A JPEG already within limits
// is returned unchanged.
func Normalize(raw []byte, opts Options) ([]byte, error) {
	opts = opts.WithDefaults()
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrNotAnImage)
	}
	if _, ok := Sniff(raw); !ok {
		return nil, fmt.Errorf("%w: header %x", ErrNotAnImage, raw[:min(len(raw), 8)])
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrNotAnImage, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > opts.MaxSourcePixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}
	if format == "jpeg" && max(cfg.Width, cfg.Height) <= opts.MaxDimension && len(raw) <= opts.MaxJPEGBytes {
		return raw, nil
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}

	limit := opts.MaxDimension
	for attempt := 0; attempt < 4; attempt++ {
		img := fit(src, limit)
		for q := opts.Quality; q >= 50; q -= 10 {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
				return nil, fmt.Errorf("encode jpeg: %w", err)
			}
			if buf.Len() <= opts.MaxJPEGBytes {
				return buf.Bytes(), nil
			}
		}
		limit = limit * 3 / 4
	}
	return nil, fmt.Errorf("%w: cannot fit into %d bytes", ErrTooLarge, opts.MaxJPEGBytes)
}

// fit scales src so its longest side is at most limit, flattening any
// transparency onto white.
func fit(src image.Image, limit int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if longest := max(w, h); longest > limit {
		w = max(1, w*limit/longest)
		h = max(1, h*limit/longest)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)
	if w == b.Dx() && h == b.Dy() {
		xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Over)
		return dst
	}
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}
