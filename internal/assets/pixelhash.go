package assets

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/webp"

	"github.com/brandsight/adharvest/internal/harvest"
)

// PixelHash fingerprints an image by its decoded pixel content, so the same
// creative re-encoded by a channel (different bytes, same pixels) still
// collapses to one identity. Returns harvest.ErrNotImage for unrecognized
// bytes.
func PixelHash(data []byte) (string, error) {
	format := Sniff(data)
	if format == FormatUnknown {
		return "", harvest.ErrNotImage
	}
	var (
		img image.Image
		err error
	)
	switch format {
	case FormatPNG:
		img, err = png.Decode(bytes.NewReader(data))
	case FormatJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case FormatGIF:
		img, err = gif.Decode(bytes.NewReader(data))
	case FormatWebP:
		img, err = webp.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return "", fmt.Errorf("decode %s for hashing: %w", format, err)
	}

	h := sha256.New()
	bounds := img.Bounds()
	var px [4]byte
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			px[0], px[1], px[2], px[3] = byte(r>>8), byte(g>>8), byte(b>>8), byte(a>>8)
			h.Write(px[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
