package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

// minOCRWidth is the width below which Tesseract accuracy drops off sharply.
const minOCRWidth = 1200

// preprocessImage normalizes a raster document before OCR: grayscale,
// upscale small scans, and push contrast so faded receipts stay readable.
func preprocessImage(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Permanent(fmt.Errorf("undecodable image: %w", err))
	}

	img = imaging.Grayscale(img)

	if img.Bounds().Dx() < minOCRWidth {
		img = imaging.Resize(img, minOCRWidth, 0, imaging.Lanczos)
	}

	img = imaging.AdjustContrast(img, 20)
	img = imaging.Sharpen(img, 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}
