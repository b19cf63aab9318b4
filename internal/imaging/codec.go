// Package imaging converts the PNG rasters produced by the browser into the encoding a
// caller asked for. The browser only ever emits PNG; every other format is produced here.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/webp"

	"github.com/xkilldash9x/pagelens/internal/apperrors"
)

// Format is an output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// DefaultQuality applies to lossy formats when no quality is given.
const DefaultQuality = 80

// webpMethod trades encode speed for size (0 fastest, 6 smallest).
const webpMethod = 4

var mimeTypes = map[Format]string{
	FormatPNG:  "image/png",
	FormatJPEG: "image/jpeg",
	FormatWebP: "image/webp",
}

// ParseFormat normalizes a user supplied format name. "jpg" is accepted for JPEG.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	if f == "jpg" {
		f = FormatJPEG
	}
	if _, ok := mimeTypes[f]; !ok {
		return "", &apperrors.UnsupportedFormatError{Format: name}
	}
	return f, nil
}

// MimeTypeFor maps a format to its MIME type.
func MimeTypeFor(format Format) (string, error) {
	mime, ok := mimeTypes[format]
	if !ok {
		return "", &apperrors.UnsupportedFormatError{Format: string(format)}
	}
	return mime, nil
}

// Encoded is a converted image with the dimensions of its source raster.
type Encoded struct {
	Data     []byte
	Width    int
	Height   int
	MimeType string
}

// Convert re-encodes a PNG raster. PNG output returns raw unchanged and ignores quality.
// A quality of 0 selects DefaultQuality.
func Convert(raw []byte, format Format, quality int) (Encoded, error) {
	mime, err := MimeTypeFor(format)
	if err != nil {
		return Encoded{}, err
	}
	if quality == 0 {
		quality = DefaultQuality
	}
	if quality < 1 || quality > 100 {
		verr := &apperrors.ValidationError{}
		verr.Add("quality", "must be between 1 and 100")
		return Encoded{}, verr
	}

	if format == FormatPNG {
		cfg, err := png.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return Encoded{}, fmt.Errorf("reading raster header: %w", err)
		}
		return Encoded{Data: raw, Width: cfg.Width, Height: cfg.Height, MimeType: mime}, nil
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return Encoded{}, fmt.Errorf("decoding raster: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality})
	case FormatWebP:
		err = webp.Encode(&buf, img, webp.Options{Quality: quality, Method: webpMethod})
	}
	if err != nil {
		return Encoded{}, fmt.Errorf("encoding %s: %w", format, err)
	}

	bounds := img.Bounds()
	return Encoded{Data: buf.Bytes(), Width: bounds.Dx(), Height: bounds.Dy(), MimeType: mime}, nil
}

// flatten composites img over white. JPEG has no alpha channel and would otherwise
// render transparent regions black.
func flatten(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Over)
	return dst
}
