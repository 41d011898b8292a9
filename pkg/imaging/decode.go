// Package imaging holds the image utilities shared by the recognizer: decoding, resizing,
// quality assessment, color histograms and augmentation.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/draw"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/models"
)

var log = internal.GetLogger()

// Load decodes the image file at path.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewInvalidInputError(fmt.Sprintf("open image %s: %v", path, err))
	}
	defer f.Close()
	return decode(f, path)
}

// Decode decodes an in-memory image.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, models.NewInvalidInputError("empty image")
	}
	return decode(bytes.NewReader(data), "image bytes")
}

func decode(r io.Reader, name string) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, models.NewInvalidInputError(fmt.Sprintf("decode %s: %v", name, err))
	}
	log.Tracef("decoded %s as %s %dx%d", name, format, img.Bounds().Dx(), img.Bounds().Dy())
	return img, nil
}

// Resize scales img to exactly w×h RGBA. Aspect ratio is not preserved, matching the
// fixed square network input.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, img, img.Bounds(), draw.Src, nil)
	return dst
}

// ToRGBA converts any image to RGBA without scaling.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// Encode writes img as PNG or JPEG depending on mimetype.
func Encode(w io.Writer, img image.Image, mimetype string) error {
	switch mimetype {
	case "image/jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case "image/png":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("unsupported mimetype %s", mimetype)
	}
}
