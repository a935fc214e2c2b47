package features

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

// ErrImageTooLarge is returned for images whose header declares more pixels
// than the extractor's budget. Nothing is decoded in that case.
var ErrImageTooLarge = errors.New("image too large")

// ImageSize is the edge length of the square image fed to the deepfake model.
const ImageSize = 224

// ImageTensor is a [1, 224, 224, 3] RGB tensor in NHWC layout with values
// in [0, 1].
type ImageTensor struct {
	Data []float32

	// Synthetic is set when the upload could not be decoded and Data holds
	// random values instead. Cause says why.
	Synthetic bool
	Cause     error
}

// ImageShape is the tensor shape of ImageTensor.Data.
func ImageShape() []int64 {
	return []int64{1, ImageSize, ImageSize, 3}
}

// Image decodes the file at path into a model tensor. Video containers are
// not decoded and fall through to the substitute tensor like any other
// unreadable input.
func (e *Extractor) Image(path string) ImageTensor {
	limit := e.maxPixels
	if limit <= 0 {
		limit = DefaultMaxImagePixels
	}
	data, err := decodeImageFile(path, limit)
	if err == nil {
		return ImageTensor{Data: data}
	}
	sub := make([]float32, ImageSize*ImageSize*3)
	e.fillUniform(sub)
	return ImageTensor{Data: sub, Synthetic: true, Cause: err}
}

func decodeImageFile(path string, maxPixels int) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	// Decoders allocate the whole pixel buffer from the header, so the
	// declared size is checked before any pixel data is read.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	// The model input is square, so orienting after the resize gives the
	// same tensor and only touches ImageSize*ImageSize pixels.
	var scaled image.Image = resize(img)
	if o := exifOrientation(raw); o != 1 {
		scaled = orient(scaled, o)
	}
	return toTensor(scaled), nil
}

func resize(img image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, ImageSize, ImageSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// toTensor flattens a ImageSize x ImageSize image to RGB floats in [0, 1].
func toTensor(img image.Image) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, ImageSize*ImageSize*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			out = append(out, float32(c.R)/255, float32(c.G)/255, float32(c.B)/255)
		}
	}
	return out
}

// exifOrientation returns the EXIF orientation tag, or 1 when the image has
// none.
func exifOrientation(raw []byte) int {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

// orient rotates or flips img so that it displays upright.
func orient(img image.Image, orientation int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	var mapXY func(x, y int) (int, int)

	switch orientation {
	case 2: // mirror horizontal
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		mapXY = func(x, y int) (int, int) { return w - 1 - x, y }
	case 3: // rotate 180
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		mapXY = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	case 4: // mirror vertical
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		mapXY = func(x, y int) (int, int) { return x, h - 1 - y }
	case 5: // transpose
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		mapXY = func(x, y int) (int, int) { return y, x }
	case 6: // rotate 90 cw
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		mapXY = func(x, y int) (int, int) { return h - 1 - y, x }
	case 7: // transverse
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		mapXY = func(x, y int) (int, int) { return h - 1 - y, w - 1 - x }
	case 8: // rotate 90 ccw
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		mapXY = func(x, y int) (int, int) { return y, w - 1 - x }
	default:
		return img
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := mapXY(x, y)
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
