package imagefilter

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"github.com/mxngoc2104/thumbd/pkg/accel"
)

var (
	// ErrDecode is returned when a source image cannot be decoded
	ErrDecode = errors.New("image decode failed")

	// ErrProcessing is returned when thresholding, resizing or encoding fails
	ErrProcessing = errors.New("image processing failed")
)

// ContentType of every thumbnail produced
const ContentType = "image/jpeg"

// FilterConfig holds the thumbnail parameters
type FilterConfig struct {
	Width     int   // Thumbnail width in pixels
	Height    int   // Thumbnail height in pixels
	Threshold uint8 // Binary threshold cutoff
}

// DefaultFilterConfig returns the 32x32 thumbnail with a cutoff of 128
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Width:     32,
		Height:    32,
		Threshold: 128,
	}
}

// Thumbnail is an encoded, binary-thresholded thumbnail
type Thumbnail struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Accelerated bool
}

// Processor produces thumbnails. It holds no per-job state and is safe for
// concurrent use.
type Processor struct {
	config FilterConfig
}

// NewProcessor creates a processor for the given config
func NewProcessor(config FilterConfig) *Processor {
	return &Processor{config: config}
}

// Config returns the processor configuration
func (p *Processor) Config() FilterConfig {
	return p.config
}

// Load decodes the image at path into a single-channel image.
func Load(path string) (*image.Gray, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	gray := toGray(effect.Grayscale(src))
	if gray.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s: empty image", ErrDecode, path)
	}
	return gray, nil
}

// toGray keeps one channel of an already desaturated image
func toGray(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, y):]
		dst := gray.Pix[gray.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = src[4*x]
		}
	}
	return gray
}

// Binarize applies the binary threshold. With a handle the accelerated
// kernel thresholds its uploaded copy (level and above become white);
// otherwise values strictly above the level become white.
func (p *Processor) Binarize(src *image.Gray, handle accel.Handle) (img image.Image, err error) {
	if handle == nil {
		level := p.config.Threshold
		return imaging.AdjustFunc(src, func(c color.NRGBA) color.NRGBA {
			v := uint8(0)
			if c.R > level {
				v = 255
			}
			return color.NRGBA{R: v, G: v, B: v, A: 255}
		}), nil
	}

	defer recoverProcessing(&err)
	img, err = handle.Binarize(p.config.Threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold: %v", ErrProcessing, err)
	}
	return img, nil
}

// Thumbnail thresholds, resizes and encodes src as JPEG. The accelerated
// and fallback paths produce identical dimensions and format, but pixel
// values may differ slightly.
func (p *Processor) Thumbnail(src *image.Gray, handle accel.Handle) (thumb Thumbnail, err error) {
	if src == nil || src.Bounds().Empty() {
		return Thumbnail{}, fmt.Errorf("%w: empty source image", ErrDecode)
	}

	binary, err := p.Binarize(src, handle)
	if err != nil {
		return Thumbnail{}, err
	}

	var resized image.Image
	if handle == nil {
		resized = imaging.Resize(binary, p.config.Width, p.config.Height, imaging.Linear)
	} else {
		resized, err = p.resizeAccelerated(handle, binary)
		if err != nil {
			return Thumbnail{}, err
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG); err != nil {
		return Thumbnail{}, fmt.Errorf("%w: encode: %v", ErrProcessing, err)
	}
	if buf.Len() == 0 {
		return Thumbnail{}, fmt.Errorf("%w: encoder produced no data", ErrProcessing)
	}

	return Thumbnail{
		Data:        buf.Bytes(),
		ContentType: ContentType,
		Width:       p.config.Width,
		Height:      p.config.Height,
		Accelerated: handle != nil,
	}, nil
}

func (p *Processor) resizeAccelerated(handle accel.Handle, img image.Image) (out image.Image, err error) {
	defer recoverProcessing(&err)
	out, err = handle.Resize(img, p.config.Width, p.config.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: resize: %v", ErrProcessing, err)
	}
	return out, nil
}

// recoverProcessing turns a panic inside an accelerated kernel into ErrProcessing
func recoverProcessing(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: accelerator panic: %v", ErrProcessing, r)
	}
}
