package imagefilter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxngoc2104/thumbd/pkg/accel"
)

func writeGradient(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(((x + y) * 255) / (w + h))})
		}
	}
	path := filepath.Join(t.TempDir(), fmt.Sprintf("src_%dx%d.png", w, h))
	require.NoError(t, imaging.Save(img, path))
	return path
}

func openHandle(t *testing.T, src *image.Gray) accel.Handle {
	t.Helper()
	h, err := accel.NewParallelDevice(1).Open(context.Background(), src)
	require.NoError(t, err)
	t.Cleanup(h.Release)
	return h
}

func TestThumbnailDimensionsForAnyInputSize(t *testing.T) {
	p := NewProcessor(DefaultFilterConfig())
	for _, size := range [][2]int{{8, 8}, {32, 32}, {64, 64}, {200, 50}} {
		src, err := Load(writeGradient(t, size[0], size[1]))
		require.NoError(t, err)

		for _, accelerated := range []bool{false, true} {
			var h accel.Handle
			if accelerated {
				h = openHandle(t, src)
			}
			thumb, err := p.Thumbnail(src, h)
			require.NoError(t, err)
			assert.Equal(t, ContentType, thumb.ContentType)
			assert.Equal(t, accelerated, thumb.Accelerated)

			decoded, format, err := image.Decode(bytes.NewReader(thumb.Data))
			require.NoError(t, err)
			assert.Equal(t, "jpeg", format)
			assert.Equal(t, image.Rect(0, 0, 32, 32), decoded.Bounds(), "input %v accelerated=%v", size, accelerated)
		}
	}
}

func TestBinarizeProducesTwoLevels(t *testing.T) {
	p := NewProcessor(DefaultFilterConfig())
	src, err := Load(writeGradient(t, 64, 64))
	require.NoError(t, err)

	for _, h := range []accel.Handle{nil, openHandle(t, src)} {
		out, err := p.Binarize(src, h)
		require.NoError(t, err)
		b := out.Bounds()
		assert.Equal(t, src.Bounds(), b)
		seen := map[uint32]bool{}
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := out.At(x, y).RGBA()
				require.Contains(t, []uint32{0, 0xffff}, r)
				assert.Equal(t, r, g)
				assert.Equal(t, r, bl)
				seen[r] = true
			}
		}
		assert.Len(t, seen, 2)
	}
}

func TestFallbackThresholdIsStrict(t *testing.T) {
	p := NewProcessor(DefaultFilterConfig())
	src := image.NewGray(image.Rect(0, 0, 3, 1))
	src.Pix = []uint8{127, 128, 129}

	out, err := p.Binarize(src, nil)
	require.NoError(t, err)
	nrgba := out.(*image.NRGBA)
	assert.Equal(t, uint8(0), nrgba.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(0), nrgba.NRGBAAt(1, 0).R)
	assert.Equal(t, uint8(255), nrgba.NRGBAAt(2, 0).R)
}

func TestThumbnailIsDeterministic(t *testing.T) {
	p := NewProcessor(DefaultFilterConfig())
	src, err := Load(writeGradient(t, 48, 40))
	require.NoError(t, err)

	a, err := p.Thumbnail(src, nil)
	require.NoError(t, err)
	b, err := p.Thumbnail(src, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestLoadDecodeErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, ErrDecode)

	corrupt := filepath.Join(t.TempDir(), "corrupt.jpg")
	require.NoError(t, os.WriteFile(corrupt, []byte("not an image"), 0o644))
	_, err = Load(corrupt)
	assert.ErrorIs(t, err, ErrDecode)
}

type brokenHandle struct {
	binarizeErr error
	panicResize bool
}

func (h brokenHandle) Binarize(uint8) (image.Image, error) {
	if h.binarizeErr != nil {
		return nil, h.binarizeErr
	}
	return image.NewGray(image.Rect(0, 0, 4, 4)), nil
}

func (h brokenHandle) Resize(image.Image, int, int) (image.Image, error) {
	if h.panicResize {
		panic("device lost")
	}
	return image.NewGray(image.Rect(0, 0, 32, 32)), nil
}

func (brokenHandle) Release() {}

func TestAcceleratedFailuresAreProcessingErrors(t *testing.T) {
	p := NewProcessor(DefaultFilterConfig())
	src := image.NewGray(image.Rect(0, 0, 4, 4))

	_, err := p.Thumbnail(src, brokenHandle{binarizeErr: errors.New("out of device memory")})
	assert.ErrorIs(t, err, ErrProcessing)

	_, err = p.Thumbnail(src, brokenHandle{panicResize: true})
	assert.ErrorIs(t, err, ErrProcessing)

	_, err = p.Thumbnail(src, openReleased(t, src))
	assert.ErrorIs(t, err, ErrProcessing)
}

func openReleased(t *testing.T, src *image.Gray) accel.Handle {
	h, err := accel.NewParallelDevice(1).Open(context.Background(), src)
	require.NoError(t, err)
	h.Release()
	return h
}

func TestThumbnailRejectsEmptySource(t *testing.T) {
	_, err := NewProcessor(DefaultFilterConfig()).Thumbnail(image.NewGray(image.Rect(0, 0, 0, 0)), nil)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestLoadKeepsGrayLevels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	copy(img.Pix, []uint8{0, 64, 128, 192, 230, 255})
	path := filepath.Join(t.TempDir(), "levels.png")
	require.NoError(t, imaging.Save(img, path))

	gray, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), gray.Bounds())
	for i, want := range []uint8{0, 64, 128, 192, 230, 255} {
		assert.InDelta(t, want, gray.Pix[i], 1, "pixel %d", i)
	}
}
