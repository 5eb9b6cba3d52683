package benchmark

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mxngoc2104/thumbd/pkg/accel"
	"github.com/mxngoc2104/thumbd/pkg/imagefilter"
)

func source() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 128, 96))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 256)
	}
	img.SetGray(0, 0, color.Gray{Y: 255})
	return img
}

func TestBothPathsRun(t *testing.T) {
	p := imagefilter.NewProcessor(imagefilter.DefaultFilterConfig())

	fallback, err := RunFallbackBenchmark(p, source(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, fallback.Iterations)
	assert.Positive(t, fallback.Bytes)
	assert.Equal(t, "fallback", fallback.Path)

	accelerated, err := RunAcceleratedBenchmark(context.Background(), p, accel.NewParallelDevice(1), source(), 3)
	require.NoError(t, err)
	assert.Equal(t, "bild-parallel", accelerated.Path)
	assert.Equal(t, 3, accelerated.Iterations)

	summary := GeneratePerformanceSummary(fallback, accelerated)
	assert.Contains(t, summary, "fallback: 3 thumbnails")
	assert.Contains(t, summary, "Improvement:")
}

func TestCalculateImprovement(t *testing.T) {
	base := BenchmarkResult{Iterations: 10, TotalTime: 100 * time.Millisecond}
	fast := BenchmarkResult{Iterations: 10, TotalTime: 25 * time.Millisecond}
	assert.InDelta(t, 75.0, CalculateImprovement(base, fast), 0.001)
	assert.Zero(t, CalculateImprovement(BenchmarkResult{}, fast))
}
