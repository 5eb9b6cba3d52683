package benchmark

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"strings"
	"time"

	"github.com/mxngoc2104/thumbd/pkg/accel"
	"github.com/mxngoc2104/thumbd/pkg/imagefilter"
)

// BenchmarkResult represents the timing of one processing path
type BenchmarkResult struct {
	Path       string
	Iterations int
	TotalTime  time.Duration
	Bytes      int // Size of the last thumbnail
}

// PerIteration returns the mean time per thumbnail
func (r BenchmarkResult) PerIteration() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.TotalTime / time.Duration(r.Iterations)
}

// CPUInfo holds information about the CPU
type CPUInfo struct {
	Cores       int
	Threads     int
	UseParallel bool
}

// GetCPUInfo returns information about the CPU
func GetCPUInfo() CPUInfo {
	return CPUInfo{
		Cores:       runtime.NumCPU(),
		Threads:     runtime.GOMAXPROCS(0),
		UseParallel: runtime.GOMAXPROCS(0) > 1,
	}
}

// RunFallbackBenchmark times the non-accelerated path
func RunFallbackBenchmark(p *imagefilter.Processor, src *image.Gray, iterations int) (BenchmarkResult, error) {
	return run("fallback", p, src, nil, iterations)
}

// RunAcceleratedBenchmark times the accelerated path. The source is
// uploaded once, as a worker does per job.
func RunAcceleratedBenchmark(ctx context.Context, p *imagefilter.Processor, device accel.Device, src *image.Gray, iterations int) (BenchmarkResult, error) {
	handle, err := device.Open(ctx, src)
	if err != nil {
		return BenchmarkResult{}, err
	}
	defer handle.Release()
	return run(device.Name(), p, src, handle, iterations)
}

func run(name string, p *imagefilter.Processor, src *image.Gray, handle accel.Handle, iterations int) (BenchmarkResult, error) {
	result := BenchmarkResult{Path: name}
	start := time.Now()
	for i := 0; i < iterations; i++ {
		thumb, err := p.Thumbnail(src, handle)
		if err != nil {
			return result, err
		}
		result.Bytes = len(thumb.Data)
		result.Iterations++
	}
	result.TotalTime = time.Since(start)
	return result, nil
}

// FormatBenchmarkResult formats a benchmark result for display
func FormatBenchmarkResult(result BenchmarkResult) string {
	return fmt.Sprintf("%s: %d thumbnails in %v (%v each, %d bytes)",
		result.Path, result.Iterations, result.TotalTime, result.PerIteration(), result.Bytes)
}

// CalculateImprovement calculates the percentage improvement between two benchmark results
func CalculateImprovement(baseline, improved BenchmarkResult) float64 {
	if baseline.PerIteration() == 0 {
		return 0
	}
	return 100 * (1 - float64(improved.PerIteration())/float64(baseline.PerIteration()))
}

// GeneratePerformanceSummary generates a human-readable comparison of both paths
func GeneratePerformanceSummary(fallback, accelerated BenchmarkResult) string {
	cpu := GetCPUInfo()
	var b strings.Builder
	fmt.Fprintf(&b, "Hardware: %d cores, %d threads, parallel=%t\n", cpu.Cores, cpu.Threads, cpu.UseParallel)
	fmt.Fprintf(&b, "%s\n%s\n", FormatBenchmarkResult(fallback), FormatBenchmarkResult(accelerated))
	fmt.Fprintf(&b, "Improvement: %.2f%%\n", CalculateImprovement(fallback, accelerated))
	if !cpu.UseParallel {
		b.WriteString("Single CPU: the accelerator probe reports unavailable in auto mode.\n")
	}
	return b.String()
}
