// Package images - provides glyph geometry and the image operations used to
// prepare captcha images for the detection head.
package images

import (
	"image"
	"image/color"
	"runtime"
	"sync"
)

// Grayscale converts an image to 8-bit grayscale using ITU-R BT.601 luma
// weights, the same weights OpenCV applies for BGR2GRAY.
//
// Arguments:
// - img: The source image to convert.
//
// Returns:
// - A new *image.Gray with the same bounds.
//
// @example
// gray := Grayscale(colorImage)
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	dst := image.NewGray(bounds)

	const (
		redWeight   = 0.299
		greenWeight = 0.587
		blueWeight  = 0.114
	)

	Parallel(bounds.Dy(), func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			srcY := bounds.Min.Y + y
			for x := 0; x < width; x++ {
				srcX := bounds.Min.X + x
				r, g, b, _ := img.At(srcX, srcY).RGBA()

				// RGBA() returns 16-bit values.
				luma := float64(r)*redWeight + float64(g)*greenWeight + float64(b)*blueWeight
				dst.SetGray(srcX, srcY, color.Gray{Y: uint8(Clamp(luma/257+0.5, 0, 255))})
			}
		}
	})

	return dst
}

// Clamp restricts a value to the range [min, max].
//
// @example
// clamped := Clamp(300.5, 0, 255) // Returns 255
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Parallel executes a function in parallel across multiple goroutines.
//
// Arguments:
// - dataSize: The size of the data to process.
// - fn: Function to execute for each partition (receives start and end indices).
//
// @example
//
//	Parallel(height, func(start, end int) {
//	    for y := start; y < end; y++ {
//	        // Process row y
//	    }
//	})
func Parallel(dataSize int, fn func(partStart, partEnd int)) {
	numGoroutines := runtime.NumCPU()

	// Small inputs are processed serially.
	if dataSize < numGoroutines*2 {
		fn(0, dataSize)
		return
	}

	partSize := dataSize / numGoroutines

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		partStart := i * partSize
		partEnd := partStart + partSize

		// Last partition gets any remaining data.
		if i == numGoroutines-1 {
			partEnd = dataSize
		}

		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(partStart, partEnd)
	}

	wg.Wait()
}
