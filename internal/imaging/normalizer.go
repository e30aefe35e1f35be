// Package imaging converts uploaded image bytes into the fixed-shape float32
// tensor the detection backend expects. It is pure: no I/O, no state.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when the input bytes are not a decodable image
var ErrDecode = errors.New("failed to decode image")

// ImageNet per-channel normalization constants, matching the constants the
// detection model was trained with.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Tensor is a batch-1, channel-first float32 tensor of shape [1,3,H,W].
// Ephemeral: built per analysis attempt and never persisted.
type Tensor struct {
	Data   []float32
	Height int
	Width  int
}

// Shape returns the NCHW shape of the tensor
func (t *Tensor) Shape() [4]int {
	return [4]int{1, 3, t.Height, t.Width}
}

// At returns the value at channel c, row y, column x
func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[c*t.Height*t.Width+y*t.Width+x]
}

// Validate checks the hard shape contract with the detection backend
func (t *Tensor) Validate(size int) error {
	if t.Height != size || t.Width != size {
		return fmt.Errorf("tensor shape [1,3,%d,%d] does not match required [1,3,%d,%d]",
			t.Height, t.Width, size, size)
	}
	if len(t.Data) != 3*size*size {
		return fmt.Errorf("tensor has %d values, want %d", len(t.Data), 3*size*size)
	}
	return nil
}

// Normalize decodes raw image bytes and produces the model input tensor:
//
//  1. decode (jpeg/png/gif/webp)
//  2. force 3-channel RGB (alpha dropped, grayscale expanded)
//  3. bilinear resize to size x size, aspect ratio not preserved
//  4. scale to [0,1] and apply per-channel mean/std normalization
//  5. reorder HWC -> CHW with an implicit batch dimension of 1
//
// The resize deliberately ignores aspect ratio to match the reference model's
// preprocessing; a letterbox variant would change what the model sees.
func Normalize(imageBytes []byte, size int) (*Tensor, error) {
	src, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	// RGBA gives a flat 8-bit buffer regardless of the source color model.
	scaled := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)

	t := &Tensor{
		Data:   make([]float32, 3*size*size),
		Height: size,
		Width:  size,
	}

	plane := size * size
	for y := 0; y < size; y++ {
		row := scaled.Pix[y*scaled.Stride : y*scaled.Stride+size*4]
		for x := 0; x < size; x++ {
			r := float32(row[x*4]) / 255.0
			g := float32(row[x*4+1]) / 255.0
			b := float32(row[x*4+2]) / 255.0

			idx := y*size + x
			t.Data[idx] = (r - Mean[0]) / Std[0]
			t.Data[plane+idx] = (g - Mean[1]) / Std[1]
			t.Data[2*plane+idx] = (b - Mean[2]) / Std[2]
		}
	}

	return t, nil
}
