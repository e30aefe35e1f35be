package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNormalize_ShapeAndFiniteness(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
	}{
		{"square rgb", solidImage(64, 64, color.RGBA{R: 120, G: 80, B: 200, A: 255})},
		{"non-square", solidImage(640, 200, color.RGBA{R: 10, G: 250, B: 30, A: 255})},
		{"already target size", solidImage(224, 224, color.RGBA{R: 1, G: 2, B: 3, A: 255})},
		{"with alpha", solidImage(50, 50, color.RGBA{R: 200, G: 100, B: 50, A: 128})},
		{"grayscale", image.NewGray(image.Rect(0, 0, 33, 47))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := Normalize(encodePNG(t, tt.img), 224)
			require.NoError(t, err)

			assert.Equal(t, [4]int{1, 3, 224, 224}, tensor.Shape())
			require.Len(t, tensor.Data, 3*224*224)
			require.NoError(t, tensor.Validate(224))

			for i, v := range tensor.Data {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					t.Fatalf("non-finite value %f at index %d", v, i)
				}
			}
		})
	}
}

func TestNormalize_AppliesMeanStd(t *testing.T) {
	// A pure white image yields (1 - mean) / std on every pixel of each channel.
	tensor, err := Normalize(encodePNG(t, solidImage(10, 10, color.White)), 8)
	require.NoError(t, err)

	plane := 8 * 8
	for c := 0; c < 3; c++ {
		want := (1.0 - Mean[c]) / Std[c]
		for i := 0; i < plane; i++ {
			assert.InDelta(t, want, tensor.Data[c*plane+i], 1e-2)
		}
	}
}

func TestNormalize_ChannelOrder(t *testing.T) {
	// Pure red pixels: only the first channel plane should carry the high value.
	tensor, err := Normalize(encodePNG(t, solidImage(16, 16, color.RGBA{R: 255, A: 255})), 4)
	require.NoError(t, err)

	wantR := (1.0 - Mean[0]) / Std[0]
	wantG := (0.0 - Mean[1]) / Std[1]
	wantB := (0.0 - Mean[2]) / Std[2]

	assert.InDelta(t, wantR, float64(tensor.At(0, 2, 2)), 1e-2)
	assert.InDelta(t, wantG, float64(tensor.At(1, 2, 2)), 1e-2)
	assert.InDelta(t, wantB, float64(tensor.At(2, 2, 2)), 1e-2)
}

func TestNormalize_JPEGInput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(100, 60, color.RGBA{R: 90, G: 90, B: 90, A: 255}), nil))

	tensor, err := Normalize(buf.Bytes(), 224)
	require.NoError(t, err)
	assert.Equal(t, [4]int{1, 3, 224, 224}, tensor.Shape())
}

func TestNormalize_CorruptInput(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"truncated png", encodePNG(t, solidImage(10, 10, color.White))[:20]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := Normalize(tt.input, 224)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Nil(t, tensor)
		})
	}
}

func TestTensor_Validate(t *testing.T) {
	tensor := &Tensor{Data: make([]float32, 3*4*4), Height: 4, Width: 4}
	assert.NoError(t, tensor.Validate(4))
	assert.Error(t, tensor.Validate(224))

	short := &Tensor{Data: make([]float32, 5), Height: 4, Width: 4}
	assert.Error(t, short.Validate(4))
}
