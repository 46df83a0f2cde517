package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestResizeShrinksOversizedImages(t *testing.T) {
	data, err := Resize(pngBytes(t, 800, 400), 200)
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}

	img, err := Decode(data)
	if err != nil {
		t.Fatalf("resized payload does not decode: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 200 {
		t.Errorf("expected width 200, got %d", bounds.Dx())
	}
	if bounds.Dy() != 100 {
		t.Errorf("expected aspect-preserving height 100, got %d", bounds.Dy())
	}
}

func TestResizeKeepsSmallImages(t *testing.T) {
	data, err := Resize(pngBytes(t, 100, 60), 200)
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}

	img, err := Decode(data)
	if err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 100 || bounds.Dy() != 60 {
		t.Errorf("expected 100x60 untouched, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestResizeRejectsGarbage(t *testing.T) {
	if _, err := Resize([]byte("not an image"), 200); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestGrayscaleBoundsOutput(t *testing.T) {
	img, err := Decode(pngBytes(t, 1000, 500))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	gray := Grayscale(img, 256)
	bounds := gray.Bounds()
	if bounds.Dx() > 256 || bounds.Dy() > 256 {
		t.Errorf("expected output within 256px, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}
