package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newImageTest(t *testing.T) (*Image, *PendingPhoto, string) {
	t.Helper()
	_, _, root, store := newFilesTest(t)
	pending := &PendingPhoto{}
	return NewImage(store, pending), pending, root
}

// writeTestPNG writes a white w×h image whose top-left pixel is red.
func writeTestPNG(t *testing.T, root, rel string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, root, rel, buf.String())
}

func decodeTestImage(t *testing.T, root, rel string) (image.Image, string) {
	t.Helper()
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	return img, format
}

func runImage(t *testing.T, tool *Image, args map[string]any) string {
	t.Helper()
	out, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("Execute(%v): %v", args, err)
	}
	return out
}

func TestImage_Rejections(t *testing.T) {
	tool, pending, root := newImageTest(t)
	writeTestFile(t, root, "notes.txt", "hello")

	tests := []struct {
		args map[string]any
		want string
	}{
		{map[string]any{"operation": "info", "disk": "s3", "path": "a.png"}, "Disk 's3' is not allowed."},
		{map[string]any{"operation": "info", "disk": "local", "path": "../a.png"}, "Path traversal is not allowed."},
		{map[string]any{"operation": "info", "disk": "local", "path": "missing.png"}, "File not found: missing.png"},
		{map[string]any{"operation": "info", "disk": "local", "path": "notes.txt"}, "Not an image file: notes.txt"},
		{map[string]any{"operation": "blur", "disk": "local", "path": "notes.txt"}, "Unknown operation 'blur'."},
	}
	for _, tt := range tests {
		if got := runImage(t, tool, tt.args); !strings.HasPrefix(got, tt.want) {
			t.Errorf("%v: got %q, want prefix %q", tt.args, got, tt.want)
		}
	}
	if _, p := pending.Get(); p != "" {
		t.Errorf("rejections set a pending photo: %q", p)
	}
}

func TestImage_Info(t *testing.T) {
	tool, pending, root := newImageTest(t)
	writeTestPNG(t, root, "pics/cat.png", 40, 20)

	out := runImage(t, tool, map[string]any{"operation": "info", "disk": "local", "path": "pics/cat.png"})
	var info struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		MIME   string `json:"mime"`
		Size   int    `json:"size"`
	}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("info = %q: %v", out, err)
	}
	if info.Width != 40 || info.Height != 20 || info.MIME != "image/png" || info.Size == 0 {
		t.Errorf("info = %+v", info)
	}
	if _, p := pending.Get(); p != "" {
		t.Errorf("info set a pending photo: %q", p)
	}
}

func TestImage_ResizeKeepsAspectRatio(t *testing.T) {
	tool, pending, root := newImageTest(t)
	writeTestPNG(t, root, "cat.png", 40, 20)

	if got := runImage(t, tool, map[string]any{"operation": "resize", "disk": "local", "path": "cat.png"}); !strings.Contains(got, "width") {
		t.Errorf("missing size: %q", got)
	}

	got := runImage(t, tool, map[string]any{"operation": "resize", "disk": "local", "path": "cat.png", "width": 10})
	if got != "Resized to 10x5, saved as cat_resized.png." {
		t.Errorf("resize = %q", got)
	}
	img, _ := decodeTestImage(t, root, "cat_resized.png")
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Errorf("bounds = %v", b)
	}
	if disk, p := pending.Get(); disk != "local" || p != "cat_resized.png" {
		t.Errorf("pending = %s:%s", disk, p)
	}
}

func TestImage_CropNeedsBothDimensions(t *testing.T) {
	tool, _, root := newImageTest(t)
	writeTestPNG(t, root, "cat.png", 40, 20)

	if got := runImage(t, tool, map[string]any{"operation": "crop", "disk": "local", "path": "cat.png", "width": 10}); !strings.Contains(got, "Both") {
		t.Errorf("crop with width only = %q", got)
	}
	got := runImage(t, tool, map[string]any{"operation": "crop", "disk": "local", "path": "cat.png", "width": 10, "height": 100})
	if got != "Cropped to 10x20, saved as cat_cropped.png." {
		t.Errorf("crop = %q", got)
	}
}

func TestImage_OrientRotatesClockwise(t *testing.T) {
	tool, pending, root := newImageTest(t)
	writeTestPNG(t, root, "cat.png", 4, 2)

	if got := runImage(t, tool, map[string]any{"operation": "orient", "disk": "local", "path": "cat.png", "orientation": "sideways"}); !strings.HasPrefix(got, "Unknown orientation") {
		t.Errorf("bad orientation = %q", got)
	}

	got := runImage(t, tool, map[string]any{"operation": "orient", "disk": "local", "path": "cat.png", "orientation": "rotate_90"})
	if got != "Applied rotate_90, saved as cat_rotate_90.png." {
		t.Errorf("orient = %q", got)
	}
	img, _ := decodeTestImage(t, root, "cat_rotate_90.png")
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 4 {
		t.Fatalf("bounds = %v", b)
	}
	// The red top-left corner ends up top-right.
	if r, g, _, _ := img.At(1, 0).RGBA(); r != 0xffff || g != 0 {
		t.Errorf("pixel (1,0) = %v", img.At(1, 0))
	}
	if _, p := pending.Get(); p != "cat_rotate_90.png" {
		t.Errorf("pending = %q", p)
	}
}

func TestImage_Convert(t *testing.T) {
	tool, pending, root := newImageTest(t)
	writeTestPNG(t, root, "cat.png", 8, 8)

	if got := runImage(t, tool, map[string]any{"operation": "convert", "disk": "local", "path": "cat.png", "format": "webp"}); !strings.Contains(got, "Allowed: jpg") {
		t.Errorf("webp = %q", got)
	}

	got := runImage(t, tool, map[string]any{"operation": "convert", "disk": "local", "path": "cat.png", "format": "JPEG"})
	if got != "Converted cat.png to cat.jpg." {
		t.Errorf("convert = %q", got)
	}
	if _, format := decodeTestImage(t, root, "cat.jpg"); format != "jpeg" {
		t.Errorf("format = %s", format)
	}
	if _, p := pending.Get(); p != "cat.jpg" {
		t.Errorf("pending = %q", p)
	}
}

func TestImage_Optimize(t *testing.T) {
	tool, _, root := newImageTest(t)
	writeTestPNG(t, root, "cat.png", 8, 8)

	got := runImage(t, tool, map[string]any{"operation": "optimize", "disk": "local", "path": "cat.png", "quality": 500})
	if !strings.HasPrefix(got, "Optimized, saved as cat_optimized.png. New size: ") {
		t.Errorf("optimize = %q", got)
	}
	decodeTestImage(t, root, "cat_optimized.png")
}
