package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path"
	"slices"
	"strings"
	"sync"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"clawgate/internal/attachment"
	"clawgate/internal/domain"
)

// MaxImageBytes caps the images the image tool loads.
const MaxImageBytes = 20 << 20

var (
	imageExtensions = []string{"jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff", "tif"}
	convertFormats  = []string{"jpg", "png", "gif", "bmp", "tiff"}
	orientations    = []string{"rotate_90", "rotate_180", "rotate_270", "flip_horizontal", "flip_vertical"}
)

// PendingPhoto holds the image a task should send after its reply.
type PendingPhoto struct {
	mu   sync.Mutex
	disk string
	path string
}

// Set records the image at path on disk, replacing any earlier one.
func (p *PendingPhoto) Set(disk, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disk, p.path = disk, path
}

// Get returns the recorded image; path is empty when there is none.
func (p *PendingPhoto) Get() (disk, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disk, p.path
}

type imageArgs struct {
	Operation   string `json:"operation" validate:"required"`
	Disk        string `json:"disk" validate:"required"`
	Path        string `json:"path" validate:"required"`
	Width       int    `json:"width" validate:"gte=0,lte=10000"`
	Height      int    `json:"height" validate:"gte=0,lte=10000"`
	Format      string `json:"format"`
	Quality     int    `json:"quality"`
	Orientation string `json:"orientation"`
}

// Image inspects and transforms images on the allowed disks. Every write
// operation records its output so the task sends it to the user.
type Image struct {
	store   *attachment.Store
	pending *PendingPhoto
	ops     *OperationTable[imageArgs]
}

func NewImage(store *attachment.Store, pending *PendingPhoto) *Image {
	t := &Image{store: store, pending: pending}
	t.ops = NewOperationTable[imageArgs](nil,
		Operation[imageArgs]{Name: "info", Run: t.info},
		Operation[imageArgs]{Name: "resize", Run: t.resize},
		Operation[imageArgs]{Name: "crop", Run: t.crop},
		Operation[imageArgs]{Name: "orient", Run: t.orient},
		Operation[imageArgs]{Name: "convert", Run: t.convert},
		Operation[imageArgs]{Name: "optimize", Run: t.optimize},
	)
	return t
}

func (t *Image) Name() string { return "image" }

func (t *Image) Description() string {
	return fmt.Sprintf("Work with images: get info, resize, crop, orient, convert, optimize. Allowed disks: %s. Operations: %s. "+
		"After any write operation the resulting image is automatically sent to the user; do NOT say you cannot send files.",
		strings.Join(t.store.AllowedDisks(), ", "), strings.Join(t.ops.Names(), ", "))
}

func (t *Image) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"operation":   {Type: "string", Description: "The operation to perform: " + strings.Join(t.ops.Names(), ", "), Enum: t.ops.Names()},
		"disk":        {Type: "string", Description: "The storage disk to use"},
		"path":        {Type: "string", Description: "The image file path"},
		"width":       {Type: "integer", Description: "For resize/crop: target width in pixels"},
		"height":      {Type: "integer", Description: "For resize/crop: target height in pixels"},
		"format":      {Type: "string", Description: "For convert: target format (" + strings.Join(convertFormats, ", ") + ")"},
		"quality":     {Type: "integer", Description: "For optimize: JPEG quality 1-100"},
		"orientation": {Type: "string", Description: "For orient: " + strings.Join(orientations, ", ")},
	}, []string{"operation", "disk", "path"})
}

func (t *Image) Execute(ctx context.Context, raw map[string]any) (string, error) {
	var args imageArgs
	if msg, err := DecodeArgs(raw, &args); msg != "" || err != nil {
		return msg, err
	}
	if _, err := t.store.Disk(args.Disk); err != nil {
		return fmt.Sprintf("Disk '%s' is not allowed. Allowed disks: %s", args.Disk, strings.Join(t.store.AllowedDisks(), ", ")), nil
	}
	if attachment.CheckPath(args.Path) != nil {
		return "Path traversal is not allowed.", nil
	}
	if !slices.Contains(t.ops.Names(), args.Operation) {
		return t.ops.Dispatch(ctx, args.Operation, raw, &args)
	}
	ok, err := t.store.Exists(ctx, args.Disk, args.Path)
	if err != nil {
		return "", err
	}
	if !ok {
		return "File not found: " + args.Path, nil
	}
	if !slices.Contains(imageExtensions, extension(args.Path)) {
		return "Not an image file: " + args.Path, nil
	}
	return t.ops.Dispatch(ctx, args.Operation, raw, &args)
}

func (t *Image) load(ctx context.Context, args *imageArgs) (image.Image, string, int, error) {
	data, err := t.store.ReadAll(ctx, args.Disk, args.Path, MaxImageBytes)
	if err != nil {
		return nil, "", 0, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", 0, fmt.Errorf("decode %s: %w", args.Path, err)
	}
	return img, format, len(data), nil
}

// save encodes img by the extension of target, writes it and records it as
// the reply photo.
func (t *Image) save(ctx context.Context, disk, target string, img image.Image, quality int) (int, error) {
	var buf bytes.Buffer
	if err := encodeImage(&buf, extension(target), img, quality); err != nil {
		return 0, err
	}
	size := buf.Len()
	if err := t.store.Put(ctx, disk, target, &buf, mimeByExtension(target)); err != nil {
		return 0, err
	}
	if t.pending != nil {
		t.pending.Set(disk, target)
	}
	return size, nil
}

func (t *Image) info(ctx context.Context, args *imageArgs) (string, error) {
	img, format, size, err := t.load(ctx, args)
	if err != nil {
		return imageFailure(err)
	}
	b := img.Bounds()
	return marshalIndent(map[string]any{
		"width":  b.Dx(),
		"height": b.Dy(),
		"mime":   "image/" + format,
		"size":   size,
	})
}

func (t *Image) resize(ctx context.Context, args *imageArgs) (string, error) {
	if args.Width == 0 && args.Height == 0 {
		return `At least one of "width" or "height" is required for resize.`, nil
	}
	img, _, _, err := t.load(ctx, args)
	if err != nil {
		return imageFailure(err)
	}
	b := img.Bounds()
	w, h := args.Width, args.Height
	switch {
	case w == 0:
		w = max(1, b.Dx()*h/b.Dy())
	case h == 0:
		h = max(1, b.Dy()*w/b.Dx())
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	target := suffixedPath(args.Path, "_resized")
	if _, err := t.save(ctx, args.Disk, target, dst, 100); err != nil {
		return imageFailure(err)
	}
	return fmt.Sprintf("Resized to %dx%d, saved as %s.", w, h, target), nil
}

func (t *Image) crop(ctx context.Context, args *imageArgs) (string, error) {
	if args.Width == 0 || args.Height == 0 {
		return `Both "width" and "height" are required for crop.`, nil
	}
	img, _, _, err := t.load(ctx, args)
	if err != nil {
		return imageFailure(err)
	}
	b := img.Bounds()
	w, h := min(args.Width, b.Dx()), min(args.Height, b.Dy())
	// Centered, like a thumbnail.
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(x0, y0), draw.Src)

	target := suffixedPath(args.Path, "_cropped")
	if _, err := t.save(ctx, args.Disk, target, dst, 100); err != nil {
		return imageFailure(err)
	}
	return fmt.Sprintf("Cropped to %dx%d, saved as %s.", w, h, target), nil
}

func (t *Image) orient(ctx context.Context, args *imageArgs) (string, error) {
	if args.Orientation == "" {
		return `The "orientation" parameter is required for orient.`, nil
	}
	if !slices.Contains(orientations, args.Orientation) {
		return fmt.Sprintf("Unknown orientation '%s'. Use: %s.", args.Orientation, strings.Join(orientations, ", ")), nil
	}
	img, _, _, err := t.load(ctx, args)
	if err != nil {
		return imageFailure(err)
	}
	target := suffixedPath(args.Path, "_"+args.Orientation)
	if _, err := t.save(ctx, args.Disk, target, reorient(img, args.Orientation), 100); err != nil {
		return imageFailure(err)
	}
	return fmt.Sprintf("Applied %s, saved as %s.", args.Orientation, target), nil
}

func (t *Image) convert(ctx context.Context, args *imageArgs) (string, error) {
	format := strings.ToLower(args.Format)
	if format == "jpeg" {
		format = "jpg"
	}
	if !slices.Contains(convertFormats, format) {
		return fmt.Sprintf(`The "format" parameter is required for convert. Allowed: %s.`, strings.Join(convertFormats, ", ")), nil
	}
	img, _, _, err := t.load(ctx, args)
	if err != nil {
		return imageFailure(err)
	}
	target := strings.TrimSuffix(args.Path, path.Ext(args.Path)) + "." + format
	if _, err := t.save(ctx, args.Disk, target, img, 100); err != nil {
		return imageFailure(err)
	}
	return fmt.Sprintf("Converted %s to %s.", args.Path, target), nil
}

func (t *Image) optimize(ctx context.Context, args *imageArgs) (string, error) {
	quality := 100
	if args.Quality != 0 {
		quality = max(1, min(100, args.Quality))
	}
	img, _, _, err := t.load(ctx, args)
	if err != nil {
		return imageFailure(err)
	}
	target := suffixedPath(args.Path, "_optimized")
	size, err := t.save(ctx, args.Disk, target, img, quality)
	if err != nil {
		return imageFailure(err)
	}
	return fmt.Sprintf("Optimized, saved as %s. New size: %d bytes.", target, size), nil
}

var errWebPEncode = errors.New("writing webp is not supported; convert to png or jpg first")

func encodeImage(buf *bytes.Buffer, ext string, img image.Image, quality int) error {
	switch ext {
	case "jpg", "jpeg":
		return jpeg.Encode(buf, img, &jpeg.Options{Quality: quality})
	case "png":
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if quality < 100 {
			enc.CompressionLevel = png.BestCompression
		}
		return enc.Encode(buf, img)
	case "gif":
		return gif.Encode(buf, img, nil)
	case "bmp":
		return bmp.Encode(buf, img)
	case "tif", "tiff":
		return tiff.Encode(buf, img, &tiff.Options{Compression: tiff.Deflate})
	case "webp":
		return errWebPEncode
	default:
		return fmt.Errorf("unsupported image format %q", ext)
	}
}

// reorient rotates clockwise or mirrors img.
func reorient(img image.Image, orientation string) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	var at func(x, y int) (int, int)
	switch orientation {
	case "rotate_90":
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		at = func(x, y int) (int, int) { return h - 1 - y, x }
	case "rotate_180":
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		at = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	case "rotate_270":
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		at = func(x, y int) (int, int) { return y, w - 1 - x }
	case "flip_horizontal":
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		at = func(x, y int) (int, int) { return w - 1 - x, y }
	default:
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		at = func(x, y int) (int, int) { return x, h - 1 - y }
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := at(x, y)
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func imageFailure(err error) (string, error) {
	switch {
	case errors.Is(err, attachment.ErrTooLarge):
		return fmt.Sprintf("Image is too large (max %d MB).", MaxImageBytes>>20), nil
	case errors.Is(err, errWebPEncode), errors.Is(err, image.ErrFormat):
		return "Image operation failed: " + err.Error(), nil
	}
	return "", err
}

func suffixedPath(p, suffix string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + suffix + ext
}

func extension(p string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

var _ domain.Tool = (*Image)(nil)
