package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/Brownie44l1/crop-disease-api/internal/errors"
	"github.com/Brownie44l1/crop-disease-api/internal/model"
)

// DefaultMaxPixels bounds the decoded size of an upload (width * height).
const DefaultMaxPixels = 50_000_000

// Options configures a Normalizer.
type Options struct {
	// Size is the side of the square output; zero means model.DefaultImageSize.
	Size int
	// MaxPixels rejects images whose header declares more pixels; zero means
	// DefaultMaxPixels.
	MaxPixels int64
	Logger    *slog.Logger
	// OnCleanupError is called after a failed removal has been logged.
	OnCleanupError func(path string, err error)
}

type Normalizer struct {
	size           int
	maxPixels      int64
	logger         *slog.Logger
	onCleanupError func(path string, err error)
}

func NewNormalizer(opts Options) *Normalizer {
	if opts.Size <= 0 {
		opts.Size = model.DefaultImageSize
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Normalizer{
		size:           opts.Size,
		maxPixels:      opts.MaxPixels,
		logger:         opts.Logger,
		onCleanupError: opts.OnCleanupError,
	}
}

// Size returns the output side length.
func (n *Normalizer) Size() int {
	return n.size
}

// Normalize reads the image at path and returns its [1,size,size,1] tensor.
//
// The file at path is removed before Normalize returns, whether decoding
// succeeded or not, and also when ctx is already done. Removal happens once,
// after the file has been read and closed. A failed removal is logged at
// WARN level and reported to OnCleanupError; it never fails the call.
func (n *Normalizer) Normalize(ctx context.Context, path string) (model.Tensor, error) {
	defer n.cleanup(path)

	if err := ctx.Err(); err != nil {
		return model.Tensor{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return model.Tensor{}, apperrors.Wrap(apperrors.KindStorage, "normalize", "open upload", err)
	}
	defer f.Close()

	return n.LoadAndNormalize(ctx, f)
}

// LoadAndNormalize decodes r and converts it without touching the
// filesystem. The image header is checked against the pixel budget before
// any pixel data is decoded.
func (n *Normalizer) LoadAndNormalize(ctx context.Context, r io.Reader) (model.Tensor, error) {
	var header bytes.Buffer
	cfg, format, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return model.Tensor{}, apperrors.Wrap(apperrors.KindDecode, "decode", "not a readable image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return model.Tensor{}, apperrors.New(apperrors.KindDecode, "decode", "image has no pixels")
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > n.maxPixels {
		return model.Tensor{}, apperrors.New(apperrors.KindDecode, "decode",
			fmt.Sprintf("%dx%d %s image exceeds the %d pixel limit", cfg.Width, cfg.Height, format, n.maxPixels))
	}

	img, format, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return model.Tensor{}, apperrors.Wrap(apperrors.KindDecode, "decode", "not a readable image", err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return model.Tensor{}, apperrors.New(apperrors.KindDecode, "decode", "image has no pixels")
	}
	n.logger.Debug("decoded image", "format", format, "width", bounds.Dx(), "height", bounds.Dy())

	if err := ctx.Err(); err != nil {
		return model.Tensor{}, err
	}

	return n.FromImage(img), nil
}

// FromImage converts an already decoded image. Resampling samples the 2x2
// neighbourhood around each half-pixel centre, as OpenCV's INTER_LINEAR does,
// at any scale factor.
func (n *Normalizer) FromImage(img image.Image) model.Tensor {
	gray := ToBGR(img).Gray()

	resized := image.NewGray(image.Rect(0, 0, n.size, n.size))
	draw.ApproxBiLinear.Scale(resized, resized.Bounds(), gray, gray.Bounds(), draw.Src, nil)

	t := model.NewTensor(1, int64(n.size), int64(n.size), 1)
	for y := 0; y < n.size; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+n.size]
		for x, v := range row {
			t.Data[y*n.size+x] = float32(v) / 255
		}
	}
	return t
}

// Cleanup removes a staged upload. A file that is already gone is not an
// error.
func Cleanup(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (n *Normalizer) cleanup(path string) {
	err := Cleanup(path)
	if err == nil {
		return
	}
	n.logger.Warn("could not remove uploaded file", "path", path, "error", err)
	if n.onCleanupError != nil {
		n.onCleanupError(path, err)
	}
}
