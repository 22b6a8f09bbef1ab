package imaging

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnknownFormat = errors.New("unknown image format")
	ErrTooLarge      = errors.New("image dimensions exceed limit")
)

// DefaultMaxPixels bounds width*height of decoded images (50 MP).
const DefaultMaxPixels = 50_000_000

// Decode sniffs the format of data and decodes it. The header is checked
// first so an image declaring more than maxPixels pixels is rejected before
// any pixel buffer is allocated. maxPixels <= 0 means DefaultMaxPixels.
func Decode(data []byte, maxPixels int64) (image.Image, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > maxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d is over %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnknownFormat
		}
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// DecodeConfig reads only the header of r.
func DecodeConfig(r io.Reader) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bufio.NewReader(r))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return image.Config{}, "", ErrUnknownFormat
		}
		return image.Config{}, "", fmt.Errorf("decode image config: %w", err)
	}
	return cfg, format, nil
}
