package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
)

const jpegExt = ".jpg"

var ErrEmptyName = errors.New("artifact name is empty")

// JPEGEncoder writes images as <dir>/<name>.jpg.
//
// The zero value is ready to use. Writes go to a temp file in dir which is
// renamed into place, so readers never observe a partial artifact.
type JPEGEncoder struct {
	// DirMode is used when creating missing directories (default 0755).
	DirMode os.FileMode
}

func (e JPEGEncoder) Encode(ctx context.Context, img image.Image, dir, name string, quality int) (string, error) {
	if img == nil {
		return "", errors.New("encode: nil image")
	}
	if name == "" {
		return "", ErrEmptyName
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	mode := e.DirMode
	if mode == 0 {
		mode = 0o755
	}
	if err := os.MkdirAll(dir, mode); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(dir, name+jpegExt)
	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		_ = f.Close()
		cleanup()
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return "", fmt.Errorf("rename artifact: %w", err)
	}
	return path, nil
}
