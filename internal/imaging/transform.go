package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// MaxDimension bounds requested resize targets.
const MaxDimension = 10000

var ErrBadResize = errors.New("invalid resize spec")

// Resize scales an image with Catmull-Rom interpolation.
// When one side is zero it is derived from the other, keeping the aspect ratio.
type Resize struct {
	Width  int
	Height int
}

func (r Resize) Apply(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("resize: empty source image")
	}
	w, h := r.Width, r.Height
	switch {
	case w <= 0 && h <= 0:
		return img, nil
	case w <= 0:
		w = max(1, b.Dx()*h/b.Dy())
	case h <= 0:
		h = max(1, b.Dy()*w/b.Dx())
	}
	if w > MaxDimension || h > MaxDimension {
		return nil, fmt.Errorf("resize: %dx%d exceeds %d", w, h, MaxDimension)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}

func (r Resize) String() string { return fmt.Sprintf("resize(%dx%d)", r.Width, r.Height) }

// Grayscale converts an image to 8-bit gray.
type Grayscale struct{}

func (Grayscale) Apply(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	dst := image.NewGray(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst, nil
}

func (Grayscale) String() string { return "grayscale" }

// Transformer is the per-task processing contract shared with the task engine.
type Transformer interface {
	Apply(ctx context.Context, img image.Image) (image.Image, error)
}

// Chain applies transforms in order.
type Chain []Transformer

func (c Chain) Apply(ctx context.Context, img image.Image) (image.Image, error) {
	out := img
	for i, t := range c {
		var err error
		out, err = t.Apply(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if out == nil {
			return nil, fmt.Errorf("step %d: nil image", i)
		}
	}
	return out, nil
}

func (c Chain) String() string {
	parts := make([]string, 0, len(c))
	for _, t := range c {
		if s, ok := t.(fmt.Stringer); ok {
			parts = append(parts, s.String())
		} else {
			parts = append(parts, fmt.Sprintf("%T", t))
		}
	}
	return strings.Join(parts, "+")
}

// ParseTransforms builds a chain from query parameters:
//
//	resize=800x600   resize=800x   resize=x600
//	grayscale=1
//
// It returns a nil Chain when no transform was requested.
func ParseTransforms(q url.Values) (Chain, error) {
	var c Chain
	if v := strings.TrimSpace(q.Get("resize")); v != "" {
		r, err := ParseResize(v)
		if err != nil {
			return nil, err
		}
		c = append(c, r)
	}
	if v := strings.TrimSpace(q.Get("grayscale")); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid grayscale value %q", v)
		}
		if on {
			c = append(c, Grayscale{})
		}
	}
	return c, nil
}

// ParseResize parses "WxH" where either side may be omitted.
func ParseResize(s string) (Resize, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resize{}, fmt.Errorf("%w: %q", ErrBadResize, s)
	}
	w, err := parseDim(ws)
	if err != nil {
		return Resize{}, fmt.Errorf("%w: %q", ErrBadResize, s)
	}
	h, err := parseDim(hs)
	if err != nil {
		return Resize{}, fmt.Errorf("%w: %q", ErrBadResize, s)
	}
	if w == 0 && h == 0 {
		return Resize{}, fmt.Errorf("%w: %q", ErrBadResize, s)
	}
	if w > MaxDimension || h > MaxDimension {
		return Resize{}, fmt.Errorf("%w: %q exceeds %d", ErrBadResize, s, MaxDimension)
	}
	return Resize{Width: w, Height: h}, nil
}

func parseDim(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("bad dimension")
	}
	return n, nil
}
