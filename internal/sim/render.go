package sim

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"sort"

	"github.com/raskyld/agentlink/pkg/envelope"
)

var (
	sky    = color.RGBA{135, 190, 235, 255}
	ground = color.RGBA{110, 120, 80, 255}
)

// CaptureImages renders the left eye, right eye and main views as PNG.
func (b *Body) CaptureImages() (*envelope.Images, error) {
	b.frames++

	left, err := b.render(b.leftView(), false)
	if err != nil {
		return nil, fmt.Errorf("left eye: %w", err)
	}
	right, err := b.render(b.rightView(), false)
	if err != nil {
		return nil, fmt.Errorf("right eye: %w", err)
	}
	main, err := b.render(b.mainView(), b.videoSync)
	if err != nil {
		return nil, fmt.Errorf("main view: %w", err)
	}
	return &envelope.Images{Left: left, Right: right, Main: main}, nil
}

// Frames counts the captures so far.
func (b *Body) Frames() uint64 {
	return b.frames
}

// render draws the horizon and one square per visible object, the closest
// on top.
func (b *Body) render(v view, stamp bool) ([]byte, error) {
	w, h := b.cfg.width, b.cfg.height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	horizon := int((0.5 + v.pitch/b.cfg.fovV) * float64(h))
	horizon = max(0, min(h, horizon))
	draw.Draw(img, image.Rect(0, 0, w, horizon), image.NewUniform(sky), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, horizon, w, h), image.NewUniform(ground), image.Point{}, draw.Src)

	type sprite struct {
		pr  projection
		col color.RGBA
	}
	var sprites []sprite
	for _, o := range b.objects {
		if pr, ok := b.project(o.Position, v); ok {
			sprites = append(sprites, sprite{pr: pr, col: o.Color})
		}
	}
	sort.Slice(sprites, func(i, j int) bool { return sprites[i].pr.dist > sprites[j].pr.dist })

	for _, s := range sprites {
		half := int(math.Max(1, float64(h)/(4*math.Max(s.pr.dist, 1))))
		x, y := int(s.pr.x), int(s.pr.y)
		r := image.Rect(x-half, y-half, x+half, y+half).Intersect(img.Bounds())
		draw.Draw(img, r, image.NewUniform(s.col), image.Point{}, draw.Src)
	}

	if stamp {
		// Low byte of the frame counter, one bit per pixel on the top row.
		for i := 0; i < 8 && i < w; i++ {
			c := color.RGBA{A: 255}
			if b.frames>>i&1 == 1 {
				c = color.RGBA{255, 255, 255, 255}
			}
			img.SetRGBA(i, 0, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
