// Package canvas implements the 2D canvas and ImageBitmap surface
// : create context, state getters/setters, path
// operations, gradients, save/restore, and render/save-as-png, plus a
// minimal ImageBitmap (load, width/height).
//
// No example repo in the pack touches rasterized graphics, so this is
// built directly against the Canvas 2D Context spec's state-machine
// shape using only the standard image/image-draw/image-png stack — see
// DESIGN.md for why no third-party graphics library was adopted.
package canvas

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"github.com/andromeda-rt/andromeda/internal/errs"
)

// Point is one path vertex in user space.
type Point struct{ X, Y float64 }

// subpath is one contiguous run of line segments (after flattening
// curves/arcs); Closed connects the last point back to the first.
type subpath struct {
	points []Point
	closed bool
}

// state is the portion of a Context that save/restore pushes and pops:
// styles and the current transform, per the Canvas spec's "drawing state"
// definition (path itself is NOT part of drawing state and so is never
// saved/restored).
type state struct {
	fillStyle color.RGBA
	strokeStyle color.RGBA
	lineWidth float64
	globalAlpha float64
	transform [6]float64 // a b c d e f, matching the DOMMatrix 2D form
}

func defaultState() state {
	return state{
		fillStyle: color.RGBA{0, 0, 0, 255},
		strokeStyle: color.RGBA{0, 0, 0, 255},
		lineWidth: 1,
		globalAlpha: 1,
		transform: [6]float64{1, 0, 0, 1, 0, 0},
	}
}

func (s state) apply(p Point) Point {
	return Point{
		X: s.transform[0]*p.X + s.transform[2]*p.Y + s.transform[4],
		Y: s.transform[1]*p.X + s.transform[3]*p.Y + s.transform[5],
	}
}

// Gradient is a linear gradient backing createLinearGradient +
// addColorStop; colorAt interpolates between whichever pair of stops
// brackets a sample, so any number of stops is supported.
type Gradient struct {
	X0, Y0, X1, Y1 float64
	Stops []ColorStop
}

// ColorStop is one addColorStop(offset, color) entry.
type ColorStop struct {
	Offset float64
	Color color.RGBA
}

// AddColorStop appends a stop; stops are expected to be added in
// increasing offset order, matching typical script usage.
func (g *Gradient) AddColorStop(offset float64, c color.RGBA) {
	g.Stops = append(g.Stops, ColorStop{Offset: offset, Color: c})
}

// colorAt linearly interpolates between the nearest bracketing stops.
func (g *Gradient) colorAt(t float64) color.RGBA {
	if len(g.Stops) == 0 {
		return color.RGBA{0, 0, 0, 255}
	}
	if t <= g.Stops[0].Offset {
		return g.Stops[0].Color
	}
	last := g.Stops[len(g.Stops)-1]
	if t >= last.Offset {
		return last.Color
	}
	for i := 0; i < len(g.Stops)-1; i++ {
		a, b := g.Stops[i], g.Stops[i+1]
		if t >= a.Offset && t <= b.Offset {
			span := b.Offset - a.Offset
			if span == 0 {
				return a.Color
			}
			f := (t - a.Offset) / span
			return lerpRGBA(a.Color, b.Color, f)
		}
	}
	return last.Color
}

func lerpRGBA(a, b color.RGBA, f float64) color.RGBA {
	lerp := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*f) }
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), lerp(a.A, b.A)}
}

// Context is a 2D rendering context bound to a fixed-size raster
// surface, matching CanvasRenderingContext2D's retained-surface model.
type Context struct {
	img *image.RGBA
	cur state
	stack []state
	path []subpath
}

// NewContext allocates a width x height context, cleared to transparent
// black, the canvas element's default initial surface content.
func NewContext(width, height int) *Context {
	if width <= 0 || height <= 0 {
		width, height = 1, 1
	}
	return &Context{
		img: image.NewRGBA(image.Rect(0, 0, width, height)),
		cur: defaultState(),
	}
}

func (c *Context) Width() int { return c.img.Rect.Dx() }
func (c *Context) Height() int { return c.img.Rect.Dy() }

// Save pushes a copy of the current drawing state.
func (c *Context) Save() { c.stack = append(c.stack, c.cur) }

// Restore pops the most recently saved drawing state; restoring from an
// empty stack is a no-op.
func (c *Context) Restore() {
	if len(c.stack) == 0 {
		return
	}
	c.cur = c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
}

func (c *Context) SetFillStyle(col color.RGBA) { c.cur.fillStyle = col }
func (c *Context) SetStrokeStyle(col color.RGBA) { c.cur.strokeStyle = col }
func (c *Context) SetLineWidth(w float64) { c.cur.lineWidth = w }
func (c *Context) SetGlobalAlpha(a float64) { c.cur.globalAlpha = a }
func (c *Context) FillStyle() color.RGBA { return c.cur.fillStyle }
func (c *Context) StrokeStyle() color.RGBA { return c.cur.strokeStyle }
func (c *Context) LineWidth() float64 { return c.cur.lineWidth }
func (c *Context) GlobalAlpha() float64 { return c.cur.globalAlpha }

// Translate/Scale/Rotate compose onto the current transform, matching
// CanvasRenderingContext2D's matrix-stack semantics (each call
// post-multiplies, so subsequent path points are built in the new local
// space).
func (c *Context) Translate(dx, dy float64) {
	c.cur.transform[4] += c.cur.transform[0]*dx + c.cur.transform[2]*dy
	c.cur.transform[5] += c.cur.transform[1]*dx + c.cur.transform[3]*dy
}

func (c *Context) Scale(sx, sy float64) {
	c.cur.transform[0] *= sx
	c.cur.transform[1] *= sx
	c.cur.transform[2] *= sy
	c.cur.transform[3] *= sy
}

func (c *Context) Rotate(radians float64) {
	sin, cos := math.Sin(radians), math.Cos(radians)
	a, b, cc, d := c.cur.transform[0], c.cur.transform[1], c.cur.transform[2], c.cur.transform[3]
	c.cur.transform[0] = a*cos + cc*sin
	c.cur.transform[1] = b*cos + d*sin
	c.cur.transform[2] = cc*cos - a*sin
	c.cur.transform[3] = d*cos - b*sin
}

// BeginPath discards any in-progress path, starting a fresh one.
func (c *Context) BeginPath() { c.path = nil }

// MoveTo starts a new subpath at (x, y).
func (c *Context) MoveTo(x, y float64) {
	c.path = append(c.path, subpath{points: []Point{c.cur.apply(Point{x, y})}})
}

// LineTo appends a vertex to the current subpath; if none is open yet it
// starts one at (x, y), behaving as moveTo.
func (c *Context) LineTo(x, y float64) {
	p := c.cur.apply(Point{x, y})
	if len(c.path) == 0 {
		c.path = append(c.path, subpath{points: []Point{p}})
		return
	}
	last := &c.path[len(c.path)-1]
	last.points = append(last.points, p)
}

// Rect adds a closed rectangular subpath.
func (c *Context) Rect(x, y, w, h float64) {
	c.MoveTo(x, y)
	c.LineTo(x+w, y)
	c.LineTo(x+w, y+h)
	c.LineTo(x, y+h)
	c.ClosePath()
}

// Arc flattens a circular arc into line segments, appended to the
// current subpath (or starting one if none is open).
func (c *Context) Arc(cx, cy, radius, startAngle, endAngle float64, counterclockwise bool) {
	const segments = 64
	span := endAngle - startAngle
	if counterclockwise && span > 0 {
		span -= 2 * math.Pi
	} else if !counterclockwise && span < 0 {
		span += 2 * math.Pi
	}
	for i := 0; i <= segments; i++ {
		t := startAngle + span*float64(i)/segments
		c.LineTo(cx+radius*math.Cos(t), cy+radius*math.Sin(t))
	}
}

// ClosePath marks the current subpath as closed, connecting its last
// point back to its first.
func (c *Context) ClosePath() {
	if len(c.path) == 0 {
		return
	}
	c.path[len(c.path)-1].closed = true
}

// Fill rasterizes every closed (or implicitly closed) subpath with the
// current fillStyle using an even-odd scanline fill.
func (c *Context) Fill() {
	for _, sp := range c.path {
		fillSubpath(c.img, sp, c.cur.fillStyle, c.cur.globalAlpha)
	}
}

// FillGradient fills the current path using g's color stops sampled
// along its axis instead of a flat fillStyle.
func (c *Context) FillGradient(g *Gradient) {
	for _, sp := range c.path {
		fillSubpathGradient(c.img, sp, g, c.cur.globalAlpha)
	}
}

// Stroke draws each subpath's edges as straight line segments of the
// current lineWidth and strokeStyle.
func (c *Context) Stroke() {
	for _, sp := range c.path {
		strokeSubpath(c.img, sp, c.cur.strokeStyle, c.cur.lineWidth, c.cur.globalAlpha)
	}
}

func fillSubpath(img *image.RGBA, sp subpath, col color.RGBA, alpha float64) {
	pts := sp.points
	if len(pts) < 3 {
		return
	}
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts {
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	bounds := img.Bounds()
	y0 := int(math.Max(float64(bounds.Min.Y), math.Floor(minY)))
	y1 := int(math.Min(float64(bounds.Max.Y), math.Ceil(maxY)))
	blended := applyAlpha(col, alpha)
	for y := y0; y < y1; y++ {
		xs := scanlineIntersections(pts, float64(y)+0.5)
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := int(math.Max(float64(bounds.Min.X), math.Round(xs[i])))
			x1 := int(math.Min(float64(bounds.Max.X), math.Round(xs[i+1])))
			for x := x0; x < x1; x++ {
				img.Set(x, y, blended)
			}
		}
	}
}

func fillSubpathGradient(img *image.RGBA, sp subpath, g *Gradient, alpha float64) {
	pts := sp.points
	if len(pts) < 3 {
		return
	}
	bounds := img.Bounds()
	dx, dy := g.X1-g.X0, g.Y1-g.Y0
	length2 := dx*dx + dy*dy
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts {
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	y0 := int(math.Max(float64(bounds.Min.Y), math.Floor(minY)))
	y1 := int(math.Min(float64(bounds.Max.Y), math.Ceil(maxY)))
	for y := y0; y < y1; y++ {
		xs := scanlineIntersections(pts, float64(y)+0.5)
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := int(math.Max(float64(bounds.Min.X), math.Round(xs[i])))
			x1 := int(math.Min(float64(bounds.Max.X), math.Round(xs[i+1])))
			for x := x0; x < x1; x++ {
				t := 0.0
				if length2 > 0 {
					t = ((float64(x)-g.X0)*dx + (float64(y)-g.Y0)*dy) / length2
				}
				img.Set(x, y, applyAlpha(g.colorAt(t), alpha))
			}
		}
	}
}

func strokeSubpath(img *image.RGBA, sp subpath, col color.RGBA, width float64, alpha float64) {
	pts := sp.points
	if len(pts) < 2 {
		return
	}
	blended := applyAlpha(col, alpha)
	n := len(pts)
	last := n - 1
	if sp.closed {
		last = n
	}
	for i := 0; i < last; i++ {
		a := pts[i%n]
		b := pts[(i+1)%n]
		drawLine(img, a, b, blended, width)
	}
}

func drawLine(img *image.RGBA, a, b Point, col color.RGBA, width float64) {
	steps := int(math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y))) + 1
	half := int(math.Max(0, width/2))
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(a.X + (b.X-a.X)*t))
		y := int(math.Round(a.Y + (b.Y-a.Y)*t))
		for ox := -half; ox <= half; ox++ {
			for oy := -half; oy <= half; oy++ {
				if image.Pt(x+ox, y+oy).In(img.Bounds()) {
					img.Set(x+ox, y+oy, col)
				}
			}
		}
	}
}

// scanlineIntersections returns the sorted x-coordinates where the
// polygon's edges cross horizontal line y, an even-odd rule scanline
// fill algorithm.
func scanlineIntersections(pts []Point, y float64) []float64 {
	var xs []float64
	n := len(pts)
	for i := 0; i < n; i++ {
		a := pts[i]
		b := pts[(i+1)%n]
		if (a.Y <= y && b.Y > y) || (b.Y <= y && a.Y > y) {
			t := (y - a.Y) / (b.Y - a.Y)
			xs = append(xs, a.X+t*(b.X-a.X))
		}
	}
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
	return xs
}

func applyAlpha(c color.RGBA, alpha float64) color.RGBA {
	if alpha >= 1 {
		return c
	}
	return color.RGBA{c.R, c.G, c.B, uint8(float64(c.A) * alpha)}
}

// EncodePNG renders the surface to PNG bytes, backing save-as-png.
func (c *Context) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, errs.Wrap(errs.Internal, "canvas: encode png", err)
	}
	return buf.Bytes(), nil
}

// SaveAsPNG writes the surface to path as a PNG file.
func (c *Context) SaveAsPNG(path string) error {
	data, err := c.EncodePNG()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errs.Wrap(errs.Internal, "canvas: save png", err)
	}
	return nil
}

// ImageBitmap is a decoded, immutable raster image handed back from
// createImageBitmap's load operation.
type ImageBitmap struct {
	img image.Image
}

// LoadImageBitmap decodes a PNG/JPEG/GIF file (whichever image/* codec
// is registered) from path.
func LoadImageBitmap(path string) (*ImageBitmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "loadImageBitmap", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "loadImageBitmap: decode", err)
	}
	return &ImageBitmap{img: img}, nil
}

func (b *ImageBitmap) Width() int { return b.img.Bounds().Dx() }
func (b *ImageBitmap) Height() int { return b.img.Bounds().Dy() }

// DrawImage blits bitmap onto ctx at (x, y), the minimal drawImage form
// (no scaling/cropping source rect).
func (c *Context) DrawImage(bitmap *ImageBitmap, x, y int) {
	dstRect := bitmap.img.Bounds().Add(image.Pt(x, y))
	draw.Draw(c.img, dstRect, bitmap.img, bitmap.img.Bounds().Min, draw.Over)
}
