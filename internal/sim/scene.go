package sim

import (
	"image/color"
	"math"

	"github.com/raskyld/agentlink/pkg/envelope"
)

// Object of the scene the body can see, bump into and hold.
type Object struct {
	ID       int32
	Name     string
	Position envelope.Vec3
	Color    color.RGBA
}

// Tracked objects, reported by ObjectPosition.
const (
	GreenCrane int32 = iota + 1
	YellowCrane
	GreenRacecar
)

func DefaultScene() []Object {
	return []Object{
		{ID: GreenCrane, Name: "green_crane", Position: envelope.Vec3{X: -3, Z: 6}, Color: color.RGBA{40, 160, 60, 255}},
		{ID: YellowCrane, Name: "yellow_crane", Position: envelope.Vec3{X: 3, Z: 6}, Color: color.RGBA{230, 200, 30, 255}},
		{ID: GreenRacecar, Name: "green_racecar", Position: envelope.Vec3{Z: 9}, Color: color.RGBA{20, 110, 40, 255}},
	}
}

// view is the direction a camera looks at, in degrees.
type view struct {
	yaw, pitch float64
}

// projection of a point on an image, with its distance to the camera.
type projection struct {
	x, y, dist float64
}

func deg(rad float64) float64 { return rad * 180 / math.Pi }
func rad(deg float64) float64 { return deg * math.Pi / 180 }

// wrap brings an angle into [-180, 180).
func wrap(a float64) float64 {
	a = math.Mod(a+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}

func (b *Body) eyePoint() (x, y, z float64) {
	return float64(b.pos.X), float64(b.pos.Y) + eyeHeight, float64(b.pos.Z)
}

// direction of p seen from the eyes, as a world yaw and a pitch.
func (b *Body) direction(p envelope.Vec3) (yaw, pitch, dist float64) {
	ex, ey, ez := b.eyePoint()
	dx, dy, dz := float64(p.X)-ex, float64(p.Y)-ey, float64(p.Z)-ez
	flat := math.Hypot(dx, dz)
	return deg(math.Atan2(dx, dz)), deg(math.Atan2(dy, flat)), math.Hypot(flat, dy)
}

// project maps p onto an image of the camera looking along v. Angles map
// linearly to pixels.
func (b *Body) project(p envelope.Vec3, v view) (projection, bool) {
	yaw, pitch, dist := b.direction(p)
	a := wrap(yaw - v.yaw)
	e := pitch - v.pitch
	if math.Abs(a) > b.cfg.fovH/2 || math.Abs(e) > b.cfg.fovV/2 {
		return projection{}, false
	}
	return projection{
		x:    (a/b.cfg.fovH + 0.5) * float64(b.cfg.width),
		y:    (0.5 - e/b.cfg.fovV) * float64(b.cfg.height),
		dist: dist,
	}, true
}

func (b *Body) leftView() view {
	return view{yaw: b.heading + b.eyePan, pitch: b.eyeTilt}
}

func (b *Body) rightView() view {
	return view{yaw: b.heading + b.eyePanRight, pitch: b.eyeTilt}
}

func (b *Body) mainView() view {
	return view{yaw: b.heading}
}

func (b *Body) object(id int32) (*Object, bool) {
	for i := range b.objects {
		if b.objects[i].ID == id {
			return &b.objects[i], true
		}
	}
	return nil, false
}

// pick returns the object closest to pixel x, y of the left eye image.
func (b *Body) pick(x, y float64) (*Object, bool) {
	radius := float64(b.cfg.width) / 16
	var (
		best     *Object
		bestDist = math.Inf(1)
	)
	for i := range b.objects {
		o := &b.objects[i]
		if b.holding && o.ID == b.held {
			continue
		}
		pr, ok := b.project(o.Position, b.leftView())
		if !ok {
			continue
		}
		if d := math.Hypot(pr.x-x, pr.y-y); d <= radius && d < bestDist {
			best, bestDist = o, d
		}
	}
	return best, best != nil
}

// distance on the ground between the body and p.
func (b *Body) distance(p envelope.Vec3) float64 {
	return math.Hypot(float64(p.X-b.pos.X), float64(p.Z-b.pos.Z))
}

func (b *Body) forward() (x, z float64) {
	return math.Sin(rad(b.heading)), math.Cos(rad(b.heading))
}
