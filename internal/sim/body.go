// Package sim is a headless body for an agent link: it walks, turns, moves
// its eyes and handles objects on a flat ground, and renders what its eyes
// see as small synthetic pictures.
//
// A [Body] is driven by a dispatch.Dispatcher and read by a
// framesync.Synchronizer. Like them, it belongs to the tick goroutine.
package sim

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/raskyld/agentlink/pkg/dispatch"
	"github.com/raskyld/agentlink/pkg/envelope"
	"github.com/raskyld/agentlink/pkg/framesync"
)

const arrived = 1e-3

type walk struct {
	cat       dispatch.Category
	remaining float64

	// target of a MoveTo, walked straight to.
	target *envelope.Vec3
}

type turn struct {
	remaining float64
}

type gaze struct {
	pan, panRight, tilt float64
}

type arm struct {
	cat    dispatch.Category
	left   time.Duration
	object int32
}

type Body struct {
	dispatch.BaseHandler

	cfg    config
	logger *slog.Logger

	pos     envelope.Vec3
	heading float64

	eyePan, eyePanRight, eyeTilt float64

	objects []Object
	holding bool
	held    int32

	walk *walk
	turn *turn
	gaze *gaze
	arm  *arm

	saccade   bool
	videoSync bool
	network   *envelope.Network
	frames    uint64
}

var (
	_ dispatch.Handler    = (*Body)(nil)
	_ dispatch.SceneHooks = (*Body)(nil)
	_ framesync.Sensors   = (*Body)(nil)
	_ framesync.Actuator  = (*Body)(nil)
)

func New(opts ...Option) (*Body, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
		}
	}

	b := &Body{cfg: cfg}
	if cfg.logHandler == nil {
		b.logger = slog.Default()
	} else {
		b.logger = slog.New(cfg.logHandler)
	}
	b.resetPose()
	b.resetObjects()
	return b, nil
}

func (b *Body) resetPose() {
	b.pos = b.cfg.start
	b.heading = b.cfg.startHeading
	b.eyePan, b.eyePanRight, b.eyeTilt = 0, 0, 0
}

func (b *Body) resetObjects() {
	b.objects = append(b.objects[:0], b.cfg.objects...)
	b.holding = false
	b.held = 0
}

func (b *Body) report(cat dispatch.Category, status envelope.StatusCode) {
	if b.Reporter != nil {
		b.Reporter.Report(cat, status)
	}
}

func (b *Body) Pose() (position, rotation envelope.Vec3) {
	return b.pos, envelope.Vec3{Y: float32(b.heading)}
}

func (b *Body) EyeRotation() envelope.Vec3 {
	return envelope.Vec3{X: float32(b.eyeTilt), Y: float32(b.eyePan)}
}

// ObjectPosition reports the ground position of the tracked objects, the
// world Z axis as Y.
func (b *Body) ObjectPosition() envelope.ObjectPosition {
	var op envelope.ObjectPosition
	for _, o := range b.objects {
		x, y := o.Position.X, o.Position.Z
		switch o.ID {
		case GreenCrane:
			op.GreenCraneX, op.GreenCraneY = x, y
		case YellowCrane:
			op.YellowCraneX, op.YellowCraneY = x, y
		case GreenRacecar:
			op.GreenRacecarX, op.GreenRacecarY = x, y
		}
	}
	return op
}

func (b *Body) Holding() bool { return b.holding }

// Held returns the object in hand.
func (b *Body) Held() (int32, bool) {
	return b.held, b.holding
}

// Advance moves every running action by dt and reports how they progress.
func (b *Body) Advance(dt time.Duration) {
	if dt <= 0 {
		return
	}
	secs := dt.Seconds()

	b.advanceTurn(secs)
	b.advanceWalk(secs)
	b.advanceGaze(secs)
	b.advanceArm(dt)
	b.carry()
}

func (b *Body) advanceTurn(secs float64) {
	if b.turn == nil {
		return
	}
	step := math.Min(math.Abs(b.turn.remaining), b.cfg.turnRate*secs)
	step = math.Copysign(step, b.turn.remaining)
	b.heading = wrap(b.heading + step)
	b.turn.remaining -= step
	if math.Abs(b.turn.remaining) < arrived {
		b.turn = nil
		b.report(dispatch.Turn, envelope.Finished)
	}
}

func (b *Body) advanceWalk(secs float64) {
	w := b.walk
	if w == nil {
		return
	}
	if w.target != nil {
		w.remaining = b.distance(*w.target)
		if w.remaining > arrived {
			yaw, _, _ := b.direction(*w.target)
			b.heading = yaw
		}
	}
	if w.remaining <= arrived {
		b.walk = nil
		b.report(w.cat, envelope.Finished)
		return
	}

	step := math.Min(w.remaining, b.cfg.speed*secs)
	fx, fz := b.forward()
	next := envelope.Vec3{
		X: b.pos.X + float32(fx*step),
		Y: b.pos.Y,
		Z: b.pos.Z + float32(fz*step),
	}

	if o, hit := b.collision(next); hit {
		b.logger.Debug("bumped into an object", "object", o.Name)
		b.walk = nil
		if b.Reporter != nil {
			b.Reporter.Collide(w.cat, o.ID)
		}
		b.report(w.cat, envelope.Finished)
		return
	}

	b.pos = next
	w.remaining -= step
	if w.remaining <= arrived {
		b.walk = nil
		b.report(w.cat, envelope.Finished)
		return
	}
	b.report(w.cat, envelope.Walking)
}

// collision returns the object the body would overlap at p, when it is
// getting closer to it.
func (b *Body) collision(p envelope.Vec3) (*Object, bool) {
	for i := range b.objects {
		o := &b.objects[i]
		if b.holding && o.ID == b.held {
			continue
		}
		dx, dz := float64(o.Position.X-p.X), float64(o.Position.Z-p.Z)
		if math.Hypot(dx, dz) < b.cfg.bodyRadius && math.Hypot(dx, dz) < b.distance(o.Position) {
			return o, true
		}
	}
	return nil, false
}

func (b *Body) advanceGaze(secs float64) {
	g := b.gaze
	if g == nil {
		return
	}
	limit := b.cfg.eyeRate * secs
	if b.saccade {
		limit = math.Inf(1)
	}
	b.eyePan = approach(b.eyePan, g.pan, limit)
	b.eyePanRight = approach(b.eyePanRight, g.panRight, limit)
	b.eyeTilt = approach(b.eyeTilt, g.tilt, limit)
	if b.eyePan == g.pan && b.eyePanRight == g.panRight && b.eyeTilt == g.tilt {
		b.gaze = nil
		b.report(dispatch.EyeMovement, envelope.Finished)
	}
}

func approach(from, to, limit float64) float64 {
	if math.Abs(to-from) <= limit {
		return to
	}
	return from + math.Copysign(limit, to-from)
}

func (b *Body) advanceArm(dt time.Duration) {
	a := b.arm
	if a == nil {
		return
	}
	a.left -= dt
	if a.left > 0 {
		b.report(a.cat, envelope.InExecution)
		return
	}
	b.arm = nil
	if a.cat == dispatch.Grasp {
		b.holding = true
		b.held = a.object
	}
	b.report(a.cat, envelope.Finished)
}

// carry keeps the held object in front of the body, at hand height.
func (b *Body) carry() {
	if !b.holding {
		return
	}
	o, ok := b.object(b.held)
	if !ok {
		return
	}
	fx, fz := b.forward()
	o.Position = envelope.Vec3{
		X: b.pos.X + float32(fx*b.cfg.bodyRadius*1.5),
		Y: b.pos.Y + 1,
		Z: b.pos.Z + float32(fz*b.cfg.bodyRadius*1.5),
	}
}

// abortAll reports every running action as aborted.
func (b *Body) abortAll() {
	if b.walk != nil {
		b.report(b.walk.cat, envelope.Aborted)
	}
	if b.turn != nil {
		b.report(dispatch.Turn, envelope.Aborted)
	}
	if b.gaze != nil {
		b.report(dispatch.EyeMovement, envelope.Aborted)
	}
	if b.arm != nil {
		b.report(b.arm.cat, envelope.Aborted)
	}
	b.walk, b.turn, b.gaze, b.arm = nil, nil, nil, nil
}

// ResetEnvironment restores the scene and the start pose.
func (b *Body) ResetEnvironment(kind int32) {
	b.logger.Info("environment reset", "type", kind)
	b.abortAll()
	b.resetPose()
	b.resetObjects()
}

// ResetTrial restores the start pose. A held object is dropped where it is.
func (b *Body) ResetTrial(kind int32) {
	b.logger.Info("trial reset", "type", kind)
	b.abortAll()
	b.drop()
	b.resetPose()
}
