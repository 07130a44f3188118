package sim

import (
	"math"

	"github.com/raskyld/agentlink/pkg/dispatch"
	"github.com/raskyld/agentlink/pkg/envelope"
)

const (
	maxPan  = 60.0
	maxTilt = 45.0
)

// Move turns the body to degree, in the world frame, and walks distance.
func (b *Body) Move(m *envelope.AgentMovement) {
	b.heading = wrap(float64(m.Degree))
	b.walk = &walk{cat: dispatch.Movement, remaining: float64(m.Distance)}
}

func (b *Body) Turn(m *envelope.AgentTurn) {
	b.report(dispatch.Turn, envelope.Rotating)
	b.turn = &turn{remaining: float64(m.Degree)}
}

// MoveTo walks straight to the position, facing it. The target mode is not
// used: there is no path planning on a flat ground.
func (b *Body) MoveTo(m *envelope.MoveTo) {
	target := m.Position
	b.report(dispatch.MoveTo, envelope.WalkingRotating)
	b.walk = &walk{cat: dispatch.MoveTo, target: &target}
}

func (b *Body) CancelMoveTo(*envelope.CancelMoveTo) {
	if b.walk == nil || b.walk.cat != dispatch.MoveTo {
		return
	}
	b.walk = nil
	b.report(dispatch.MoveTo, envelope.Aborted)
}

// MoveEyes pans each eye and tilts both, in degrees relative to the head.
func (b *Body) MoveEyes(m *envelope.AgentEyeMovement) {
	b.report(dispatch.EyeMovement, envelope.InExecution)
	b.gaze = &gaze{
		pan:      clamp(float64(m.PanLeft), maxPan),
		panRight: clamp(float64(m.PanRight), maxPan),
		tilt:     clamp(float64(m.Tilt), maxTilt),
	}
}

// FixateEyes points both eyes at a world position.
func (b *Body) FixateEyes(m *envelope.AgentEyeFixation) {
	yaw, pitch, _ := b.direction(m.Target)
	pan := clamp(wrap(yaw-b.heading), maxPan)
	b.report(dispatch.EyeMovement, envelope.InExecution)
	b.gaze = &gaze{pan: pan, panRight: pan, tilt: clamp(pitch, maxTilt)}
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

// resolve finds the object a command targets.
func (b *Body) resolve(t dispatch.Target) (*Object, bool) {
	if t.ByID {
		o, ok := b.object(t.ObjectID)
		if ok && b.holding && o.ID == b.held {
			return nil, false
		}
		return o, ok
	}
	return b.pick(float64(t.X), float64(t.Y))
}

// Grasp picks up an object within reach.
func (b *Body) Grasp(t dispatch.Target) {
	o, ok := b.resolve(t)
	if !ok || b.distance(o.Position) > b.cfg.reach {
		b.logger.Debug("nothing to grasp", "action", t.ActionID)
		b.report(dispatch.Grasp, envelope.Aborted)
		return
	}
	b.reach(dispatch.Grasp, o.ID)
}

// Point succeeds on any visible object, whatever its distance.
func (b *Body) Point(t dispatch.Target) {
	o, ok := b.resolve(t)
	if !ok {
		b.report(dispatch.Point, envelope.Aborted)
		return
	}
	b.reach(dispatch.Point, o.ID)
}

func (b *Body) Interact(t dispatch.Target) {
	o, ok := b.resolve(t)
	if !ok || b.distance(o.Position) > b.cfg.reach {
		b.report(dispatch.Interact, envelope.Aborted)
		return
	}
	b.reach(dispatch.Interact, o.ID)
}

// reach starts the arm animation towards object.
func (b *Body) reach(cat dispatch.Category, object int32) {
	b.report(cat, envelope.InExecution)
	b.arm = &arm{cat: cat, left: b.cfg.armDuration, object: object}
}

// Release puts the held object on the ground in front of the body. It
// fails with an empty hand.
func (b *Body) Release(int32) {
	if !b.holding {
		b.report(dispatch.Grasp, envelope.Aborted)
		return
	}
	b.report(dispatch.Grasp, envelope.InExecution)
	b.drop()
	b.report(dispatch.Grasp, envelope.Finished)
}

func (b *Body) drop() {
	if !b.holding {
		return
	}
	if o, ok := b.object(b.held); ok {
		o.Position.Y = b.pos.Y
	}
	b.holding = false
	b.held = 0
}

// Abort stops the motion of cat. The controller was told by the
// dispatcher.
func (b *Body) Abort(cat dispatch.Category) {
	switch cat {
	case dispatch.Movement, dispatch.MoveTo:
		if b.walk != nil && b.walk.cat == cat {
			b.walk = nil
		}
	case dispatch.Turn:
		b.turn = nil
	case dispatch.EyeMovement:
		b.gaze = nil
	case dispatch.Grasp, dispatch.Point, dispatch.Interact:
		if b.arm != nil && b.arm.cat == cat {
			b.arm = nil
		}
	}
}

// SetSaccade makes eye movements instantaneous.
func (b *Body) SetSaccade(on bool) {
	b.saccade = on
}

// SetVideoSync stamps a frame counter on the main image.
func (b *Body) SetVideoSync(on bool) {
	b.videoSync = on
}

func (b *Body) LoadNetwork(n *envelope.Network) {
	b.network = n
	b.logger.Debug("network loaded", "layers", len(n.Layers), "step", n.Step)
}

// UpdateRates replaces the neurons of the loaded layers with the same ID.
func (b *Body) UpdateRates(n *envelope.Network) {
	if b.network == nil {
		b.logger.Debug("rates received before the network")
		return
	}
	for _, upd := range n.Layers {
		for i := range b.network.Layers {
			if b.network.Layers[i].ID == upd.ID {
				b.network.Layers[i].Neurons = upd.Neurons
			}
		}
	}
	b.network.Step = n.Step
}

// Network returns the last network the controller loaded.
func (b *Body) Network() (*envelope.Network, bool) {
	return b.network, b.network != nil
}
