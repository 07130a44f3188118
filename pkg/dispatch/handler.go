package dispatch

import "github.com/raskyld/agentlink/pkg/envelope"

// Target of an arm command, either a scene object or a point of the left
// eye image.
type Target struct {
	ActionID int32

	// ByID selects ObjectID, otherwise X and Y are pixel coordinates from
	// the upper left corner of the left eye image.
	ByID     bool
	ObjectID int32
	X, Y     float32
}

func objectTarget(m envelope.ObjectTarget) Target {
	return Target{ActionID: m.ActionID, ByID: true, ObjectID: m.ObjectID}
}

func screenTarget(m envelope.ScreenTarget) Target {
	return Target{ActionID: m.ActionID, X: m.X, Y: m.Y}
}

// Reporter carries progress of the running actions back to the controller.
// Reports name a category, the action identifier is the one the dispatcher
// correlated with it.
type Reporter interface {
	// Report sends status for the action running in cat. A terminal status
	// returns the category to idle. It reports false when cat is idle, in
	// which case nothing is sent.
	Report(cat Category, status envelope.StatusCode) bool

	// Collide tells the controller the action running in cat hit
	// colliderID.
	Collide(cat Category, colliderID int32) bool

	// Current returns the action running in cat.
	Current(cat Category) (int32, bool)
}

// Handler is the simulated body driven by a [Dispatcher]. Methods run on
// the tick goroutine and must not block.
type Handler interface {
	// Attach hands over the reporter before any other call.
	Attach(r Reporter)

	// Holding reports whether the hand holds an object, in which case
	// grasps are refused.
	Holding() bool

	Move(m *envelope.AgentMovement)
	Turn(m *envelope.AgentTurn)
	MoveTo(m *envelope.MoveTo)
	CancelMoveTo(m *envelope.CancelMoveTo)
	MoveEyes(m *envelope.AgentEyeMovement)
	FixateEyes(m *envelope.AgentEyeFixation)
	Grasp(t Target)
	Point(t Target)
	Interact(t Target)
	Release(actionID int32)

	// Abort stops the physical action of cat. The dispatcher already told
	// the controller.
	Abort(cat Category)

	SetSaccade(on bool)
	SetVideoSync(on bool)
	LoadNetwork(n *envelope.Network)
	UpdateRates(n *envelope.Network)
}

// BaseHandler implements every [Handler] method as a no-op. Embed it to
// only override what the body supports.
type BaseHandler struct {
	Reporter Reporter
}

var _ Handler = (*BaseHandler)(nil)

func (b *BaseHandler) Attach(r Reporter) { b.Reporter = r }

func (*BaseHandler) Holding() bool { return false }
func (*BaseHandler) Move(*envelope.AgentMovement) {}
func (*BaseHandler) Turn(*envelope.AgentTurn) {}
func (*BaseHandler) MoveTo(*envelope.MoveTo) {}
func (*BaseHandler) CancelMoveTo(*envelope.CancelMoveTo) {}
func (*BaseHandler) MoveEyes(*envelope.AgentEyeMovement) {}
func (*BaseHandler) FixateEyes(*envelope.AgentEyeFixation) {}
func (*BaseHandler) Grasp(Target) {}
func (*BaseHandler) Point(Target) {}
func (*BaseHandler) Interact(Target) {}
func (*BaseHandler) Release(int32) {}
func (*BaseHandler) Abort(Category) {}
func (*BaseHandler) SetSaccade(bool) {}
func (*BaseHandler) SetVideoSync(bool) {}
func (*BaseHandler) LoadNetwork(*envelope.Network) {}
func (*BaseHandler) UpdateRates(*envelope.Network) {}
