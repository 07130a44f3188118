// Package dispatch turns envelopes received from a controller into calls
// on a simulated body, and correlates the body's progress reports with the
// controller's action identifiers.
//
// Commands are grouped in categories, and categories in resources: the
// locomotion (movement, turn, move-to), the arm (grasp, point, interact)
// and the eyes. A resource runs one action at a time. A new command on a
// busy resource aborts the running action first, which the controller sees
// as an Aborted status for the old identifier.
//
// A [Dispatcher] belongs to the tick goroutine and is not safe for
// concurrent use.
package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-metrics"
	"github.com/raskyld/agentlink/pkg/envelope"
)

// Sender is the outbound side of a link, usually an agentlink.Transport.
type Sender interface {
	Send(env *envelope.Envelope)
}

// ActionRecord is the action a resource is executing.
type ActionRecord struct {
	ActionID int32
	Category Category
	Status   envelope.StatusCode
}

type record struct {
	ActionRecord
	active bool
}

type Dispatcher struct {
	out     Sender
	h       Handler
	logger  *slog.Logger
	msink   metrics.MetricSink
	mLabels []metrics.Label
	version string

	records [numResources]record
}

var _ Reporter = (*Dispatcher)(nil)

// New returns a dispatcher routing to h and reporting through out. h is
// attached to the dispatcher as its [Reporter].
func New(out Sender, h Handler, opts ...Option) (*Dispatcher, error) {
	if out == nil {
		return nil, ErrNoSender
	}
	if h == nil {
		return nil, ErrNoHandler
	}

	var cfg config
	if err := cfg.apply(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCfg, err)
	}

	d := &Dispatcher{
		out:     out,
		h:       h,
		logger:  cfg.logger(),
		msink:   cfg.sink(),
		mLabels: cfg.metricLabels,
		version: cfg.version,
	}
	h.Attach(d)
	return d, nil
}

// Dispatch routes one envelope. Every stage is visited in order: version
// check, arm preemption, then routing by kind. Protocol faults surface as
// Aborted reports, never as errors.
func (d *Dispatcher) Dispatch(env *envelope.Envelope) {
	p := env.Payload()
	if p == nil {
		return
	}
	kind := p.Kind()
	d.msink.IncrCounterWithLabels(
		MetricDispatchedCount,
		1.0,
		withLabels(d.mLabels, labelKind.M(kind.String())),
	)

	if vc, ok := p.(*envelope.VersionCheck); ok {
		d.answerVersion(vc)
	}

	if usesArm(kind) {
		d.preempt(Arm, "preempted")
	}

	switch m := p.(type) {
	case *envelope.AgentMovement:
		d.begin(Movement, m.ActionID)
		d.h.Move(m)
	case *envelope.AgentTurn:
		d.begin(Turn, m.ActionID)
		d.h.Turn(m)
	case *envelope.MoveTo:
		d.begin(MoveTo, m.ActionID)
		d.h.MoveTo(m)
	case *envelope.CancelMoveTo:
		d.h.CancelMoveTo(m)

	case *envelope.GraspPos:
		d.grasp(screenTarget(m.ScreenTarget))
	case *envelope.GraspID:
		d.grasp(objectTarget(m.ObjectTarget))
	case *envelope.PointPos:
		d.begin(Point, m.ActionID)
		d.h.Point(screenTarget(m.ScreenTarget))
	case *envelope.PointID:
		d.begin(Point, m.ActionID)
		d.h.Point(objectTarget(m.ObjectTarget))
	case *envelope.InteractPos:
		d.begin(Interact, m.ActionID)
		d.h.Interact(screenTarget(m.ScreenTarget))
	case *envelope.InteractID:
		d.begin(Interact, m.ActionID)
		d.h.Interact(objectTarget(m.ObjectTarget))
	case *envelope.GraspRelease:
		d.begin(Grasp, m.ActionID)
		d.h.Release(m.ActionID)

	case *envelope.AgentEyeFixation:
		d.begin(EyeMovement, m.ActionID)
		d.h.FixateEyes(m)
	case *envelope.AgentEyeMovement:
		d.begin(EyeMovement, m.ActionID)
		d.h.MoveEyes(m)

	case *envelope.SaccadeFlag:
		d.h.SetSaccade(m.I == 1)
	case *envelope.VideoSync:
		d.h.SetVideoSync(m.I == 1)
	case *envelope.Network:
		if m.Update {
			d.h.UpdateRates(m)
		} else {
			d.h.LoadNetwork(m)
		}

	case *envelope.VersionCheck:
		// answered above
	case *envelope.StartSyncMarker, *envelope.StopSyncMarker:
		d.logger.Debug("lockstep marker", labelKind.L(kind.String()))
	case *envelope.DebugText:
		d.logger.Info("controller debug message", "text", m.Text)

	default:
		d.logger.Warn("ignoring a kind the agent only emits", labelKind.L(kind.String()))
		d.msink.IncrCounterWithLabels(
			MetricIgnoredCount,
			1.0,
			withLabels(d.mLabels, labelKind.M(kind.String())),
		)
	}
}

func usesArm(kind envelope.Kind) bool {
	switch kind {
	case envelope.KindGraspPos, envelope.KindGraspID,
		envelope.KindPointPos, envelope.KindPointID,
		envelope.KindInteractPos, envelope.KindInteractID:
		return true
	}
	return false
}

func (d *Dispatcher) answerVersion(vc *envelope.VersionCheck) {
	d.logger.Info("version check", "controller", vc.Version, "agent", d.version)
	d.out.Send(envelope.Wrap(&envelope.VersionCheck{Version: d.version}))
}

// grasp is refused while the hand is full. The refused action is never
// tracked and the handler is not called.
func (d *Dispatcher) grasp(t Target) {
	if d.h.Holding() {
		d.logger.Info("grasp refused, hand is full", labelAction.L(t.ActionID))
		d.sendStatus(t.ActionID, Grasp, envelope.Aborted)
		d.countAbort(Grasp, "holding")
		return
	}
	d.begin(Grasp, t.ActionID)
	d.h.Grasp(t)
}

// begin records id as the action of cat, aborting whatever ran on the same
// resource.
func (d *Dispatcher) begin(cat Category, id int32) {
	res := cat.Resource()
	d.preempt(res, "preempted")
	d.records[res] = record{
		ActionRecord: ActionRecord{ActionID: id, Category: cat, Status: envelope.InExecution},
		active:       true,
	}
}

func (d *Dispatcher) preempt(res Resource, reason string) bool {
	rec := &d.records[res]
	if !rec.active {
		return false
	}

	old := rec.ActionRecord
	rec.active = false
	d.logger.Debug("aborting running action",
		labelCategory.L(old.Category.String()),
		labelAction.L(old.ActionID),
		labelReason.L(reason),
	)
	d.sendStatus(old.ActionID, old.Category, envelope.Aborted)
	d.countAbort(old.Category, reason)
	d.h.Abort(old.Category)
	return true
}

// Abort stops the action running in cat, if any, on behalf of the
// simulation, for instance on a scene reset.
func (d *Dispatcher) Abort(cat Category) bool {
	rec := &d.records[cat.Resource()]
	if !rec.active || rec.Category != cat {
		return false
	}
	return d.preempt(cat.Resource(), "external")
}

// AbortAll stops every running action.
func (d *Dispatcher) AbortAll() {
	for res := Resource(0); res < numResources; res++ {
		d.preempt(res, "external")
	}
}

func (d *Dispatcher) Report(cat Category, status envelope.StatusCode) bool {
	rec := &d.records[cat.Resource()]
	if !rec.active || rec.Category != cat {
		d.logger.Debug("dropping a report for an idle category",
			labelCategory.L(cat.String()),
			labelStatus.L(status.String()),
		)
		d.msink.IncrCounterWithLabels(
			MetricReportDroppedCount,
			1.0,
			withLabels(d.mLabels, labelCategory.M(cat.String())),
		)
		return false
	}

	rec.Status = status
	if status.Terminal() {
		rec.active = false
	}
	d.sendStatus(rec.ActionID, cat, status)
	return true
}

func (d *Dispatcher) Collide(cat Category, colliderID int32) bool {
	id, ok := d.Current(cat)
	if !ok {
		return false
	}
	d.out.Send(envelope.Wrap(&envelope.Collision{ActionID: id, ColliderID: colliderID}))
	return true
}

func (d *Dispatcher) Current(cat Category) (int32, bool) {
	rec := d.records[cat.Resource()]
	if !rec.active || rec.Category != cat {
		return 0, false
	}
	return rec.ActionID, true
}

// Running lists the actions in execution, one per busy resource.
func (d *Dispatcher) Running() []ActionRecord {
	var out []ActionRecord
	for _, rec := range d.records {
		if rec.active {
			out = append(out, rec.ActionRecord)
		}
	}
	return out
}

func (d *Dispatcher) sendStatus(id int32, cat Category, status envelope.StatusCode) {
	d.out.Send(envelope.Status(id, status))
	d.msink.IncrCounterWithLabels(
		MetricStatusReportCount,
		1.0,
		withLabels(d.mLabels,
			labelCategory.M(cat.String()),
			labelStatus.M(status.String()),
		),
	)
}

func (d *Dispatcher) countAbort(cat Category, reason string) {
	d.msink.IncrCounterWithLabels(
		MetricAbortCount,
		1.0,
		withLabels(d.mLabels,
			labelCategory.M(cat.String()),
			labelReason.M(reason),
		),
	)
}
