// Package envelope implements the wire type exchanged between a simulated
// agent and its controller.
//
// An [Envelope] carries at most one [Payload]. On the wire it is a protobuf
// message where every payload kind owns one field number, so peers built
// against older or newer catalogues keep working: unknown fields are
// skipped.
//
// Frames on a stream are prefixed by their length as a 4-byte little-endian
// integer, see [WriteFrame] and [ReadFrame].
package envelope

import "fmt"

// Kind identifies the payload of an [Envelope]. Its value is the field
// number used on the wire.
type Kind uint8

const (
	KindNone             Kind = 0
	KindAgentMovement    Kind = 1
	KindAgentEyeMovement Kind = 2
	KindAgentEyeFixation Kind = 3
	KindReward           Kind = 4
	KindGridPosition     Kind = 5
	KindActionStatus     Kind = 6
	KindCollision        Kind = 7
	KindImages           Kind = 8
	KindMenu             Kind = 9
	KindDebug            Kind = 10
	KindEnvironmentReset Kind = 11
	KindTrialReset       Kind = 12
	KindGraspPos         Kind = 13
	KindGraspID          Kind = 14
	KindPointPos         Kind = 15
	KindPointID          Kind = 16
	KindInteractID       Kind = 17
	KindInteractPos      Kind = 18
	KindNetwork          Kind = 19
	KindStartSync        Kind = 20
	KindStopSync         Kind = 21
	KindGraspRelease     Kind = 22
	KindAgentTurn        Kind = 23
	KindEyePosition      Kind = 24
	KindObjectPosition   Kind = 25
	KindHeadMotion       Kind = 26
	KindMoveTo           Kind = 27
	KindCancelMoveTo     Kind = 28
	KindVersionCheck     Kind = 29
	KindSaccadeFlag      Kind = 30
	KindVideoSync        Kind = 31

	maxKind = KindVideoSync
)

var kindNames = [...]string{
	KindNone:             "none",
	KindAgentMovement:    "agent_movement",
	KindAgentEyeMovement: "agent_eye_movement",
	KindAgentEyeFixation: "agent_eye_fixation",
	KindReward:           "reward",
	KindGridPosition:     "grid_position",
	KindActionStatus:     "action_status",
	KindCollision:        "collision",
	KindImages:           "images",
	KindMenu:             "menu",
	KindDebug:            "debug",
	KindEnvironmentReset: "environment_reset",
	KindTrialReset:       "trial_reset",
	KindGraspPos:         "grasp_pos",
	KindGraspID:          "grasp_id",
	KindPointPos:         "point_pos",
	KindPointID:          "point_id",
	KindInteractID:       "interact_id",
	KindInteractPos:      "interact_pos",
	KindNetwork:          "network",
	KindStartSync:        "start_sync",
	KindStopSync:         "stop_sync",
	KindGraspRelease:     "grasp_release",
	KindAgentTurn:        "agent_turn",
	KindEyePosition:      "eye_position",
	KindObjectPosition:   "object_position",
	KindHeadMotion:       "head_motion",
	KindMoveTo:           "move_to",
	KindCancelMoveTo:     "cancel_move_to",
	KindVersionCheck:     "version_check",
	KindSaccadeFlag:      "saccade_flag",
	KindVideoSync:        "video_sync",
}

func (k Kind) String() string {
	if k <= maxKind {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds lists every payload kind known to this package, in wire order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, maxKind)
	for k := KindAgentMovement; k <= maxKind; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Payload is implemented by every message kind of the catalogue. The set is
// closed: only types of this package satisfy it.
type Payload interface {
	Kind() Kind

	marshal(b []byte) []byte
	unmarshal(b []byte) error
}

// Envelope is the unit exchanged on a link.
type Envelope struct {
	payload Payload
}

// Wrap returns an envelope carrying p. A nil p yields an empty envelope.
func Wrap(p Payload) *Envelope {
	return &Envelope{payload: p}
}

// Empty returns an envelope with no payload. It encodes to zero bytes and is
// never dispatched.
func Empty() *Envelope {
	return &Envelope{}
}

// Kind of the carried payload, [KindNone] when empty.
func (e *Envelope) Kind() Kind {
	if e == nil || e.payload == nil {
		return KindNone
	}
	return e.payload.Kind()
}

// Payload returns the carried payload or nil.
func (e *Envelope) Payload() Payload {
	if e == nil {
		return nil
	}
	return e.payload
}

// IsBulk reports whether the envelope belongs to the bulk lane, i.e. it
// carries rendered images.
func (e *Envelope) IsBulk() bool {
	return e.Kind() == KindImages
}

func (e *Envelope) String() string {
	return "envelope(" + e.Kind().String() + ")"
}

// Status wraps an [ActionStatus] report.
func Status(actionID int32, status StatusCode) *Envelope {
	return Wrap(&ActionStatus{ActionID: actionID, Status: status})
}

// StartSync wraps the lockstep phase-start marker.
func StartSync() *Envelope {
	return Wrap(&StartSyncMarker{})
}

// StopSync wraps the lockstep phase-end marker.
func StopSync() *Envelope {
	return Wrap(&StopSyncMarker{})
}

// Debug wraps a free-form debug string.
func Debug(text string) *Envelope {
	return Wrap(&DebugText{Text: text})
}

// newPayload allocates the payload type registered for kind, or nil if the
// kind is unknown to this build.
func newPayload(kind Kind) Payload {
	switch kind {
	case KindAgentMovement:
		return &AgentMovement{}
	case KindAgentEyeMovement:
		return &AgentEyeMovement{}
	case KindAgentEyeFixation:
		return &AgentEyeFixation{}
	case KindReward:
		return &Reward{}
	case KindGridPosition:
		return &GridPosition{}
	case KindActionStatus:
		return &ActionStatus{}
	case KindCollision:
		return &Collision{}
	case KindImages:
		return &Images{}
	case KindMenu:
		return &Menu{}
	case KindDebug:
		return &DebugText{}
	case KindEnvironmentReset:
		return &EnvironmentReset{}
	case KindTrialReset:
		return &TrialReset{}
	case KindGraspPos:
		return &GraspPos{}
	case KindGraspID:
		return &GraspID{}
	case KindPointPos:
		return &PointPos{}
	case KindPointID:
		return &PointID{}
	case KindInteractID:
		return &InteractID{}
	case KindInteractPos:
		return &InteractPos{}
	case KindNetwork:
		return &Network{}
	case KindStartSync:
		return &StartSyncMarker{}
	case KindStopSync:
		return &StopSyncMarker{}
	case KindGraspRelease:
		return &GraspRelease{}
	case KindAgentTurn:
		return &AgentTurn{}
	case KindEyePosition:
		return &EyePosition{}
	case KindObjectPosition:
		return &ObjectPosition{}
	case KindHeadMotion:
		return &HeadMotion{}
	case KindMoveTo:
		return &MoveTo{}
	case KindCancelMoveTo:
		return &CancelMoveTo{}
	case KindVersionCheck:
		return &VersionCheck{}
	case KindSaccadeFlag:
		return &SaccadeFlag{}
	case KindVideoSync:
		return &VideoSync{}
	}
	return nil
}
