package envelope

import "google.golang.org/protobuf/encoding/protowire"

// Vec3 is a 3D vector in simulation units or Euler degrees.
type Vec3 struct {
	X, Y, Z float32
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// AgentMovement walks distance units in direction degree (world frame).
type AgentMovement struct {
	ActionID int32
	Degree   float32
	Distance float32
}

func (*AgentMovement) Kind() Kind { return KindAgentMovement }

func (m *AgentMovement) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.ActionID, true)
	b = appendFloat(b, 2, m.Degree, true)
	return appendFloat(b, 3, m.Distance, true)
}

func (m *AgentMovement) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.ActionID = r.int32()
		case 2:
			m.Degree = r.float()
		case 3:
			m.Distance = r.float()
		default:
			r.skip()
		}
	}
	return r.err
}

// AgentEyeMovement pans each eye and tilts both, relative to the body.
type AgentEyeMovement struct {
	ActionID int32
	PanLeft  float32
	PanRight float32
	Tilt     float32
}

func (*AgentEyeMovement) Kind() Kind { return KindAgentEyeMovement }

func (m *AgentEyeMovement) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.ActionID, true)
	b = appendFloat(b, 2, m.PanLeft, true)
	b = appendFloat(b, 3, m.PanRight, true)
	return appendFloat(b, 4, m.Tilt, false)
}

func (m *AgentEyeMovement) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.ActionID = r.int32()
		case 2:
			m.PanLeft = r.float()
		case 3:
			m.PanRight = r.float()
		case 4:
			m.Tilt = r.float()
		default:
			r.skip()
		}
	}
	return r.err
}

// AgentEyeFixation makes both eyes follow a world point.
type AgentEyeFixation struct {
	ActionID int32
	Target   Vec3
}

func (*AgentEyeFixation) Kind() Kind { return KindAgentEyeFixation }

func (m *AgentEyeFixation) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.ActionID, true)
	return appendVec3(b, 2, m.Target)
}

func (m *AgentEyeFixation) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.ActionID = r.int32()
		case 2, 3, 4:
			r.readVec3(&m.Target, r.num-2)
		default:
			r.skip()
		}
	}
	return r.err
}

type Reward struct {
	Value float32
}

func (*Reward) Kind() Kind { return KindReward }

func (m *Reward) marshal(b []byte) []byte {
	return appendFloat(b, 1, m.Value, true)
}

func (m *Reward) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		if r.num == 1 {
			m.Value = r.float()
			continue
		}
		r.skip()
	}
	return r.err
}

// GridPosition is the agent pose: position and Euler rotation.
type GridPosition struct {
	Position Vec3
	Rotation Vec3
}

func (*GridPosition) Kind() Kind { return KindGridPosition }

func (m *GridPosition) marshal(b []byte) []byte {
	b = appendVec3(b, 1, m.Position)
	return appendVec3(b, 4, m.Rotation)
}

func (m *GridPosition) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch {
		case r.num >= 1 && r.num <= 3:
			r.readVec3(&m.Position, r.num-1)
		case r.num >= 4 && r.num <= 6:
			r.readVec3(&m.Rotation, r.num-4)
		default:
			r.skip()
		}
	}
	return r.err
}

// ActionStatus reports the execution state of the action ActionID.
type ActionStatus struct {
	ActionID int32
	Status   StatusCode
}

func (*ActionStatus) Kind() Kind { return KindActionStatus }

func (m *ActionStatus) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.ActionID, true)
	return appendInt32(b, 2, int32(m.Status), true)
}

func (m *ActionStatus) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.ActionID = r.int32()
		case 2:
			m.Status = StatusCode(r.int32())
		default:
			r.skip()
		}
	}
	return r.err
}

// Collision stops the movement ActionID against ColliderID.
type Collision struct {
	ActionID   int32
	ColliderID int32
}

func (*Collision) Kind() Kind { return KindCollision }

func (m *Collision) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.ActionID, true)
	return appendInt32(b, 2, m.ColliderID, true)
}

func (m *Collision) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.ActionID = r.int32()
		case 2:
			m.ColliderID = r.int32()
		default:
			r.skip()
		}
	}
	return r.err
}

// Images is one rendered batch, PNG encoded.
type Images struct {
	Left  []byte
	Right []byte
	Main  []byte
}

func (*Images) Kind() Kind { return KindImages }

// Size is the number of image bytes carried.
func (m *Images) Size() int {
	return len(m.Left) + len(m.Right) + len(m.Main)
}

func (m *Images) marshal(b []byte) []byte {
	b = appendBytes(b, 1, m.Left, true)
	b = appendBytes(b, 2, m.Right, true)
	return appendBytes(b, 3, m.Main, true)
}

func (m *Images) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.Left = r.bytes()
		case 2:
			m.Right = r.bytes()
		case 3:
			m.Main = r.bytes()
		default:
			r.skip()
		}
	}
	return r.err
}

// Menu is a user-interface event forwarded to the controller.
type Menu struct {
	EventID   int32
	Parameter string
}

func (*Menu) Kind() Kind { return KindMenu }

func (m *Menu) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.EventID, true)
	return appendString(b, 2, m.Parameter, false)
}

func (m *Menu) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.EventID = r.int32()
		case 2:
			m.Parameter = r.string()
		default:
			r.skip()
		}
	}
	return r.err
}

// DebugText is carried as a bare string in the envelope field.
type DebugText struct {
	Text string
}

func (*DebugText) Kind() Kind { return KindDebug }

func (m *DebugText) marshal(b []byte) []byte {
	return append(b, m.Text...)
}

func (m *DebugText) unmarshal(b []byte) error {
	m.Text = string(b)
	return nil
}

type EnvironmentReset struct {
	Type int32
}

func (*EnvironmentReset) Kind() Kind { return KindEnvironmentReset }

func (m *EnvironmentReset) marshal(b []byte) []byte {
	return appendInt32(b, 1, m.Type, false)
}

func (m *EnvironmentReset) unmarshal(b []byte) error {
	return unmarshalInt32Field(b, &m.Type)
}

type TrialReset struct {
	Type int32
}

func (*TrialReset) Kind() Kind { return KindTrialReset }

func (m *TrialReset) marshal(b []byte) []byte {
	return appendInt32(b, 1, m.Type, false)
}

func (m *TrialReset) unmarshal(b []byte) error {
	return unmarshalInt32Field(b, &m.Type)
}

// ScreenTarget addresses a point of the left eye image, in pixels from the
// upper left corner.
type ScreenTarget struct {
	ActionID int32
	X        float32
	Y        float32
}

func (m *ScreenTarget) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.ActionID, true)
	b = appendFloat(b, 2, m.X, true)
	return appendFloat(b, 3, m.Y, true)
}

func (m *ScreenTarget) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.ActionID = r.int32()
		case 2:
			m.X = r.float()
		case 3:
			m.Y = r.float()
		default:
			r.skip()
		}
	}
	return r.err
}

// ObjectTarget addresses a scene object by identifier.
type ObjectTarget struct {
	ActionID int32
	ObjectID int32
}

func (m *ObjectTarget) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.ActionID, true)
	return appendInt32(b, 2, m.ObjectID, true)
}

func (m *ObjectTarget) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.ActionID = r.int32()
		case 2:
			m.ObjectID = r.int32()
		default:
			r.skip()
		}
	}
	return r.err
}

type GraspPos struct{ ScreenTarget }

func (*GraspPos) Kind() Kind { return KindGraspPos }

type GraspID struct{ ObjectTarget }

func (*GraspID) Kind() Kind { return KindGraspID }

type PointPos struct{ ScreenTarget }

func (*PointPos) Kind() Kind { return KindPointPos }

type PointID struct{ ObjectTarget }

func (*PointID) Kind() Kind { return KindPointID }

type InteractID struct{ ObjectTarget }

func (*InteractID) Kind() Kind { return KindInteractID }

type InteractPos struct{ ScreenTarget }

func (*InteractPos) Kind() Kind { return KindInteractPos }

// StartSyncMarker opens a lockstep frame: the sensor batch of the frame is
// complete.
type StartSyncMarker struct{}

func (*StartSyncMarker) Kind() Kind { return KindStartSync }

func (*StartSyncMarker) marshal(b []byte) []byte { return b }

func (*StartSyncMarker) unmarshal(b []byte) error { return skipAll(b) }

// StopSyncMarker closes a lockstep frame: the controller is done
// commanding.
type StopSyncMarker struct{}

func (*StopSyncMarker) Kind() Kind { return KindStopSync }

func (*StopSyncMarker) marshal(b []byte) []byte { return b }

func (*StopSyncMarker) unmarshal(b []byte) error { return skipAll(b) }

// ActionRef is the shape of messages only carrying an action identifier.
type ActionRef struct {
	ActionID int32
}

func (m *ActionRef) marshal(b []byte) []byte {
	return appendInt32(b, 1, m.ActionID, true)
}

func (m *ActionRef) unmarshal(b []byte) error {
	return unmarshalInt32Field(b, &m.ActionID)
}

type GraspRelease struct{ ActionRef }

func (*GraspRelease) Kind() Kind { return KindGraspRelease }

type CancelMoveTo struct{ ActionRef }

func (*CancelMoveTo) Kind() Kind { return KindCancelMoveTo }

// AgentTurn rotates the body by Degree around the vertical axis.
type AgentTurn struct {
	ActionID int32
	Degree   float32
}

func (*AgentTurn) Kind() Kind { return KindAgentTurn }

func (m *AgentTurn) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.ActionID, true)
	return appendFloat(b, 2, m.Degree, true)
}

func (m *AgentTurn) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.ActionID = r.int32()
		case 2:
			m.Degree = r.float()
		default:
			r.skip()
		}
	}
	return r.err
}

// EyePosition is the left eye rotation and its change since the previous
// sense phase.
type EyePosition struct {
	Rotation         Vec3
	RotationVelocity Vec3
}

func (*EyePosition) Kind() Kind { return KindEyePosition }

func (m *EyePosition) marshal(b []byte) []byte {
	b = appendVec3(b, 1, m.Rotation)
	return appendVec3(b, 4, m.RotationVelocity)
}

func (m *EyePosition) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch {
		case r.num >= 1 && r.num <= 3:
			r.readVec3(&m.Rotation, r.num-1)
		case r.num >= 4 && r.num <= 6:
			r.readVec3(&m.RotationVelocity, r.num-4)
		default:
			r.skip()
		}
	}
	return r.err
}

// ObjectPosition reports the ground-plane coordinates of the tracked toys.
type ObjectPosition struct {
	GreenCraneX, GreenCraneY     float32
	YellowCraneX, YellowCraneY   float32
	GreenRacecarX, GreenRacecarY float32
}

func (*ObjectPosition) Kind() Kind { return KindObjectPosition }

func (m *ObjectPosition) fields() [6]*float32 {
	return [6]*float32{
		&m.GreenCraneX, &m.GreenCraneY,
		&m.YellowCraneX, &m.YellowCraneY,
		&m.GreenRacecarX, &m.GreenRacecarY,
	}
}

func (m *ObjectPosition) marshal(b []byte) []byte {
	for i, f := range m.fields() {
		b = appendFloat(b, protowire.Number(i+1), *f, true)
	}
	return b
}

func (m *ObjectPosition) unmarshal(b []byte) error {
	fields := m.fields()
	r := fieldReader{b: b}
	for r.next() {
		if r.num >= 1 && int(r.num) <= len(fields) {
			*fields[r.num-1] = r.float()
			continue
		}
		r.skip()
	}
	return r.err
}

// HeadMotion is the vestibular signal: first and second differences of the
// body position and rotation.
type HeadMotion struct {
	Velocity             Vec3
	Acceleration         Vec3
	RotationVelocity     Vec3
	RotationAcceleration Vec3
}

func (*HeadMotion) Kind() Kind { return KindHeadMotion }

func (m *HeadMotion) vectors() [4]*Vec3 {
	return [4]*Vec3{&m.Velocity, &m.Acceleration, &m.RotationVelocity, &m.RotationAcceleration}
}

func (m *HeadMotion) marshal(b []byte) []byte {
	for i, v := range m.vectors() {
		b = appendVec3(b, protowire.Number(1+3*i), *v)
	}
	return b
}

func (m *HeadMotion) unmarshal(b []byte) error {
	vectors := m.vectors()
	r := fieldReader{b: b}
	for r.next() {
		if r.num >= 1 && r.num <= 12 {
			idx := r.num - 1
			r.readVec3(vectors[idx/3], idx%3)
			continue
		}
		r.skip()
	}
	return r.err
}

// MoveTo walks to a world position along a planned path.
type MoveTo struct {
	ActionID   int32
	Position   Vec3
	TargetMode int32
}

func (*MoveTo) Kind() Kind { return KindMoveTo }

func (m *MoveTo) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.ActionID, true)
	b = appendVec3(b, 2, m.Position)
	return appendInt32(b, 5, m.TargetMode, false)
}

func (m *MoveTo) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			m.ActionID = r.int32()
		case 2, 3, 4:
			r.readVec3(&m.Position, r.num-2)
		case 5:
			m.TargetMode = r.int32()
		default:
			r.skip()
		}
	}
	return r.err
}

type VersionCheck struct {
	Version string
}

func (*VersionCheck) Kind() Kind { return KindVersionCheck }

func (m *VersionCheck) marshal(b []byte) []byte {
	return appendString(b, 1, m.Version, true)
}

func (m *VersionCheck) unmarshal(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		if r.num == 1 {
			m.Version = r.string()
			continue
		}
		r.skip()
	}
	return r.err
}

// SaccadeFlag switches saccadic eye movement on when I is 1.
type SaccadeFlag struct {
	I int32
}

func (*SaccadeFlag) Kind() Kind { return KindSaccadeFlag }

func (m *SaccadeFlag) marshal(b []byte) []byte {
	return appendInt32(b, 1, m.I, false)
}

func (m *SaccadeFlag) unmarshal(b []byte) error {
	return unmarshalInt32Field(b, &m.I)
}

// VideoSync lets a frame recorder continue when I is 1.
type VideoSync struct {
	I int32
}

func (*VideoSync) Kind() Kind { return KindVideoSync }

func (m *VideoSync) marshal(b []byte) []byte {
	return appendInt32(b, 1, m.I, false)
}

func (m *VideoSync) unmarshal(b []byte) error {
	return unmarshalInt32Field(b, &m.I)
}

func unmarshalInt32Field(b []byte, dst *int32) error {
	r := fieldReader{b: b}
	for r.next() {
		if r.num == 1 {
			*dst = r.int32()
			continue
		}
		r.skip()
	}
	return r.err
}

func skipAll(b []byte) error {
	r := fieldReader{b: b}
	for r.next() {
		r.skip()
	}
	return r.err
}
