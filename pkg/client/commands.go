package client

import "github.com/raskyld/agentlink/pkg/envelope"

// command sends the payload built for a fresh action id.
func (c *Client) command(build func(id int32) envelope.Payload) (int32, error) {
	id := c.NewActionID()
	if err := c.Send(envelope.Wrap(build(id))); err != nil {
		return 0, err
	}
	return id, nil
}

// Move walks distance units in direction degree, in the world frame.
func (c *Client) Move(degree, distance float32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.AgentMovement{ActionID: id, Degree: degree, Distance: distance}
	})
}

func (c *Client) Turn(degree float32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.AgentTurn{ActionID: id, Degree: degree}
	})
}

func (c *Client) MoveTo(position envelope.Vec3, targetMode int32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.MoveTo{ActionID: id, Position: position, TargetMode: targetMode}
	})
}

// CancelMoveTo stops the path following started by MoveTo.
func (c *Client) CancelMoveTo() (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.CancelMoveTo{ActionRef: envelope.ActionRef{ActionID: id}}
	})
}

func (c *Client) MoveEyes(panLeft, panRight, tilt float32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.AgentEyeMovement{ActionID: id, PanLeft: panLeft, PanRight: panRight, Tilt: tilt}
	})
}

func (c *Client) FixateEyes(target envelope.Vec3) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.AgentEyeFixation{ActionID: id, Target: target}
	})
}

func (c *Client) GraspID(objectID int32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.GraspID{ObjectTarget: envelope.ObjectTarget{ActionID: id, ObjectID: objectID}}
	})
}

// GraspPos grasps what is seen at pixel x, y of the left eye image.
func (c *Client) GraspPos(x, y float32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.GraspPos{ScreenTarget: envelope.ScreenTarget{ActionID: id, X: x, Y: y}}
	})
}

func (c *Client) PointID(objectID int32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.PointID{ObjectTarget: envelope.ObjectTarget{ActionID: id, ObjectID: objectID}}
	})
}

func (c *Client) PointPos(x, y float32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.PointPos{ScreenTarget: envelope.ScreenTarget{ActionID: id, X: x, Y: y}}
	})
}

func (c *Client) InteractID(objectID int32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.InteractID{ObjectTarget: envelope.ObjectTarget{ActionID: id, ObjectID: objectID}}
	})
}

func (c *Client) InteractPos(x, y float32) (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.InteractPos{ScreenTarget: envelope.ScreenTarget{ActionID: id, X: x, Y: y}}
	})
}

// Release drops the held object.
func (c *Client) Release() (int32, error) {
	return c.command(func(id int32) envelope.Payload {
		return &envelope.GraspRelease{ActionRef: envelope.ActionRef{ActionID: id}}
	})
}

// ResetEnvironment and ResetTrial are served by the environment endpoint.
func (c *Client) ResetEnvironment(kind int32) error {
	return c.Send(envelope.Wrap(&envelope.EnvironmentReset{Type: kind}))
}

func (c *Client) ResetTrial(kind int32) error {
	return c.Send(envelope.Wrap(&envelope.TrialReset{Type: kind}))
}

func (c *Client) SetSaccade(on bool) error {
	return c.Send(envelope.Wrap(&envelope.SaccadeFlag{I: flag(on)}))
}

func (c *Client) SetVideoSync(on bool) error {
	return c.Send(envelope.Wrap(&envelope.VideoSync{I: flag(on)}))
}

func (c *Client) Debug(text string) error {
	return c.Send(envelope.Debug(text))
}

func flag(on bool) int32 {
	if on {
		return 1
	}
	return 0
}
