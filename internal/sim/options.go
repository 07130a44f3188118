package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raskyld/agentlink/pkg/envelope"
)

const (
	DefaultSpeed       = 10.0
	DefaultTurnRate    = 50.0
	DefaultEyeRate     = 300.0
	DefaultArmDuration = 500 * time.Millisecond
	DefaultReach       = 1.5
	DefaultBodyRadius  = 0.4

	DefaultFOVHorizontal = 120.0
	DefaultFOVVertical   = 90.0
	DefaultImageSize     = 128

	eyeHeight = 1.6
)

var ErrInvalidCfg = errors.New("sim: invalid configuration")

type config struct {
	speed       float64
	turnRate    float64
	eyeRate     float64
	armDuration time.Duration
	reach       float64
	bodyRadius  float64

	fovH, fovV    float64
	width, height int

	start        envelope.Vec3
	startHeading float64
	objects      []Object

	logHandler slog.Handler
}

func defaultConfig() config {
	return config{
		speed:       DefaultSpeed,
		turnRate:    DefaultTurnRate,
		eyeRate:     DefaultEyeRate,
		armDuration: DefaultArmDuration,
		reach:       DefaultReach,
		bodyRadius:  DefaultBodyRadius,
		fovH:        DefaultFOVHorizontal,
		fovV:        DefaultFOVVertical,
		width:       DefaultImageSize,
		height:      DefaultImageSize,
		objects:     DefaultScene(),
	}
}

type Option func(*config) error

// WithSpeed sets the walking speed in units per second.
func WithSpeed(speed float64) Option {
	return func(c *config) error {
		if speed <= 0 {
			return fmt.Errorf("speed must be positive, got %v", speed)
		}
		c.speed = speed
		return nil
	}
}

// WithTurnRate sets the turning speed in degrees per second.
func WithTurnRate(rate float64) Option {
	return func(c *config) error {
		if rate <= 0 {
			return fmt.Errorf("turn rate must be positive, got %v", rate)
		}
		c.turnRate = rate
		return nil
	}
}

// WithArmDuration sets how long grasp, point and interact take.
func WithArmDuration(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return fmt.Errorf("arm duration must not be negative, got %v", d)
		}
		c.armDuration = d
		return nil
	}
}

// WithFieldOfView sets the eye cameras' field of view in degrees.
func WithFieldOfView(horizontal, vertical float64) Option {
	return func(c *config) error {
		if horizontal <= 0 || horizontal >= 180 || vertical <= 0 || vertical >= 180 {
			return fmt.Errorf("field of view %vx%v out of range", horizontal, vertical)
		}
		c.fovH, c.fovV = horizontal, vertical
		return nil
	}
}

func WithImageSize(width, height int) Option {
	return func(c *config) error {
		if width <= 0 || height <= 0 {
			return fmt.Errorf("image size %dx%d must be positive", width, height)
		}
		c.width, c.height = width, height
		return nil
	}
}

// WithStart sets the pose restored by scene resets.
func WithStart(position envelope.Vec3, heading float64) Option {
	return func(c *config) error {
		c.start = position
		c.startHeading = heading
		return nil
	}
}

// WithScene replaces the objects of [DefaultScene].
func WithScene(objects []Object) Option {
	return func(c *config) error {
		seen := make(map[int32]bool, len(objects))
		for _, o := range objects {
			if o.ID <= 0 {
				return fmt.Errorf("object %q: id must be positive", o.Name)
			}
			if seen[o.ID] {
				return fmt.Errorf("duplicate object id %d", o.ID)
			}
			seen[o.ID] = true
		}
		c.objects = append([]Object(nil), objects...)
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}
