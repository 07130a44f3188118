package client

import (
	"context"
	"sync"

	"github.com/raskyld/agentlink/pkg/envelope"
)

// state is what the agent last told us. Waiters block on changed, which is
// closed and replaced on every update.
type state struct {
	mu      sync.Mutex
	changed chan struct{}
	closed  <-chan struct{}

	statuses   map[int32]envelope.StatusCode
	startSyncs int

	version    string
	hasVersion bool

	images     *envelope.Images
	grid       *envelope.GridPosition
	eye        *envelope.EyePosition
	head       *envelope.HeadMotion
	objects    *envelope.ObjectPosition
	reward     *envelope.Reward
	collisions []envelope.Collision
	menu       *envelope.Menu
	network    *envelope.Network
}

func newState(closed <-chan struct{}) *state {
	return &state{
		changed:  make(chan struct{}),
		closed:   closed,
		statuses: make(map[int32]envelope.StatusCode),
	}
}

// apply records p and reports whether it was something a controller
// consumes.
func (s *state) apply(p envelope.Payload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := p.(type) {
	case *envelope.ActionStatus:
		s.statuses[m.ActionID] = m.Status
	case *envelope.StartSyncMarker:
		s.startSyncs++
	case *envelope.VersionCheck:
		s.version, s.hasVersion = m.Version, true
	case *envelope.Images:
		s.images = m
	case *envelope.GridPosition:
		s.grid = m
	case *envelope.EyePosition:
		s.eye = m
	case *envelope.HeadMotion:
		s.head = m
	case *envelope.ObjectPosition:
		s.objects = m
	case *envelope.Reward:
		s.reward = m
	case *envelope.Collision:
		s.collisions = append(s.collisions, *m)
	case *envelope.Menu:
		s.menu = m
	case *envelope.Network:
		s.network = m
	default:
		return false
	}

	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

// wait blocks until cond holds. cond runs with the lock held.
func (s *state) wait(ctx context.Context, cond func() bool) error {
	for {
		s.mu.Lock()
		if cond() {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return ErrClosed
		}
	}
}

func snapshot[T any](s *state, field func() *T) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	p := field()
	if p == nil {
		return zero, false
	}
	return *p, true
}
