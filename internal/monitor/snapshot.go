package monitor

import (
	"time"

	"github.com/raskyld/agentlink"
	"github.com/raskyld/agentlink/pkg/framesync"
)

// Snapshot is one message of the feed.
type Snapshot struct {
	Time      time.Time  `json:"time"`
	Endpoints []Endpoint `json:"endpoints"`
}

type Endpoint struct {
	Name        string     `json:"name"`
	Addr        string     `json:"addr"`
	Network     string     `json:"network"`
	Connected   bool       `json:"connected"`
	Session     string     `json:"session,omitempty"`
	PeerAddr    string     `json:"peer_addr,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Inbound     int        `json:"inbound"`
	Control     int        `json:"control"`
	Bulk        int        `json:"bulk"`

	// Tick is only set on agent endpoints driven by a synchronizer.
	Tick *Tick `json:"tick,omitempty"`
}

type Tick struct {
	Ticks    uint64 `json:"ticks"`
	Phase    string `json:"phase"`
	Sync     bool   `json:"sync"`
	InRound  bool   `json:"in_round"`
	Images   uint64 `json:"images"`
	Timeouts uint64 `json:"timeouts"`
}

// Source produces the snapshots of the feed. It is called from the
// observer goroutines.
type Source func() Snapshot

// StatsSource is what a [Hub] reports.
type StatsSource interface {
	Status() []agentlink.Stats
}

// TickSource is a framesync.Synchronizer.
type TickSource interface {
	Stats() framesync.Stats
}

// HubSource reports every endpoint of hub, with the tick of the agents in
// ticks, keyed by endpoint name.
func HubSource(hub StatsSource, ticks map[string]TickSource) Source {
	return func() Snapshot {
		status := hub.Status()
		snap := Snapshot{
			Time:      time.Now(),
			Endpoints: make([]Endpoint, 0, len(status)),
		}
		for _, st := range status {
			ep := Endpoint{
				Name:      st.Name,
				Addr:      st.Addr,
				Network:   st.Network.String(),
				Connected: st.Connected,
				Inbound:   st.Inbound,
				Control:   st.Control,
				Bulk:      st.Bulk,
			}
			if st.Connected {
				at := st.Peer.ConnectedAt
				ep.Session = st.Peer.Session
				ep.PeerAddr = st.Peer.Addr
				ep.ConnectedAt = &at
			}
			if src, ok := ticks[st.Name]; ok {
				fs := src.Stats()
				ep.Tick = &Tick{
					Ticks:    fs.Ticks,
					Phase:    fs.Phase.String(),
					Sync:     fs.Sync,
					InRound:  fs.InRound,
					Images:   fs.Images,
					Timeouts: fs.Timeouts,
				}
			}
			snap.Endpoints = append(snap.Endpoints, ep)
		}
		return snap
	}
}
