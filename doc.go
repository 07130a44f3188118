// Package agentlink links simulated embodied agents to remote controllers.
//
// Each agent exposes one [Transport]: a listener accepting a single
// controller over TCP (or QUIC) and exchanging length-prefixed envelopes,
// see package envelope. The simulation never blocks on the network: it
// enqueues with [Transport.Send] and dequeues with [Transport.Receive] or
// [Transport.TryReceive] while three goroutines do the I/O.
//
// ## Endpoints
//
// A [Hub] groups the transports of a scene. The environment endpoint listens
// on the base port and carries scene-level control (environment and trial
// resets). Agent i listens on base port + i + 1.
//
// ## Lanes
//
// Outbound envelopes go through two lanes. The control lane is an unbounded
// FIFO and always drains first. The bulk lane carries rendered images and
// keeps only the [BulkDepth] most recent batches: a slow controller sees
// fresher frames rather than a growing backlog.
//
// ## Faults
//
// Write errors, undecodable frames and lost controllers are logged and
// counted, never returned. A frame that fails to decode is dropped but the
// stream stays aligned since its length was honoured. A lost controller
// frees the slot for the next one, unless [WithLazyDisconnect] is set.
//
// Timing coupling between the simulation tick and the controller lives in
// package framesync, command routing in package dispatch.
package agentlink
