// Package signaling implements the room-based WebSocket signaling relay.
//
// Peers join named rooms and exchange opaque negotiation envelopes
// (offer/answer/ICE). The relay routes envelopes between members of the
// same room; it never inspects or terminates media.
package signaling
