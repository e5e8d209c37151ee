// Package hass is the connection core of the hub link.
//
// One Session owns one websocket connection to the hub and runs the boot
// sequence over it:
//
//	dial → authenticate → start dispatcher → subscribe state_changed
//	     → get_states → open the event gate → dispatch until the socket dies
//
// Every request after authentication is correlated: the Correlator stamps it
// with a per-connection, strictly increasing id and parks the caller until the
// result frame with the same id arrives. Only the Dispatcher reads from the
// socket. Result frames go straight to the Correlator; event frames are queued
// and processed in arrival order once the initial state load has completed,
// so a stale snapshot never overwrites a newer event.
//
// Error classes:
//
//	ErrAuthRejected, ErrAuthFailed, ErrConnectionRefused  fatal for Start
//	ErrDegradedStart                                       logged, Start succeeds
//	ErrCorrelation                                         returned to the requester
//	ErrDecode                                              frame dropped, loop continues
//	ErrConnectionLost                                      ends Session.Wait
//
// The session never reconnects by itself. Client wraps sessions with a
// reconnect delay and exposes a stable CallService for actuators and the
// scheduler.
package hass
