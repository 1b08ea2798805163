/*
Package controller implements the supervising side of the procproxy protocol:
it listens on a loopback TCP port, accepts the connection from a shim process
it spawned, verifies the handshake, and then drives the shim's stdio and
lifecycle through typed command methods.

The protocol is strictly request/response on a single connection, so a Conn
is not safe for concurrent use; issue one command at a time. Operation-level
failures on the shim side surface as *wire.RemoteError; any other error means
the connection is no longer usable.
*/
package controller
