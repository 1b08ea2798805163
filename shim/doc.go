/*
Package shim implements the process side of the procproxy protocol: a child
process that hands control of its own stdin, stdout, stderr, argv,
environment, working directory, and exit path to a controller over one local
TCP connection.

The shim is strictly sequential. It dials the controller, sends the handshake
once, and then serves one command frame at a time until the controller closes
the connection, sends an exit command, or violates the protocol. There are no
background goroutines: the only read that must not block indefinitely, the
stdin poll, is a single bounded non-blocking system call behind the Sys
capability interface.

A connection failure or protocol violation terminates the loop; it is never
retried. Operation-level OS failures inside a handler are reported to the
controller through the response envelope and the loop continues.
*/
package shim
