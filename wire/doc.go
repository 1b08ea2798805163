/*
Package wire defines the binary protocol spoken between a proxied process (the
shim) and its controller over a single local TCP connection. Both the shim and
controller packages import it so the frame layouts are defined once rather
than mirrored.

The protocol proceeds as follows:

 1. The shim connects to 127.0.0.1 on the controller's advertised port.
 2. The shim sends a 146-byte handshake: the 18-byte ASCII tag
    "ProcessProxy 0001 " followed by a 128-byte token field (zero-padded,
    truncated to 128 bytes if longer). No acknowledgment is sent back.
 3. The controller sends command frames, one at a time: a single opcode byte
    followed by command-specific parameters. The shim answers each frame with
    a response envelope (int32 status, 0 for success and -1 for failure, with
    a length-prefixed UTF-8 message on failure) followed by the command's
    success payload, then waits for the next frame.
 4. The connection ends when the controller closes it or sends OpExit.

All multi-byte integers are host byte order: both ends always run on the same
machine, so no network-order normalization is performed. Length-prefixed
strings are a uint32 length followed by that many raw bytes, no terminator.

There is no pipelining: exactly one command frame is in flight at a time. Any
short read or short write on the connection is a protocol failure and both
ends treat it as fatal to the connection.
*/
package wire
