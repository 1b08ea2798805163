package shim

import (
	"io"
	"net"

	"github.com/guseggert/procproxy/wire"
)

// maxStdinBuffer caps the buffer a single stdin read may allocate. Requests
// beyond it take the error-envelope path instead of attempting the
// allocation.
const maxStdinBuffer = 1 << 30

// serve is the command loop. Each iteration blocks on one opcode byte and
// dispatches it. A read error on the opcode (peer closed, reset), a
// handler's connection-level failure, or an unrecognized opcode all end the
// loop; the three cases are indistinguishable to the peer but logged apart.
//
// Handlers return an error only when the connection itself is unusable: an
// unreadable parameter frame or a short write of the response. OS-level
// failures inside a handler are reported to the controller through the error
// envelope and the loop continues.
func (s *Shim) serve(conn net.Conn) {
	for {
		var op [1]byte
		if _, err := io.ReadFull(conn, op[:]); err != nil {
			s.log.Debugw("peer closed connection", "Error", err)
			return
		}

		var err error
		switch wire.Opcode(op[0]) {
		case wire.OpGetArgs:
			err = s.handleGetArgs(conn)
		case wire.OpReadStdin:
			err = s.handleReadStdin(conn)
		case wire.OpWriteStdout:
			err = s.handleWriteStream(conn, Stdout)
		case wire.OpWriteStderr:
			err = s.handleWriteStream(conn, Stderr)
		case wire.OpGetCwd:
			err = s.handleGetCwd(conn)
		case wire.OpGetEnv:
			err = s.handleGetEnv(conn)
		case wire.OpExit:
			if err := s.handleExit(conn); err != nil {
				s.log.Debugf("exit command failed: %s", err)
			}
			// The exit function does not normally return; if a test
			// stub did, the connection is done regardless.
			return
		case wire.OpCloseStdin:
			err = s.handleCloseStream(conn, Stdin)
		case wire.OpCloseStdout:
			err = s.handleCloseStream(conn, Stdout)
		case wire.OpCloseStderr:
			err = s.handleCloseStream(conn, Stderr)
		default:
			s.log.Debugf("protocol violation: unknown opcode 0x%02x", op[0])
			return
		}
		if err != nil {
			s.log.Debugf("command 0x%02x failed: %s", op[0], err)
			return
		}
	}
}

func (s *Shim) handleGetArgs(conn net.Conn) error {
	args := s.sys.Arguments()
	if err := wire.WriteEnvelopeOK(conn); err != nil {
		return err
	}
	if err := wire.WriteUint32(conn, uint32(len(args))); err != nil {
		return err
	}
	for _, arg := range args {
		if err := wire.WriteBytes(conn, []byte(arg)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shim) handleReadStdin(conn net.Conn) error {
	max, err := wire.ReadInt32(conn)
	if err != nil {
		return err
	}

	if max <= 0 {
		if err := wire.WriteEnvelopeOK(conn); err != nil {
			return err
		}
		return wire.WriteInt32(conn, 0)
	}
	if max > maxStdinBuffer {
		return wire.WriteEnvelopeError(conn, "stdin read buffer too large")
	}

	data, pollErr := s.sys.PollStdin(int(max))
	if err := wire.WriteEnvelopeOK(conn); err != nil {
		return err
	}
	if pollErr != nil {
		// End of stream and OS read errors share the -1 sentinel; "no
		// data yet" is 0 and already covered by an empty data slice.
		return wire.WriteInt32(conn, -1)
	}
	if err := wire.WriteInt32(conn, int32(len(data))); err != nil {
		return err
	}
	if len(data) > 0 {
		return wire.WriteFull(conn, data)
	}
	return nil
}

func (s *Shim) handleWriteStream(conn net.Conn, st Stream) error {
	n, err := wire.ReadUint32(conn)
	if err != nil {
		return err
	}
	if n == 0 {
		return wire.WriteEnvelopeOK(conn)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return err
	}

	if err := s.sys.WriteStream(st, buf); err != nil {
		return wire.WriteEnvelopeError(conn, "writing to "+st.String()+": "+err.Error())
	}
	return wire.WriteEnvelopeOK(conn)
}

func (s *Shim) handleGetCwd(conn net.Conn) error {
	wd, err := s.sys.WorkingDirectory()
	if err != nil {
		return wire.WriteEnvelopeError(conn, "resolving working directory: "+err.Error())
	}
	if err := wire.WriteEnvelopeOK(conn); err != nil {
		return err
	}
	return wire.WriteBytes(conn, []byte(wd))
}

func (s *Shim) handleGetEnv(conn net.Conn) error {
	env, err := s.sys.Environ()
	if err != nil {
		return wire.WriteEnvelopeError(conn, "enumerating environment: "+err.Error())
	}
	if err := wire.WriteEnvelopeOK(conn); err != nil {
		return err
	}
	if err := wire.WriteUint32(conn, uint32(len(env))); err != nil {
		return err
	}
	for _, entry := range env {
		if err := wire.WriteBytes(conn, []byte(entry)); err != nil {
			return err
		}
	}
	return nil
}

// handleExit acknowledges the command before terminating: the success
// envelope must reach the controller, so it is written and the connection
// closed ahead of the exit call.
func (s *Shim) handleExit(conn net.Conn) error {
	code, err := wire.ReadInt32(conn)
	if err != nil {
		return err
	}
	if err := wire.WriteEnvelopeOK(conn); err != nil {
		return err
	}
	conn.Close()
	s.exit(int(code))
	return nil
}

func (s *Shim) handleCloseStream(conn net.Conn, st Stream) error {
	if err := s.sys.CloseStream(st); err != nil {
		return wire.WriteEnvelopeError(conn, "closing "+st.String()+": "+err.Error())
	}
	return wire.WriteEnvelopeOK(conn)
}
