package controller

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	intnet "github.com/guseggert/procproxy/internal/net"
	"github.com/guseggert/procproxy/wire"
)

// Listener accepts shim connections on a loopback TCP port. Spawn the shim
// with PROCESS_PROXY_PORT set to Port and, if a token is configured,
// PROCESS_PROXY_TOKEN set to the same token.
type Listener struct {
	log   *zap.SugaredLogger
	token string
	tcp   *net.TCPListener
}

type Option func(l *Listener)

func WithLogger(l *zap.Logger) Option {
	return func(lis *Listener) {
		lis.log = l.Named("controller").Sugar()
	}
}

// WithToken requires every accepted handshake to carry this token. Without
// it, only shims presenting an empty token are accepted.
func WithToken(token string) Option {
	return func(lis *Listener) {
		lis.token = token
	}
}

// Listen opens a loopback listener. Port 0 selects an ephemeral port.
func Listen(port int, opts ...Option) (*Listener, error) {
	l := &Listener{
		log: zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(l)
	}
	tcp, err := intnet.ListenLoopback(port)
	if err != nil {
		return nil, err
	}
	l.tcp = tcp
	return l, nil
}

// Port returns the port the listener is bound to.
func (l *Listener) Port() int {
	return l.tcp.Addr().(*net.TCPAddr).Port
}

func (l *Listener) Close() error {
	return l.tcp.Close()
}

// Accept waits for one shim connection and verifies its handshake. A
// handshake with the wrong tag or token closes the connection and returns an
// error; the listener remains usable for further accepts.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	// Clear any deadline a previous cancelled Accept left behind.
	l.tcp.SetDeadline(time.Time{})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.tcp.SetDeadline(time.Now())
		case <-done:
		}
	}()

	conn, err := l.tcp.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accepting shim connection: %w", err)
	}
	l.log.Debugw("accepted shim connection", "RemoteAddr", conn.RemoteAddr())

	msg := make([]byte, wire.HandshakeLen)
	if _, err := io.ReadFull(conn, msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading handshake: %w", err)
	}
	field, err := wire.ParseHandshake(msg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rejecting handshake: %w", err)
	}
	if subtle.ConstantTimeCompare(field, wire.PadToken(l.token)) != 1 {
		conn.Close()
		return nil, fmt.Errorf("rejecting handshake: token mismatch")
	}
	l.log.Debug("handshake verified")

	return Attach(conn, l.log), nil
}

// Attach wraps a connection whose handshake has already been consumed and
// verified. Accept uses it internally; it is exported for tests and for
// callers bringing their own transport.
func Attach(conn net.Conn, log *zap.SugaredLogger) *Conn {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Conn{log: log, conn: conn}
}

// Conn drives one shim over its established connection. Methods issue
// exactly one command frame and read its response; they must not be
// interleaved.
type Conn struct {
	log  *zap.SugaredLogger
	conn net.Conn
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) command(op wire.Opcode, params func() error) error {
	if err := wire.WriteFull(c.conn, []byte{byte(op)}); err != nil {
		return fmt.Errorf("sending opcode 0x%02x: %w", byte(op), err)
	}
	if params != nil {
		if err := params(); err != nil {
			return fmt.Errorf("sending parameters for 0x%02x: %w", byte(op), err)
		}
	}
	return wire.ReadEnvelope(c.conn)
}

// Args returns the shim process's argument vector, program name first.
func (c *Conn) Args() ([]string, error) {
	if err := c.command(wire.OpGetArgs, nil); err != nil {
		return nil, err
	}
	count, err := wire.ReadUint32(c.conn)
	if err != nil {
		return nil, err
	}
	args := make([]string, count)
	for i := range args {
		b, err := wire.ReadBytes(c.conn)
		if err != nil {
			return nil, err
		}
		args[i] = string(b)
	}
	return args, nil
}

// ReadStdin polls the shim's stdin for up to max bytes without blocking the
// shim. It returns whatever was available, possibly nothing. eof reports the
// -1 sentinel: the stream is closed or exhausted and will never yield more.
func (c *Conn) ReadStdin(max int32) (data []byte, eof bool, err error) {
	err = c.command(wire.OpReadStdin, func() error {
		return wire.WriteInt32(c.conn, max)
	})
	if err != nil {
		return nil, false, err
	}
	n, err := wire.ReadInt32(c.conn)
	if err != nil {
		return nil, false, err
	}
	if n < 0 {
		return nil, true, nil
	}
	if n == 0 {
		return nil, false, nil
	}
	data = make([]byte, n)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// WriteStdout writes b to the shim's stdout.
func (c *Conn) WriteStdout(b []byte) error {
	return c.writeStream(wire.OpWriteStdout, b)
}

// WriteStderr writes b to the shim's stderr.
func (c *Conn) WriteStderr(b []byte) error {
	return c.writeStream(wire.OpWriteStderr, b)
}

func (c *Conn) writeStream(op wire.Opcode, b []byte) error {
	return c.command(op, func() error {
		return wire.WriteBytes(c.conn, b)
	})
}

// WorkingDirectory returns the shim's current working directory, resolved at
// call time.
func (c *Conn) WorkingDirectory() (string, error) {
	if err := c.command(wire.OpGetCwd, nil); err != nil {
		return "", err
	}
	wd, err := wire.ReadBytes(c.conn)
	if err != nil {
		return "", err
	}
	return string(wd), nil
}

// Environ returns the shim's environment as NAME=VALUE entries, read at call
// time.
func (c *Conn) Environ() ([]string, error) {
	if err := c.command(wire.OpGetEnv, nil); err != nil {
		return nil, err
	}
	count, err := wire.ReadUint32(c.conn)
	if err != nil {
		return nil, err
	}
	env := make([]string, count)
	for i := range env {
		b, err := wire.ReadBytes(c.conn)
		if err != nil {
			return nil, err
		}
		env[i] = string(b)
	}
	return env, nil
}

// Exit terminates the shim process with the given exit code. The shim
// acknowledges before exiting; a nil return means the acknowledgment
// arrived and no further commands are possible on this connection.
func (c *Conn) Exit(code int32) error {
	return c.command(wire.OpExit, func() error {
		return wire.WriteInt32(c.conn, code)
	})
}

// CloseStdin closes the shim's stdin. Irreversible.
func (c *Conn) CloseStdin() error {
	return c.command(wire.OpCloseStdin, nil)
}

// CloseStdout closes the shim's stdout. Irreversible.
func (c *Conn) CloseStdout() error {
	return c.command(wire.OpCloseStdout, nil)
}

// CloseStderr closes the shim's stderr. Irreversible.
func (c *Conn) CloseStderr() error {
	return c.command(wire.OpCloseStderr, nil)
}
