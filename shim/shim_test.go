package shim

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guseggert/procproxy/wire"
)

// fakeSys is a scripted Sys for driving the handlers without touching the
// real process state.
type fakeSys struct {
	args []string
	wd   string
	env  []string

	wdErr  error
	envErr error

	pollData []byte
	pollErr  error
	polled   []int

	written  map[Stream][]byte
	writeErr error
	closed   []Stream
	closeErr error
}

func newFakeSys() *fakeSys {
	return &fakeSys{
		args:    []string{"proc", "--flag", "a b"},
		wd:      "/work/dir",
		env:     []string{"A=1", "B=two"},
		written: map[Stream][]byte{},
	}
}

func (f *fakeSys) Arguments() []string { return f.args }

func (f *fakeSys) WorkingDirectory() (string, error) { return f.wd, f.wdErr }

func (f *fakeSys) Environ() ([]string, error) { return f.env, f.envErr }

func (f *fakeSys) PollStdin(max int) ([]byte, error) {
	f.polled = append(f.polled, max)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	data := f.pollData
	if len(data) > max {
		data = data[:max]
	}
	return data, nil
}

func (f *fakeSys) WriteStream(s Stream, b []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written[s] = append(f.written[s], b...)
	return nil
}

func (f *fakeSys) CloseStream(s Stream) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, s)
	return nil
}

// startShim runs a shim against one end of a net.Pipe and hands back the
// controller end with the handshake already consumed. runErr receives Run's
// return value when the loop ends.
func startShim(t *testing.T, sys Sys, opts ...Option) (net.Conn, <-chan int, <-chan error) {
	t.Helper()

	client, server := net.Pipe()
	exitCh := make(chan int, 1)
	runErr := make(chan error, 1)

	opts = append([]Option{
		WithSys(sys),
		WithExitFunc(func(code int) { exitCh <- code }),
		WithDialer(func(port int) (net.Conn, error) { return client, nil }),
	}, opts...)
	s := New(Config{Port: 1, Token: "tok"}, opts...)

	go func() { runErr <- s.Run() }()
	t.Cleanup(func() { server.Close() })

	hs := make([]byte, wire.HandshakeLen)
	_, err := io.ReadFull(server, hs)
	require.NoError(t, err)
	field, err := wire.ParseHandshake(hs)
	require.NoError(t, err)
	require.Equal(t, wire.PadToken("tok"), field)

	return server, exitCh, runErr
}

func sendOp(t *testing.T, conn net.Conn, op wire.Opcode) {
	t.Helper()
	require.NoError(t, wire.WriteFull(conn, []byte{byte(op)}))
}

func TestGetArgs(t *testing.T) {
	sys := newFakeSys()
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpGetArgs)
	require.NoError(t, wire.ReadEnvelope(conn))

	count, err := wire.ReadUint32(conn)
	require.NoError(t, err)
	require.EqualValues(t, len(sys.args), count)

	var args []string
	for i := uint32(0); i < count; i++ {
		b, err := wire.ReadBytes(conn)
		require.NoError(t, err)
		args = append(args, string(b))
	}
	assert.Equal(t, sys.args, args)
}

func TestReadStdinNoData(t *testing.T) {
	sys := newFakeSys()
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpReadStdin)
	require.NoError(t, wire.WriteInt32(conn, 10))
	require.NoError(t, wire.ReadEnvelope(conn))

	n, err := wire.ReadInt32(conn)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.Equal(t, []int{10}, sys.polled)
}

func TestReadStdinNonPositiveMax(t *testing.T) {
	for _, max := range []int32{0, -5} {
		t.Run(fmt.Sprint(max), func(t *testing.T) {
			sys := newFakeSys()
			conn, _, _ := startShim(t, sys)

			sendOp(t, conn, wire.OpReadStdin)
			require.NoError(t, wire.WriteInt32(conn, max))
			require.NoError(t, wire.ReadEnvelope(conn))

			n, err := wire.ReadInt32(conn)
			require.NoError(t, err)
			assert.EqualValues(t, 0, n)
			assert.Empty(t, sys.polled, "stdin must not be touched for max_bytes <= 0")
		})
	}
}

func TestReadStdinData(t *testing.T) {
	sys := newFakeSys()
	sys.pollData = []byte("hello")
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpReadStdin)
	require.NoError(t, wire.WriteInt32(conn, 1024))
	require.NoError(t, wire.ReadEnvelope(conn))

	n, err := wire.ReadInt32(conn)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	data := make([]byte, n)
	_, err = io.ReadFull(conn, data)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReadStdinEndOfStream(t *testing.T) {
	sys := newFakeSys()
	sys.pollErr = io.EOF
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpReadStdin)
	require.NoError(t, wire.WriteInt32(conn, 10))
	require.NoError(t, wire.ReadEnvelope(conn))

	n, err := wire.ReadInt32(conn)
	require.NoError(t, err)
	assert.EqualValues(t, -1, n)
}

func TestReadStdinOSError(t *testing.T) {
	sys := newFakeSys()
	sys.pollErr = errors.New("bad file descriptor")
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpReadStdin)
	require.NoError(t, wire.WriteInt32(conn, 10))
	require.NoError(t, wire.ReadEnvelope(conn))

	n, err := wire.ReadInt32(conn)
	require.NoError(t, err)
	assert.EqualValues(t, -1, n)
}

func TestReadStdinOversizedBuffer(t *testing.T) {
	sys := newFakeSys()
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpReadStdin)
	require.NoError(t, wire.WriteInt32(conn, maxStdinBuffer+1))

	err := wire.ReadEnvelope(conn)
	var remote *wire.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "buffer too large")
	assert.Empty(t, sys.polled)
}

func TestWriteStdout(t *testing.T) {
	sys := newFakeSys()
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpWriteStdout)
	require.NoError(t, wire.WriteBytes(conn, []byte("output")))
	require.NoError(t, wire.ReadEnvelope(conn))
	assert.Equal(t, "output", string(sys.written[Stdout]))
}

func TestWriteStderr(t *testing.T) {
	sys := newFakeSys()
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpWriteStderr)
	require.NoError(t, wire.WriteBytes(conn, []byte("oops")))
	require.NoError(t, wire.ReadEnvelope(conn))
	assert.Equal(t, "oops", string(sys.written[Stderr]))
}

func TestWriteStdoutZeroLength(t *testing.T) {
	sys := newFakeSys()
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpWriteStdout)
	require.NoError(t, wire.WriteUint32(conn, 0))
	require.NoError(t, wire.ReadEnvelope(conn))
	assert.Empty(t, sys.written[Stdout])

	// The loop must still be healthy afterwards.
	sendOp(t, conn, wire.OpWriteStdout)
	require.NoError(t, wire.WriteBytes(conn, []byte("next")))
	require.NoError(t, wire.ReadEnvelope(conn))
	assert.Equal(t, "next", string(sys.written[Stdout]))
}

func TestWriteStdoutOSError(t *testing.T) {
	sys := newFakeSys()
	sys.writeErr = errors.New("file already closed")
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpWriteStdout)
	require.NoError(t, wire.WriteBytes(conn, []byte("data")))

	err := wire.ReadEnvelope(conn)
	var remote *wire.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "file already closed")

	// Operation-level failures must not kill the loop.
	sys.writeErr = nil
	sendOp(t, conn, wire.OpWriteStdout)
	require.NoError(t, wire.WriteBytes(conn, []byte("again")))
	require.NoError(t, wire.ReadEnvelope(conn))
}

func TestGetCwd(t *testing.T) {
	sys := newFakeSys()
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpGetCwd)
	require.NoError(t, wire.ReadEnvelope(conn))
	wd, err := wire.ReadBytes(conn)
	require.NoError(t, err)
	assert.Equal(t, "/work/dir", string(wd))
}

func TestGetCwdError(t *testing.T) {
	sys := newFakeSys()
	sys.wdErr = errors.New("no such file or directory")
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpGetCwd)
	err := wire.ReadEnvelope(conn)
	var remote *wire.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "working directory")
}

func TestGetEnv(t *testing.T) {
	sys := newFakeSys()
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpGetEnv)
	require.NoError(t, wire.ReadEnvelope(conn))

	count, err := wire.ReadUint32(conn)
	require.NoError(t, err)
	require.EqualValues(t, len(sys.env), count)

	var env []string
	for i := uint32(0); i < count; i++ {
		b, err := wire.ReadBytes(conn)
		require.NoError(t, err)
		env = append(env, string(b))
	}
	assert.Equal(t, sys.env, env)
}

func TestGetEnvError(t *testing.T) {
	sys := newFakeSys()
	sys.envErr = errors.New("environment unavailable")
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpGetEnv)
	err := wire.ReadEnvelope(conn)
	var remote *wire.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "environment")
}

func TestCloseStreams(t *testing.T) {
	sys := newFakeSys()
	conn, _, _ := startShim(t, sys)

	for _, op := range []wire.Opcode{wire.OpCloseStdin, wire.OpCloseStdout, wire.OpCloseStderr} {
		sendOp(t, conn, op)
		require.NoError(t, wire.ReadEnvelope(conn))
	}
	assert.Equal(t, []Stream{Stdin, Stdout, Stderr}, sys.closed)
}

func TestCloseStreamError(t *testing.T) {
	sys := newFakeSys()
	sys.closeErr = errors.New("permission denied")
	conn, _, _ := startShim(t, sys)

	sendOp(t, conn, wire.OpCloseStdout)
	err := wire.ReadEnvelope(conn)
	var remote *wire.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "closing stdout")
}

func TestExit(t *testing.T) {
	sys := newFakeSys()
	conn, exitCh, runErr := startShim(t, sys)

	sendOp(t, conn, wire.OpExit)
	require.NoError(t, wire.WriteInt32(conn, 3))

	// The success envelope arrives before the process terminates.
	require.NoError(t, wire.ReadEnvelope(conn))

	select {
	case code := <-exitCh:
		assert.Equal(t, 3, code)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestUnknownOpcodeTerminates(t *testing.T) {
	sys := newFakeSys()
	conn, _, runErr := startShim(t, sys)

	// 0x08 is reserved and unrecognized.
	require.NoError(t, wire.WriteFull(conn, []byte{0x08}))

	// The connection closes without any further bytes sent.
	var b [1]byte
	_, err := conn.Read(b[:])
	require.Error(t, err)

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestPeerCloseEndsLoopCleanly(t *testing.T) {
	sys := newFakeSys()
	conn, _, runErr := startShim(t, sys)

	require.NoError(t, conn.Close())

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestRunDialFailure(t *testing.T) {
	s := New(Config{Port: 1},
		WithDialer(func(port int) (net.Conn, error) {
			return nil, errors.New("connection refused")
		}),
	)
	err := s.Run()
	require.ErrorContains(t, err, "connecting to controller")
}

func TestRunHandshakeFailure(t *testing.T) {
	client, server := net.Pipe()
	server.Close()

	s := New(Config{Port: 1},
		WithDialer(func(port int) (net.Conn, error) { return client, nil }),
	)
	err := s.Run()
	require.ErrorContains(t, err, "sending handshake")
}
