package shim

import (
	"fmt"
	"io"
	"os"
)

// Stream identifies one of the three standard streams.
type Stream int

const (
	Stdin Stream = iota
	Stdout
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdin:
		return "stdin"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// Sys is the capability surface the command handlers run against. It unifies
// the platform-divergent OS interactions (non-blocking stdin reads, stream
// closing) behind one interface so the handlers stay platform-independent.
// There is one production implementation per target platform, plus fakes in
// tests.
type Sys interface {
	// Arguments returns the process argument vector, program name first.
	Arguments() []string

	// WorkingDirectory resolves the current working directory. Read fresh
	// on every call; it can change for the life of the process.
	WorkingDirectory() (string, error)

	// Environ enumerates the environment as NAME=VALUE entries, read
	// fresh on every call.
	Environ() ([]string, error)

	// PollStdin attempts a non-blocking read of up to max bytes from
	// stdin. It returns whatever is currently available, which may be
	// nothing, rather than waiting. io.EOF means the stream is closed or
	// exhausted; any other error is an OS-level read failure. It must not
	// leave stdin in non-blocking mode after returning.
	PollStdin(max int) ([]byte, error)

	// WriteStream writes b to stdout or stderr in full.
	WriteStream(s Stream, b []byte) error

	// CloseStream closes one of the standard streams. Irreversible for
	// this process.
	CloseStream(s Stream) error
}

// osSys is the production Sys backed by the real process state. The argv
// snapshot is captured once at construction; argv is immutable for the life
// of a process, unlike the environment and working directory.
type osSys struct {
	args []string
}

func newOSSys(args []string) *osSys {
	return &osSys{args: args}
}

func (s *osSys) Arguments() []string {
	return s.args
}

func (s *osSys) WorkingDirectory() (string, error) {
	return os.Getwd()
}

func (s *osSys) Environ() ([]string, error) {
	return os.Environ(), nil
}

func (s *osSys) WriteStream(st Stream, b []byte) error {
	f, err := streamFile(st)
	if err != nil {
		return err
	}
	n, err := f.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// CloseStream closes the stream's file. os.File writes are unbuffered, so
// there is nothing to flush ahead of the close for stdout and stderr.
func (s *osSys) CloseStream(st Stream) error {
	f, err := streamFile(st)
	if err != nil {
		return err
	}
	return f.Close()
}

func streamFile(st Stream) (*os.File, error) {
	switch st {
	case Stdin:
		return os.Stdin, nil
	case Stdout:
		return os.Stdout, nil
	case Stderr:
		return os.Stderr, nil
	default:
		return nil, fmt.Errorf("no file for %s", st)
	}
}
