//go:build windows

package shim

import (
	"io"
	"os"

	"golang.org/x/sys/windows"
)

// PollStdin peeks at the stdin pipe and reads only what is already buffered,
// so the read below can never block. A failed peek means the handle is
// closed or broken, which callers treat the same as end of stream.
func (s *osSys) PollStdin(max int) ([]byte, error) {
	h := windows.Handle(os.Stdin.Fd())

	var avail uint32
	if err := windows.PeekNamedPipe(h, nil, 0, nil, &avail, nil); err != nil {
		return nil, io.EOF
	}
	if avail == 0 {
		return nil, nil
	}

	if int(avail) < max {
		max = int(avail)
	}
	buf := make([]byte, max)
	var read uint32
	if err := windows.ReadFile(h, buf, &read, nil); err != nil {
		return nil, err
	}
	if read == 0 {
		return nil, io.EOF
	}
	return buf[:read], nil
}
