//go:build !windows

package shim

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// PollStdin switches stdin to non-blocking mode for the duration of a single
// read and restores the prior mode before returning, so no mode change
// outlives one command.
func (s *osSys) PollStdin(max int) ([]byte, error) {
	fd := int(os.Stdin.Fd())

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	defer unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags)

	buf := make([]byte, max)
	n, err := unix.Read(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			// Nothing available right now.
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	return buf[:n], nil
}
