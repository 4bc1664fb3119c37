//go:build unix

package privsep

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Pair returns two connected ends of a new packet socket pair.
func Pair() (*net.UnixConn, *net.UnixConn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if errors.Is(err, unix.EPROTONOSUPPORT) || errors.Is(err, unix.EOPNOTSUPP) {
		fds, err = unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("privsep: socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	a, err := FileConn(os.NewFile(uintptr(fds[0]), "privsep-a"))
	if err != nil {
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := FileConn(os.NewFile(uintptr(fds[1]), "privsep-b"))
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

// PairFiles is like Pair but returns the ends as files, suitable for
// exec.Cmd.ExtraFiles.
func PairFiles() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if errors.Is(err, unix.EPROTONOSUPPORT) || errors.Is(err, unix.EOPNOTSUPP) {
		fds, err = unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("privsep: socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return os.NewFile(uintptr(fds[0]), "privsep-parent"), os.NewFile(uintptr(fds[1]), "privsep-child"), nil
}

// FileConn turns f into a *net.UnixConn. f is closed; the connection owns
// a duplicate of its descriptor.
func FileConn(f *os.File) (*net.UnixConn, error) {
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("privsep: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("privsep: %s is not a unix socket", f.Name())
	}
	return uc, nil
}
