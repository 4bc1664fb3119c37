//go:build darwin || freebsd || openbsd

package ftp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setHighPortRange asks the kernel to pick the listener's ephemeral port
// from the high range.
func setHighPortRange(rc syscall.RawConn, v6 bool) error {
	var serr error
	err := rc.Control(func(fd uintptr) {
		if v6 {
			serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_PORTRANGE, unix.IPV6_PORTRANGE_HIGH)
		} else {
			serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_PORTRANGE, unix.IP_PORTRANGE_HIGH)
		}
	})
	if err != nil {
		return err
	}
	return serr
}
