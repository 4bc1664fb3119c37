//go:build !(darwin || freebsd || openbsd)

package ftp

import (
	"errors"
	"syscall"
)

func setHighPortRange(syscall.RawConn, bool) error {
	return errors.ErrUnsupported
}
