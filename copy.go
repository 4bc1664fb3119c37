package fetch

import (
	"errors"
	"io"
)

// CopyBufferSize is the chunk size used by Copy.
const CopyBufferSize = 128 * 1024

// Copy streams src into dst in chunks of at most CopyBufferSize bytes,
// adding each chunk's length to u.Offset before it is written. It returns
// nil when src reaches EOF.
func Copy(u *URL, dst io.Writer, src io.Reader) error {
	buf := make([]byte, CopyBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			u.Offset += int64(n)
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return &TransferError{Op: "write", Offset: u.Offset, Err: werr}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return &TransferError{Op: "read", Offset: u.Offset, Err: rerr}
		}
	}
}
