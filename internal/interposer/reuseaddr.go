package interposer

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReuseAddr sets SO_REUSEADDR on the listening socket before bind,
// via net.ListenConfig.Control. This lets a server's listen_port be
// re-acquired immediately after release — without it, a just-closed
// listener can leave the port in TIME_WAIT and the next acquire_port
// intent would fail with "address already in use" (spec §9 Open
// Question: resolved in favor of SO_REUSEADDR).
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
