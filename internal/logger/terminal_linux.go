//go:build linux

package logger

import (
	"syscall"
	"unsafe"
)

// tcgets is the Linux ioctl request for fetching terminal attributes.
const tcgets = 0x5401

// isTerminal reports whether fd refers to a terminal. Fetching the terminal
// attributes fails with ENOTTY on anything else.
func isTerminal(fd uintptr) bool {
	var attrs syscall.Termios
	_, _, errno := syscall.Syscall6(syscall.SYS_IOCTL, fd, tcgets,
		uintptr(unsafe.Pointer(&attrs)), 0, 0, 0)
	return errno == 0
}
