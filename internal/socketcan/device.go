//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/transport"
)

var (
	sysRead        = unix.Read
	setRecvTimeout = func(fd int, d time.Duration) error {
		tv := unix.NsecToTimeval(d.Nanoseconds())
		return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	}
)

// Device is a raw classic CAN socket bound to one interface.
type Device struct {
	fd      int
	iface   string
	timeout time.Duration // last SO_RCVTIMEO applied

	closeOnce sync.Once
	closeErr  error
}

// Opener opens SocketCAN interfaces by name (e.g. "can0", "vcan0").
type Opener struct{}

func (Opener) Open(name string) (transport.Conn, error) { return Open(name) }

func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd, iface: iface}, nil
}

func (d *Device) Close() error {
	d.closeOnce.Do(func() { d.closeErr = unix.Close(d.fd) })
	return d.closeErr
}

// Receive reads one classic CAN frame, waiting at most timeout in total.
// Error frames are skipped; remote requests are returned like data frames.
func (d *Device) Receive(timeout time.Duration) (can.Frame, error) {
	deadline := time.Now().Add(timeout)
	wait := timeout
	var buf [frameSize]byte
	for {
		if wait != d.timeout {
			if err := setRecvTimeout(d.fd, wait); err != nil {
				return can.Frame{}, fmt.Errorf("SO_RCVTIMEO: %w", err)
			}
			d.timeout = wait
		}
		n, err := sysRead(d.fd, buf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				return can.Frame{}, transport.ErrTimeout
			}
			if errors.Is(err, unix.EBADF) {
				return can.Frame{}, transport.ErrClosed
			}
			return can.Frame{}, fmt.Errorf("read(can@%s): %w", d.iface, err)
		}
		raw := buf[:n]
		if !isErrorFrame(raw) {
			return decodeFrame(raw)
		}
		wait = time.Until(deadline)
		if wait <= 0 {
			return can.Frame{}, transport.ErrTimeout
		}
	}
}

// Send writes one classic CAN frame to the raw CAN socket.
func (d *Device) Send(fr can.Frame) error {
	buf := encodeFrame(fr)
	if _, err := unix.Write(d.fd, buf[:]); err != nil {
		return fmt.Errorf("write(can@%s): %w", d.iface, err)
	}
	return nil
}
