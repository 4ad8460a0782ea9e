package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/canscope/internal/cnl"
	"github.com/kstaniek/canscope/internal/serial"
	"github.com/kstaniek/canscope/internal/socketcan"
	"github.com/kstaniek/canscope/internal/transport"
)

const (
	backendSocketCAN  = "socketcan"
	backendSerial     = "serial"
	backendCannelloni = "cannelloni"
	backendLoopback   = "loopback"
)

// newOpener selects the transport backend. The session interface name is
// interpreted by it: a CAN netdev, a serial device path, a host:port or a loopback bus.
func newOpener(cfg *appConfig, l *slog.Logger) (transport.Opener, error) {
	var o transport.Opener
	switch cfg.backend {
	case backendSocketCAN:
		o = socketcan.Opener{}
	case backendSerial:
		o = serial.Opener{Baud: cfg.baud, ReadTimeout: cfg.serialReadTO}
	case backendCannelloni:
		o = cnl.Opener{DialTimeout: cfg.dialTO, HandshakeTimeout: cfg.handshakeTO}
	case backendLoopback:
		o = transport.NewLoopback()
	default:
		return nil, fmt.Errorf("unknown backend %q (use socketcan|serial|cannelloni|loopback)", cfg.backend)
	}
	l.Info("backend_selected", "backend", cfg.backend, "interface", cfg.iface)
	return o, nil
}
