package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/canscope/internal/api"
	"github.com/kstaniek/canscope/internal/metrics"
	"github.com/kstaniek/canscope/internal/monitor"
	"github.com/kstaniek/canscope/internal/session"
	"github.com/kstaniek/canscope/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("canscope %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	opener, err := newOpener(cfg, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		return
	}
	m := monitor.New(opener,
		monitor.WithHub(h),
		monitor.WithLogger(l),
		monitor.WithSessionOptions(
			session.WithReceiveTimeout(cfg.receiveTO),
			session.WithQueueCapacity(cfg.queueCap),
		),
	)
	if cfg.catalogPath != "" {
		if err := m.LoadCatalog(cfg.catalogPath); err != nil {
			l.Error("catalog_init_error", "path", cfg.catalogPath, "error", err)
			return
		}
	}
	if lb, ok := opener.(*transport.Loopback); ok {
		startLoopbackDemo(ctx, lb, cfg.iface, cfg.loopbackDemo, l, &wg)
	}
	superviseSession(ctx, m, cfg.reconnect, l, &wg)
	if cfg.autostart {
		if err := m.StartSession(cfg.iface); err != nil {
			// the API can still start it later
			l.Error("session_autostart_error", "interface", cfg.iface, "error", err)
		}
	}

	ln, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		l.Error("api_listen_error", "addr", cfg.listenAddr, "error", err)
		return
	}
	apiSrv := api.New(m, api.WithLogger(l)).HTTPServer(cfg.listenAddr)
	go func() {
		if err := apiSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("api_http_error", "error", err)
			cancel()
		}
	}()
	l.Info("api_listen", "addr", ln.Addr().String())

	if cfg.mdnsEnable {
		port := 0
		if ta, ok := ln.Addr().(*net.TCPAddr); ok {
			port = ta.Port
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else {
			l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
			defer cleanupMDNS()
		}
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	if m.IsAlive() {
		_ = m.StopSession()
	}
	for _, c := range h.Snapshot() {
		c.Close() // ends open event streams so Shutdown can drain
	}
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	_ = apiSrv.Shutdown(sctx)
	wg.Wait()
}
