package main

import (
	"log/slog"

	"github.com/kstaniek/canscope/internal/hub"
)

func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.streamBuffer
	p, ok := hub.ParsePolicy(cfg.streamPolicy)
	if !ok {
		l.Warn("unknown_stream_policy", "policy", cfg.streamPolicy, "used", p.String())
	}
	h.Policy = p
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("stream_config", "policy", h.Policy.String(), "buffer", h.OutBufSize)
	return h
}
