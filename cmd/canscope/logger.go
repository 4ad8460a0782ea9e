package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/canscope/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	if level == "off" {
		l := logging.Discard()
		logging.Set(l)
		return l
	}
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "canscope")
	logging.Set(l)
	return l
}
