package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-dronecan-link/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "dronecan-link")
	logging.Set(l)
	return l
}
